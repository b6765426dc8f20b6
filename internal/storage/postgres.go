package storage

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// openPostgres opens a pgx-backed pool. Units of work run SERIALIZABLE and
// serialization failures surface as ErrConflict.
func openPostgres(dsn string) (*sqlStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/epireport?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{
		db: db,
		d: dialect{
			name:       "postgres",
			numbered:   true,
			schema:     postgresSchema,
			txOptions:  &sql.TxOptions{Isolation: sql.LevelSerializable},
			isConflict: postgresConflict,
		},
		maxRetries: 5,
		logger:     slog.Default(),
	}, nil
}

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func postgresConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS national_societies (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		language_code TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE TABLE IF NOT EXISTS gateway_settings (
		id BIGINT PRIMARY KEY,
		api_key TEXT NOT NULL UNIQUE,
		gateway_type TEXT NOT NULL,
		national_society_id BIGINT NOT NULL REFERENCES national_societies(id),
		email_address TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id BIGINT PRIMARY KEY,
		national_society_id BIGINT NOT NULL REFERENCES national_societies(id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_collectors (
		id BIGINT PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id),
		display_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL,
		additional_phone_number TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		is_in_training_mode BOOLEAN NOT NULL DEFAULT FALSE,
		village TEXT NOT NULL DEFAULT '',
		zone TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL DEFAULT 0,
		lon DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_collectors_phone ON data_collectors(phone_number)`,
	`CREATE INDEX IF NOT EXISTS idx_data_collectors_additional_phone ON data_collectors(additional_phone_number)`,
	`CREATE TABLE IF NOT EXISTS project_health_risks (
		id BIGINT PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id),
		health_risk_code INTEGER NOT NULL,
		health_risk_name TEXT NOT NULL DEFAULT '',
		health_risk_type TEXT NOT NULL,
		feedback_message TEXT NOT NULL DEFAULT '',
		alert_count_threshold INTEGER,
		alert_days_threshold INTEGER,
		alert_kilometers_threshold DOUBLE PRECISION,
		UNIQUE (project_id, health_risk_code)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_recipients (
		id BIGINT PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id),
		health_risk_code INTEGER,
		role TEXT NOT NULL DEFAULT '',
		organization TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id BIGSERIAL PRIMARY KEY,
		data_collector_id BIGINT NOT NULL REFERENCES data_collectors(id),
		project_health_risk_id BIGINT NOT NULL REFERENCES project_health_risks(id),
		report_type TEXT NOT NULL,
		status TEXT NOT NULL,
		is_training BOOLEAN NOT NULL DEFAULT FALSE,
		received_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		epi_week INTEGER NOT NULL,
		epi_year INTEGER NOT NULL,
		phone_number TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		village TEXT NOT NULL DEFAULT '',
		zone TEXT NOT NULL DEFAULT '',
		males_below_five INTEGER NOT NULL DEFAULT 0,
		males_at_least_five INTEGER NOT NULL DEFAULT 0,
		females_below_five INTEGER NOT NULL DEFAULT 0,
		females_at_least_five INTEGER NOT NULL DEFAULT 0,
		referred_count INTEGER NOT NULL DEFAULT 0,
		death_count INTEGER NOT NULL DEFAULT 0,
		from_other_villages_count INTEGER NOT NULL DEFAULT 0,
		reported_case_count INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raw_reports (
		id BIGSERIAL PRIMARY KEY,
		sender TEXT NOT NULL,
		gateway_timestamp TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		text TEXT NOT NULL,
		incoming_message_id INTEGER,
		outgoing_message_id INTEGER,
		modem_number INTEGER,
		api_key TEXT NOT NULL,
		national_society_id BIGINT,
		data_collector_id BIGINT,
		is_training BOOLEAN NOT NULL DEFAULT FALSE,
		report_id BIGINT REFERENCES reports(id),
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		project_health_risk_id BIGINT NOT NULL REFERENCES project_health_risks(id),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		escalated_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(project_health_risk_id, status)`,
	`CREATE TABLE IF NOT EXISTS alert_reports (
		alert_id BIGINT NOT NULL REFERENCES alerts(id),
		report_id BIGINT NOT NULL REFERENCES reports(id),
		status TEXT NOT NULL,
		PRIMARY KEY (alert_id, report_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_reports_report ON alert_reports(report_id)`,
}
