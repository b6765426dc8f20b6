package storage

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const defaultSQLiteDSN = "file:epireport.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

// openSQLite opens a single-writer database. Transactions begin IMMEDIATE, so
// two units of work touching the same alert are strictly ordered.
func openSQLite(dsn string) (*sqlStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqlStore{
		db: db,
		d: dialect{
			name:       "sqlite",
			schema:     sqliteSchema,
			isConflict: sqliteConflict,
		},
		maxRetries: 5,
		logger:     slog.Default(),
	}, nil
}

func sqliteConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS national_societies (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		language_code TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE TABLE IF NOT EXISTS gateway_settings (
		id INTEGER PRIMARY KEY,
		api_key TEXT NOT NULL UNIQUE,
		gateway_type TEXT NOT NULL,
		national_society_id INTEGER NOT NULL REFERENCES national_societies(id),
		email_address TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY,
		national_society_id INTEGER NOT NULL REFERENCES national_societies(id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_collectors (
		id INTEGER PRIMARY KEY,
		project_id INTEGER NOT NULL REFERENCES projects(id),
		display_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL,
		additional_phone_number TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		is_in_training_mode BOOLEAN NOT NULL DEFAULT 0,
		village TEXT NOT NULL DEFAULT '',
		zone TEXT NOT NULL DEFAULT '',
		lat REAL NOT NULL DEFAULT 0,
		lon REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_collectors_phone ON data_collectors(phone_number)`,
	`CREATE INDEX IF NOT EXISTS idx_data_collectors_additional_phone ON data_collectors(additional_phone_number)`,
	`CREATE TABLE IF NOT EXISTS project_health_risks (
		id INTEGER PRIMARY KEY,
		project_id INTEGER NOT NULL REFERENCES projects(id),
		health_risk_code INTEGER NOT NULL,
		health_risk_name TEXT NOT NULL DEFAULT '',
		health_risk_type TEXT NOT NULL,
		feedback_message TEXT NOT NULL DEFAULT '',
		alert_count_threshold INTEGER,
		alert_days_threshold INTEGER,
		alert_kilometers_threshold REAL,
		UNIQUE (project_id, health_risk_code)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_recipients (
		id INTEGER PRIMARY KEY,
		project_id INTEGER NOT NULL REFERENCES projects(id),
		health_risk_code INTEGER,
		role TEXT NOT NULL DEFAULT '',
		organization TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data_collector_id INTEGER NOT NULL REFERENCES data_collectors(id),
		project_health_risk_id INTEGER NOT NULL REFERENCES project_health_risks(id),
		report_type TEXT NOT NULL,
		status TEXT NOT NULL,
		is_training BOOLEAN NOT NULL DEFAULT 0,
		received_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		epi_week INTEGER NOT NULL,
		epi_year INTEGER NOT NULL,
		phone_number TEXT NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		gateway_timestamp TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		text TEXT NOT NULL,
		incoming_message_id INTEGER,
		outgoing_message_id INTEGER,
		modem_number INTEGER,
		api_key TEXT NOT NULL,
		national_society_id INTEGER,
		data_collector_id INTEGER,
		is_training BOOLEAN NOT NULL DEFAULT 0,
		report_id INTEGER REFERENCES reports(id),
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_health_risk_id INTEGER NOT NULL REFERENCES project_health_risks(id),
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		escalated_at DATETIME,
		closed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(project_health_risk_id, status)`,
	`CREATE TABLE IF NOT EXISTS alert_reports (
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		report_id INTEGER NOT NULL REFERENCES reports(id),
		status TEXT NOT NULL,
		PRIMARY KEY (alert_id, report_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_reports_report ON alert_reports(report_id)`,
}
