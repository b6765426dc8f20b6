package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"epireport/internal/config"
	"epireport/internal/model"
	"epireport/internal/validation"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict wraps serialization failures and deadlocks. The whole unit
	// of work is retried from the transaction boundary.
	ErrConflict = errors.New("transaction conflict")
)

// Store is the persistent state of the pipeline. Every write that belongs to
// one inbound message goes through InTx.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Driver() string

	// InTx runs fn inside one transaction, retrying the whole function on
	// ErrConflict up to the configured number of attempts.
	InTx(ctx context.Context, fn func(Tx) error) error
	// RecordRawReport stores a raw report on its own. Used as the audit
	// fallback when the full unit of work could not be committed.
	RecordRawReport(ctx context.Context, raw *model.RawReport) error

	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	GetReport(ctx context.Context, id int64) (*model.Report, error)
	ListRawReports(ctx context.Context, limit int) ([]model.RawReport, error)
	AlertRecipients(ctx context.Context, projectID int64, healthRiskCode int) ([]model.AlertRecipient, error)
	ProjectHealthRiskByID(ctx context.Context, id int64) (*model.ProjectHealthRisk, error)
	Stats(ctx context.Context) (Stats, error)

	Seed(ctx context.Context, f Fixtures) error
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	validation.Lookup

	InsertRawReport(ctx context.Context, raw *model.RawReport) error
	LinkRawReport(ctx context.Context, rawID, reportID int64) error
	InsertReport(ctx context.Context, r *model.Report) error
	GetReport(ctx context.Context, id int64) (*model.Report, error)
	SetReportStatuses(ctx context.Context, ids []int64, status model.ReportStatus) error

	// OpenAlerts returns the Pending and Escalated alerts of a project health
	// risk, oldest first, with their member reports loaded.
	OpenAlerts(ctx context.Context, projectHealthRiskID int64) ([]model.Alert, error)
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	InsertAlert(ctx context.Context, a *model.Alert) error
	AddAlertReport(ctx context.Context, ar model.AlertReport) error
	// SetAlertStatus records the transition time in escalated_at or
	// closed_at depending on the target status.
	SetAlertStatus(ctx context.Context, alertID int64, status model.AlertStatus, at time.Time) error
}

type AlertFilter struct {
	Status              model.AlertStatus
	ProjectHealthRiskID int64
	Limit               int
}

type Stats struct {
	RawReports       int64                       `json:"raw_reports"`
	FailedRawReports int64                       `json:"failed_raw_reports"`
	Reports          int64                       `json:"reports"`
	Alerts           map[model.AlertStatus]int64 `json:"alerts"`
}

// Fixtures is the reference data loaded by the seed command and by tests.
type Fixtures struct {
	NationalSocieties  []model.NationalSociety   `json:"national_societies" yaml:"national_societies"`
	Gateways           []model.GatewaySetting    `json:"gateways" yaml:"gateways"`
	Projects           []model.Project           `json:"projects" yaml:"projects"`
	DataCollectors     []model.DataCollector     `json:"data_collectors" yaml:"data_collectors"`
	ProjectHealthRisks []model.ProjectHealthRisk `json:"project_health_risks" yaml:"project_health_risks"`
	AlertRecipients    []model.AlertRecipient    `json:"alert_recipients" yaml:"alert_recipients"`
}

func NewStore(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	var (
		s   *sqlStore
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		s, err = openSQLite(cfg.DSN)
	case "postgres", "postgresql":
		s, err = openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries > 0 {
		s.maxRetries = cfg.MaxRetries
	}
	if logger != nil {
		s.logger = logger
	}
	return s, nil
}

// dialect carries what differs between the supported databases.
type dialect struct {
	name       string
	numbered   bool
	schema     []string
	txOptions  *sql.TxOptions
	isConflict func(error) bool
}

type sqlStore struct {
	db         *sql.DB
	d          dialect
	maxRetries int
	logger     *slog.Logger
}

func (s *sqlStore) Driver() string {
	return s.d.name
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) InTx(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt*attempt) * 5 * time.Millisecond
			s.logger.Debug("retrying transaction", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = s.runTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}

func (s *sqlStore) runTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, s.d.txOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&sqlTx{q: queries{db: tx, d: s.d}}); err != nil {
		return s.classify(err)
	}
	if err = tx.Commit(); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *sqlStore) classify(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	if s.d.isConflict != nil && s.d.isConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *sqlStore) q() queries {
	return queries{db: s.db, d: s.d}
}

func (s *sqlStore) RecordRawReport(ctx context.Context, raw *model.RawReport) error {
	return s.InTx(ctx, func(tx Tx) error {
		return tx.InsertRawReport(ctx, raw)
	})
}

func (s *sqlStore) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	return s.q().getAlert(ctx, id)
}

func (s *sqlStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	return s.q().listAlerts(ctx, filter)
}

func (s *sqlStore) GetReport(ctx context.Context, id int64) (*model.Report, error) {
	return s.q().getReport(ctx, id)
}

func (s *sqlStore) ListRawReports(ctx context.Context, limit int) ([]model.RawReport, error) {
	return s.q().listRawReports(ctx, limit)
}

func (s *sqlStore) AlertRecipients(ctx context.Context, projectID int64, healthRiskCode int) ([]model.AlertRecipient, error) {
	return s.q().alertRecipients(ctx, projectID, healthRiskCode)
}

func (s *sqlStore) ProjectHealthRiskByID(ctx context.Context, id int64) (*model.ProjectHealthRisk, error) {
	phr, err := s.q().projectHealthRisk(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if phr == nil {
		return nil, ErrNotFound
	}
	return phr, nil
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	return s.q().stats(ctx)
}

func (s *sqlStore) Seed(ctx context.Context, f Fixtures) error {
	return s.InTx(ctx, func(tx Tx) error {
		return tx.(*sqlTx).q.seed(ctx, f)
	})
}

// rebind rewrites ? placeholders into $n for drivers that need numbered ones.
func rebind(numbered bool, query string) string {
	if !numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
