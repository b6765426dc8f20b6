package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"epireport/internal/config"
	"epireport/internal/metrics"
	"epireport/internal/model"
)

// Tx is the part of a storage transaction the engine writes through.
type Tx interface {
	OpenAlerts(ctx context.Context, projectHealthRiskID int64) ([]model.Alert, error)
	InsertAlert(ctx context.Context, a *model.Alert) error
	AddAlertReport(ctx context.Context, ar model.AlertReport) error
	SetAlertStatus(ctx context.Context, alertID int64, status model.AlertStatus, at time.Time) error
	SetReportStatuses(ctx context.Context, ids []int64, status model.ReportStatus) error
}

// Result describes what happened to the alert a report was attached to.
// Alert is nil when the report did not take part in alerting.
type Result struct {
	Alert          *model.Alert
	Created        bool
	NewlyEscalated bool
}

type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Store
	cfg     atomic.Value
	now     func() time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:  logger,
		metrics: metricsStore,
		now:     func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// ReportAdded attaches a freshly inserted report to an alert of its project
// health risk, creating or escalating the alert as needed. It must run in
// the same transaction that inserted the report. report.Status is updated
// in place when the report becomes Pending.
func (e *Engine) ReportAdded(ctx context.Context, tx Tx, report *model.Report, phr model.ProjectHealthRisk) (Result, error) {
	if !e.config().Alerting.Enabled || phr.AlertRule == nil || report.IsTraining {
		return Result{}, nil
	}
	rule := *phr.AlertRule
	open, err := tx.OpenAlerts(ctx, phr.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load open alerts: %w", err)
	}

	var (
		alert   *model.Alert
		created bool
	)
	for i := range open {
		if joins(open[i], *report, rule) {
			alert = &open[i]
			break
		}
	}
	now := e.now()
	if alert == nil {
		alert = &model.Alert{
			ProjectHealthRiskID: phr.ID,
			Status:              model.AlertStatusPending,
			CreatedAt:           now,
		}
		if err := tx.InsertAlert(ctx, alert); err != nil {
			return Result{}, err
		}
		created = true
		e.metrics.AlertEvent("created")
	} else {
		e.metrics.AlertEvent("joined")
	}

	if alert.Status == model.AlertStatusEscalated && report.Status == model.ReportStatusNew {
		if err := tx.SetReportStatuses(ctx, []int64{report.ID}, model.ReportStatusPending); err != nil {
			return Result{}, err
		}
		report.Status = model.ReportStatusPending
	}
	if err := tx.AddAlertReport(ctx, model.AlertReport{AlertID: alert.ID, ReportID: report.ID, Status: report.Status}); err != nil {
		return Result{}, err
	}
	alert.Reports = append(alert.Reports, *report)

	result := Result{Alert: alert, Created: created}
	if alert.Status == model.AlertStatusPending && alert.ActiveReports() >= rule.CountThreshold {
		if err := e.escalate(ctx, tx, alert, now); err != nil {
			return Result{}, err
		}
		report.Status = model.ReportStatusPending
		result.NewlyEscalated = true
	}

	e.logger.Debug("report attached to alert",
		"alert_id", alert.ID,
		"report_id", report.ID,
		"project_health_risk_id", phr.ID,
		"members", len(alert.Reports),
		"status", alert.Status,
		"created", created,
	)
	return result, nil
}

func (e *Engine) escalate(ctx context.Context, tx Tx, alert *model.Alert, at time.Time) error {
	if err := tx.SetAlertStatus(ctx, alert.ID, model.AlertStatusEscalated, at); err != nil {
		return err
	}
	ids := make([]int64, 0, len(alert.Reports))
	for i := range alert.Reports {
		if alert.Reports[i].Status == model.ReportStatusNew {
			ids = append(ids, alert.Reports[i].ID)
			alert.Reports[i].Status = model.ReportStatusPending
		}
	}
	if err := tx.SetReportStatuses(ctx, ids, model.ReportStatusPending); err != nil {
		return err
	}
	alert.Status = model.AlertStatusEscalated
	escalatedAt := at
	alert.EscalatedAt = &escalatedAt
	e.metrics.AlertEvent("escalated")
	e.logger.Info("alert escalated",
		"alert_id", alert.ID,
		"project_health_risk_id", alert.ProjectHealthRiskID,
		"members", len(alert.Reports),
	)
	return nil
}
