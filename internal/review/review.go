// Package review applies reviewer decisions to the reports of escalated
// alerts.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"epireport/internal/metrics"
	"epireport/internal/model"
	"epireport/internal/notify"
	"epireport/internal/storage"
)

var (
	ErrAlertNotFound    = errors.New("alert not found")
	ErrReportNotInAlert = errors.New("report is not a member of the alert")
	ErrAlertStatus      = errors.New("alert is not escalated")
	ErrReportStatus     = errors.New("report is not pending review")
)

type Service struct {
	store      storage.Store
	dispatcher *notify.Dispatcher
	metrics    *metrics.Store
	logger     *slog.Logger
}

func NewService(store storage.Store, dispatcher *notify.Dispatcher, metricsStore *metrics.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, dispatcher: dispatcher, metrics: metricsStore, logger: logger}
}

// AcceptReport marks a pending member of an escalated alert as Accepted.
func (s *Service) AcceptReport(ctx context.Context, alertID, reportID int64) (*model.Alert, error) {
	alert, err := s.decide(ctx, alertID, reportID, model.ReportStatusAccepted)
	if err != nil {
		return nil, err
	}
	s.metrics.AlertEvent("report_accepted")
	s.logger.Info("report accepted", "alert_id", alertID, "report_id", reportID)
	return alert, nil
}

// DismissReport marks a pending member of an escalated alert as Rejected and
// queues the dismissal for downstream processing once committed.
func (s *Service) DismissReport(ctx context.Context, alertID, reportID int64) (*model.Alert, error) {
	alert, err := s.decide(ctx, alertID, reportID, model.ReportStatusRejected)
	if err != nil {
		return nil, err
	}
	s.metrics.AlertEvent("report_dismissed")
	s.logger.Info("report dismissed", "alert_id", alertID, "report_id", reportID)
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, []notify.Message{notify.NewDismissal(alertID, reportID)})
	}
	return alert, nil
}

func (s *Service) AlertStatus(ctx context.Context, alertID int64) (*model.Alert, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAlertNotFound
	}
	return alert, err
}

func (s *Service) decide(ctx context.Context, alertID, reportID int64, status model.ReportStatus) (*model.Alert, error) {
	var out *model.Alert
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		alert, err := tx.GetAlert(ctx, alertID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAlertNotFound
		}
		if err != nil {
			return err
		}
		if alert.Status != model.AlertStatusEscalated {
			return fmt.Errorf("%w: %s", ErrAlertStatus, alert.Status)
		}
		idx := -1
		for i, r := range alert.Reports {
			if r.ID == reportID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrReportNotInAlert
		}
		if current := alert.Reports[idx].Status; current != model.ReportStatusPending {
			return fmt.Errorf("%w: %s", ErrReportStatus, current)
		}
		if err := tx.SetReportStatuses(ctx, []int64{reportID}, status); err != nil {
			return err
		}
		alert.Reports[idx].Status = status
		out = alert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
