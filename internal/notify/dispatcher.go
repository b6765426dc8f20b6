package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"epireport/internal/metrics"
	"epireport/internal/model"
)

// RecipientResolver returns who is told about an escalated alert.
type RecipientResolver interface {
	AlertRecipients(ctx context.Context, projectID int64, healthRiskCode int) ([]model.AlertRecipient, error)
}

// Dispatcher delivers the messages a committed unit of work produced. It is
// best effort: failures are logged and counted, never retried or returned.
type Dispatcher struct {
	publisher  Publisher
	recipients RecipientResolver
	logger     *slog.Logger
	metrics    *metrics.Store
	recent     *Recent
	timeout    time.Duration
}

func NewDispatcher(publisher Publisher, recipients RecipientResolver, logger *slog.Logger, metricsStore *metrics.Store, recent *Recent, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if recent == nil {
		recent = NewRecent(0)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		publisher:  publisher,
		recipients: recipients,
		logger:     logger,
		metrics:    metricsStore,
		recent:     recent,
		timeout:    timeout,
	}
}

func (d *Dispatcher) Recent() *Recent {
	return d.recent
}

// Dispatch delivers msgs in order. It outlives cancellation of ctx so that a
// client disconnect after commit does not drop notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		err := d.deliver(base, &msg)
		d.metrics.Notification(string(msg.Kind), err)
		delivery := Delivery{Message: msg, At: time.Now().UTC()}
		if err != nil {
			delivery.Error = err.Error()
			d.logger.Warn("notification failed", "id", msg.ID, "kind", msg.Kind, "key", msg.Key(), "err", err)
		} else {
			d.logger.Debug("notification sent", "id", msg.ID, "kind", msg.Kind, "key", msg.Key())
		}
		d.recent.Add(delivery)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if esc := msg.Escalation; esc != nil && esc.Recipients == nil && d.recipients != nil {
		recipients, err := d.recipients.AlertRecipients(ctx, esc.ProjectID, esc.HealthRiskCode)
		if err != nil {
			return fmt.Errorf("resolve recipients: %w", err)
		}
		esc.Recipients = recipients
		if len(recipients) == 0 {
			d.logger.Warn("escalated alert has no recipients", "alert_id", esc.AlertID, "project_id", esc.ProjectID)
		}
	}
	return d.publisher.Publish(ctx, *msg)
}

func (d *Dispatcher) Close() error {
	return d.publisher.Close()
}
