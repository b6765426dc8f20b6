package review

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epireport/internal/config"
	"epireport/internal/engine"
	"epireport/internal/logging"
	"epireport/internal/metrics"
	"epireport/internal/model"
	"epireport/internal/notify"
	"epireport/internal/storage"
	"epireport/internal/storage/storagetest"
)

type capture struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *capture) Publish(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *capture) Close() error { return nil }

// escalatedAlert stores count reports that cluster into one alert.
func escalatedAlert(t *testing.T, st storage.Store, count int) *model.Alert {
	t.Helper()
	ctx := context.Background()
	phr, err := st.ProjectHealthRiskByID(ctx, 1)
	require.NoError(t, err)
	eng := engine.NewEngine(config.DefaultConfig(), logging.Discard(), nil)
	at := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	var alertID int64
	for i := 0; i < count; i++ {
		err := st.InTx(ctx, func(tx storage.Tx) error {
			r := &model.Report{
				DataCollectorID:     1,
				ProjectHealthRiskID: phr.ID,
				ReportType:          model.ReportTypeSingle,
				Status:              model.ReportStatusNew,
				ReceivedAt:          at.Add(time.Duration(i) * time.Hour),
				PhoneNumber:         storagetest.Phone,
				ReportedCaseCount:   1,
			}
			if err := tx.InsertReport(ctx, r); err != nil {
				return err
			}
			res, err := eng.ReportAdded(ctx, tx, r, *phr)
			if res.Alert != nil {
				alertID = res.Alert.ID
			}
			return err
		})
		require.NoError(t, err)
	}
	alert, err := st.GetAlert(ctx, alertID)
	require.NoError(t, err)
	return alert
}

func newService(t *testing.T, rule *model.AlertRule) (*Service, storage.Store, *capture) {
	st := storagetest.OpenSeeded(t, rule)
	pub := &capture{}
	d := notify.NewDispatcher(pub, st, logging.Discard(), metrics.NewStore(), notify.NewRecent(10), time.Second)
	return NewService(st, d, metrics.NewStore(), logging.Discard()), st, pub
}

func TestAcceptAndDismiss(t *testing.T) {
	ctx := context.Background()
	svc, st, pub := newService(t, &model.AlertRule{CountThreshold: 2, DaysThreshold: 7, KilometersThreshold: 5})
	alert := escalatedAlert(t, st, 2)
	require.Equal(t, model.AlertStatusEscalated, alert.Status)
	first, second := alert.Reports[0].ID, alert.Reports[1].ID

	updated, err := svc.AcceptReport(ctx, alert.ID, first)
	require.NoError(t, err)
	require.Equal(t, model.ReportStatusAccepted, updated.Reports[0].Status)
	require.Empty(t, pub.sent)

	_, err = svc.DismissReport(ctx, alert.ID, second)
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	require.Equal(t, notify.KindDismissal, pub.sent[0].Kind)
	require.Equal(t, second, pub.sent[0].Dismissal.ReportID)

	report, err := st.GetReport(ctx, second)
	require.NoError(t, err)
	require.Equal(t, model.ReportStatusRejected, report.Status)

	_, err = svc.AcceptReport(ctx, alert.ID, second)
	require.ErrorIs(t, err, ErrReportStatus)

	status, err := svc.AlertStatus(ctx, alert.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReportStatusAccepted, status.Reports[0].Status)
	require.Equal(t, model.ReportStatusRejected, status.Reports[1].Status)
}

func TestDecisionPreconditions(t *testing.T) {
	ctx := context.Background()
	svc, st, pub := newService(t, &model.AlertRule{CountThreshold: 3, DaysThreshold: 7, KilometersThreshold: 5})
	pending := escalatedAlert(t, st, 1)
	require.Equal(t, model.AlertStatusPending, pending.Status)

	_, err := svc.AcceptReport(ctx, pending.ID, pending.Reports[0].ID)
	require.ErrorIs(t, err, ErrAlertStatus)

	_, err = svc.DismissReport(ctx, 9999, 1)
	require.ErrorIs(t, err, ErrAlertNotFound)

	_, err = svc.AlertStatus(ctx, 9999)
	require.ErrorIs(t, err, ErrAlertNotFound)
	require.Empty(t, pub.sent)
}

func TestReportMustBelongToAlert(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, &model.AlertRule{CountThreshold: 1, DaysThreshold: 7, KilometersThreshold: 5})
	alert := escalatedAlert(t, st, 1)
	_, err := svc.DismissReport(ctx, alert.ID, alert.Reports[0].ID+100)
	require.ErrorIs(t, err, ErrReportNotInAlert)
}
