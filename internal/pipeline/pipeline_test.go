package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
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

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.Kind)
	}
	return out
}

func newPipeline(t *testing.T, st storage.Store) (*Pipeline, *recordingPublisher) {
	t.Helper()
	cfg := config.DefaultConfig()
	logger := logging.Discard()
	m := metrics.NewStore()
	templates, err := notify.LoadTemplates("en", "")
	require.NoError(t, err)
	pub := &recordingPublisher{}
	dispatcher := notify.NewDispatcher(pub, st, logger, m, notify.NewRecent(50), time.Second)
	p := New(cfg, st, engine.NewEngine(cfg, logger, m), templates, dispatcher, m, logger)
	p.now = func() time.Time { return now }
	return p, pub
}

func payload(sender, text string) model.GatewayPayload {
	return model.GatewayPayload{Sender: sender, Timestamp: "20240310115500", Text: text, APIKey: storagetest.APIKey}
}

func TestAggregateReportEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	p, pub := newPipeline(t, st)

	res, err := p.Handle(ctx, payload(storagetest.Phone, "03#1#0#0#2"))
	require.NoError(t, err)
	require.Empty(t, res.ErrorKind)
	require.NotZero(t, res.ReportID)
	require.Zero(t, res.AlertID)

	report, err := st.GetReport(ctx, res.ReportID)
	require.NoError(t, err)
	require.Equal(t, 3, report.ReportedCaseCount)
	require.Equal(t, model.ReportStatusNew, report.Status)
	require.Equal(t, model.ReportTypeAggregate, report.ReportType)
	require.Equal(t, 11, report.EpiWeek)
	require.Equal(t, 2024, report.EpiYear)
	require.True(t, report.ReceivedAt.Equal(time.Date(2024, 3, 10, 11, 55, 0, 0, time.UTC)))

	raws, err := st.ListRawReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.Equal(t, res.ReportID, *raws[0].ReportID)
	require.Equal(t, int64(1), *raws[0].DataCollectorID)

	alerts, err := st.ListAlerts(ctx, storage.AlertFilter{})
	require.NoError(t, err)
	require.Empty(t, alerts)

	require.Equal(t, []notify.Kind{notify.KindFeedback}, pub.kinds())
	require.Equal(t, "Thank you, please isolate the patient.", pub.sent[0].Feedback.Body)
	require.Equal(t, []string{storagetest.Phone}, pub.sent[0].Feedback.PhoneNumbers)
}

func TestNonHumanReportCountsOne(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	p, pub := newPipeline(t, st)

	res, err := p.Handle(ctx, payload(storagetest.Phone, "7"))
	require.NoError(t, err)
	require.Empty(t, res.ErrorKind)
	report, err := st.GetReport(ctx, res.ReportID)
	require.NoError(t, err)
	require.Equal(t, 1, report.ReportedCaseCount)
	require.Equal(t, model.ReportTypeNonHuman, report.ReportType)
	require.Empty(t, pub.kinds(), "health risk without feedback message")
}

func TestFailuresKeepRawReport(t *testing.T) {
	cases := []struct {
		name     string
		payload  model.GatewayPayload
		kind     model.ErrorKind
		feedback bool
	}{
		{"format", payload(storagetest.Phone, "not a report"), model.ErrorFormat, true},
		{"unknown risk", payload(storagetest.Phone, "42#1#1"), model.ErrorHealthRiskNotFound, true},
		{"combination", payload(storagetest.PointPhone, "3#1#1"), model.ErrorUnsupportedCombination, true},
		{"unknown sender", payload("+19999999999", "3#1#1"), model.ErrorDataCollectorNotFound, false},
		{"bad key", model.GatewayPayload{Sender: storagetest.Phone, Text: "3#1#1", Timestamp: "20240310115500", APIKey: "nope"}, model.ErrorGatewayInvalid, false},
		{"future", model.GatewayPayload{Sender: storagetest.Phone, Text: "3#1#1", Timestamp: "20240310120500", APIKey: storagetest.APIKey}, model.ErrorFormat, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			st := storagetest.OpenSeeded(t, nil)
			p, pub := newPipeline(t, st)

			res, err := p.Handle(ctx, tc.payload)
			require.NoError(t, err)
			require.Equal(t, tc.kind, res.ErrorKind)
			require.Zero(t, res.ReportID)

			raws, err := st.ListRawReports(ctx, 10)
			require.NoError(t, err)
			require.Len(t, raws, 1)
			require.Equal(t, tc.kind, raws[0].ErrorKind)
			require.Nil(t, raws[0].ReportID)
			require.Equal(t, tc.payload.Text, raws[0].Text)

			stats, err := st.Stats(ctx)
			require.NoError(t, err)
			require.Zero(t, stats.Reports)

			if tc.feedback {
				require.Equal(t, []notify.Kind{notify.KindFeedback}, pub.kinds())
			} else {
				require.Empty(t, pub.kinds())
			}
		})
	}
}

func TestEscalationNotifiesRecipients(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, &model.AlertRule{CountThreshold: 2, DaysThreshold: 7, KilometersThreshold: 5})
	p, pub := newPipeline(t, st)

	first, err := p.Handle(ctx, payload(storagetest.Phone, "3#1#1"))
	require.NoError(t, err)
	require.NotZero(t, first.AlertID)
	require.False(t, first.NewlyEscalated)

	second, err := p.Handle(ctx, payload(storagetest.NearbyPhone, "3#2#2"))
	require.NoError(t, err)
	require.Equal(t, first.AlertID, second.AlertID)
	require.True(t, second.NewlyEscalated)

	var escalation *notify.Escalation
	for _, m := range pub.sent {
		if m.Kind == notify.KindEscalation {
			escalation = m.Escalation
		}
	}
	require.NotNil(t, escalation)
	require.Equal(t, first.AlertID, escalation.AlertID)
	require.Equal(t, 2, escalation.ReportCount)
	require.Len(t, escalation.Recipients, 2)

	alert, err := st.GetAlert(ctx, first.AlertID)
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusEscalated, alert.Status)
}

func TestTrainingReportStoredWithoutAlert(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, &model.AlertRule{CountThreshold: 1, DaysThreshold: 7, KilometersThreshold: 5})
	p, _ := newPipeline(t, st)

	res, err := p.Handle(ctx, payload(storagetest.TrainingPhone, "3#1#1"))
	require.NoError(t, err)
	require.NotZero(t, res.ReportID)
	require.Zero(t, res.AlertID)
	report, err := st.GetReport(ctx, res.ReportID)
	require.NoError(t, err)
	require.True(t, report.IsTraining)
}

func TestConcurrentReportsShareOneAlert(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, &model.AlertRule{CountThreshold: 10, DaysThreshold: 7, KilometersThreshold: 5})
	p, _ := newPipeline(t, st)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		phone := storagetest.Phone
		if i%2 == 1 {
			phone = storagetest.NearbyPhone
		}
		wg.Add(1)
		go func(phone string) {
			defer wg.Done()
			res, err := p.Handle(ctx, payload(phone, "3#1#1"))
			if err == nil && res.AlertID == 0 {
				err = fmt.Errorf("report %d not attached to an alert", res.ReportID)
			}
			errs <- err
		}(phone)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	alerts, err := st.ListAlerts(ctx, storage.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Len(t, alerts[0].Reports, n)
}

type failingStore struct {
	storage.Store
}

func (failingStore) InTx(context.Context, func(storage.Tx) error) error {
	return errors.New("disk full")
}

func TestUnitOfWorkFailureFallsBackToRawReport(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	p, pub := newPipeline(t, failingStore{Store: st})

	res, err := p.Handle(ctx, payload(storagetest.Phone, "3#1#1"))
	require.NoError(t, err)
	require.Equal(t, model.ErrorOther, res.ErrorKind)
	require.Empty(t, pub.kinds(), "internal failures are never answered")

	raws, err := st.ListRawReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.Equal(t, model.ErrorOther, raws[0].ErrorKind)
	require.Contains(t, raws[0].ErrorMessage, "disk full")
}

func TestRejectionLogCarriesPayload(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	p, _ := newPipeline(t, st)
	var buf bytes.Buffer
	p.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	_, err := p.Handle(ctx, payload(storagetest.Phone, "not a report"))
	require.NoError(t, err)

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["msg"] == "report rejected" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, storagetest.Phone, entry["sender"])
	require.Equal(t, "20240310115500", entry["timestamp"])
	require.Equal(t, "not a report", entry["text"])
	require.Equal(t, string(model.ErrorFormat), entry["error_kind"])
}
