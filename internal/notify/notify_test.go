package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epireport/internal/logging"
	"epireport/internal/metrics"
	"epireport/internal/model"
)

func TestTemplatesStrictLanguage(t *testing.T) {
	tpl, err := LoadTemplates("en", "")
	require.NoError(t, err)

	en, err := tpl.Render("en", "FormatError")
	require.NoError(t, err)
	require.Contains(t, en, "format")

	fr, err := tpl.Render("fr", "HealthRiskNotFound")
	require.NoError(t, err)
	require.Contains(t, fr, "risque sanitaire")

	_, err = tpl.Render("sw", "FormatError")
	require.ErrorIs(t, err, ErrNoTemplate)

	_, err = tpl.Render("en", "DataCollectorNotFound")
	require.ErrorIs(t, err, ErrNoTemplate)

	_, err = tpl.Render("en", "")
	require.ErrorIs(t, err, ErrNoTemplate)
}

func TestTemplatesDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "active.sw.yaml"), []byte("Other: \"Ripoti yako haikuweza kusajiliwa.\"\n"), 0o644))
	tpl, err := LoadTemplates("en", dir)
	require.NoError(t, err)
	sw, err := tpl.Render("sw", "Other")
	require.NoError(t, err)
	require.Equal(t, "Ripoti yako haikuweza kusajiliwa.", sw)
	require.Contains(t, tpl.Languages(), "sw")
}

func TestEscalationCountsActiveReports(t *testing.T) {
	alert := model.Alert{ID: 3, Reports: []model.Report{
		{ID: 1, Status: model.ReportStatusPending},
		{ID: 2, Status: model.ReportStatusRejected},
		{ID: 3, Status: model.ReportStatusAccepted},
	}}
	msg := NewEscalation(alert, model.ProjectHealthRisk{ID: 1, ProjectID: 1, HealthRiskCode: 3})
	require.Equal(t, 2, msg.Escalation.ReportCount)
}

func TestNewFeedback(t *testing.T) {
	gw := model.GatewaySetting{EmailAddress: "gw@example.org", Name: "gateway"}
	_, ok := NewFeedback(model.GatewaySetting{}, "+1", "hello")
	require.False(t, ok, "no email address suppresses feedback")
	_, ok = NewFeedback(gw, "+1", "")
	require.False(t, ok)

	long := strings.Repeat("é", 200)
	msg, ok := NewFeedback(gw, "+1", long)
	require.True(t, ok)
	require.Equal(t, KindFeedback, msg.Kind)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, model.MaxFeedbackMessageLength, len([]rune(msg.Feedback.Body)))
	require.Equal(t, "+1", msg.Key())
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []Message
	fail map[Kind]error
}

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[msg.Kind]; err != nil {
		return err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeRecipients []model.AlertRecipient

func (f fakeRecipients) AlertRecipients(context.Context, int64, int) ([]model.AlertRecipient, error) {
	return f, nil
}

func TestDispatchResolvesRecipientsAndRecordsFailures(t *testing.T) {
	pub := &fakePublisher{fail: map[Kind]error{KindDismissal: errors.New("broker down")}}
	recipients := fakeRecipients{{ID: 1, Email: "a@example.org"}, {ID: 2, PhoneNumber: "+2"}}
	d := NewDispatcher(pub, recipients, logging.Discard(), metrics.NewStore(), NewRecent(10), time.Second)

	escalatedAt := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	feedback, _ := NewFeedback(model.GatewaySetting{EmailAddress: "gw@example.org"}, "+1", "thanks")
	msgs := []Message{
		feedback,
		NewEscalation(model.Alert{ID: 7, EscalatedAt: &escalatedAt, Reports: make([]model.Report, 3)}, model.ProjectHealthRisk{ID: 1, ProjectID: 1, HealthRiskCode: 3}),
		NewDismissal(7, 42),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, msgs)

	require.Len(t, pub.sent, 2)
	esc := pub.sent[1].Escalation
	require.NotNil(t, esc)
	require.Len(t, esc.Recipients, 2)
	require.Equal(t, 3, esc.ReportCount)
	require.Equal(t, "7", pub.sent[1].Key())

	recent := d.Recent().List(0)
	require.Len(t, recent, 3)
	require.Empty(t, recent[0].Error)
	require.Contains(t, recent[2].Error, "broker down")
}

func TestRecentRing(t *testing.T) {
	r := NewRecent(2)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r.Add(Delivery{Message: Message{ID: string(rune('a' + i))}, At: base.Add(time.Duration(i) * time.Minute)})
	}
	list := r.List(0)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].Message.ID)
	require.Equal(t, "c", list[1].Message.ID)
	require.Len(t, r.Since(base.Add(2*time.Minute)), 1)
}
