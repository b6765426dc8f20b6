package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epireport/internal/config"
	"epireport/internal/engine"
	"epireport/internal/logging"
	"epireport/internal/metrics"
	"epireport/internal/model"
	"epireport/internal/notify"
	"epireport/internal/pipeline"
	"epireport/internal/review"
	"epireport/internal/storage/storagetest"
)

type reloadCounter int

func (r *reloadCounter) Reload() error {
	*r++
	return nil
}

type fixture struct {
	routes  http.Handler
	reloads *reloadCounter
	alertID int64
	reports []int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, &model.AlertRule{CountThreshold: 2, DaysThreshold: 7, KilometersThreshold: 5})
	cfg := config.DefaultConfig()
	logger := logging.Discard()
	m := metrics.NewStore()
	recent := notify.NewRecent(20)
	templates, err := notify.LoadTemplates("en", "")
	require.NoError(t, err)
	dispatcher := notify.NewDispatcher(notify.NewLogPublisher(logger), st, logger, m, recent, time.Second)
	p := pipeline.New(cfg, st, engine.NewEngine(cfg, logger, m), templates, dispatcher, m, logger)

	f := &fixture{reloads: new(reloadCounter)}
	ts := time.Now().UTC().Add(-time.Minute).Format("20060102150405")
	for _, phone := range []string{storagetest.Phone, storagetest.NearbyPhone} {
		res, err := p.Handle(ctx, model.GatewayPayload{Sender: phone, Timestamp: ts, Text: "3#1#1", APIKey: storagetest.APIKey})
		require.NoError(t, err)
		require.NotZero(t, res.AlertID)
		f.alertID = res.AlertID
		f.reports = append(f.reports, res.ReportID)
	}
	svc := review.NewService(st, dispatcher, m, logger)
	srv := New(config.NewStaticManager(cfg), st, svc, recent, m, f.reloads, logger, "test")
	f.routes = srv.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestStatusAndListings(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "sqlite", body["storage"])
	stats := body["stats"].(map[string]any)
	require.EqualValues(t, 2, stats["reports"])

	code, body = f.do(t, http.MethodGet, "/alerts?status=Escalated")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])

	code, body = f.do(t, http.MethodGet, "/raw-reports?limit=1")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])

	code, body = f.do(t, http.MethodGet, fmt.Sprintf("/reports/%d", f.reports[0]))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Pending", body["status"])

	code, body = f.do(t, http.MethodGet, "/notifications")
	require.Equal(t, http.StatusOK, code)
	require.NotZero(t, body["count"])

	code, _ = f.do(t, http.MethodGet, "/reports/9999")
	require.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/reports/abc")
	require.Equal(t, http.StatusBadRequest, code)

	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "epireport_")
}

func TestReviewDecisions(t *testing.T) {
	f := newFixture(t)
	base := fmt.Sprintf("/alerts/%d/reports/", f.alertID)

	code, _ := f.do(t, http.MethodPost, base+fmt.Sprint(f.reports[0])+"/accept")
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodPost, base+fmt.Sprint(f.reports[0])+"/dismiss")
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, body["error"], "not pending")

	code, _ = f.do(t, http.MethodPost, base+fmt.Sprint(f.reports[1])+"/dismiss")
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, base+"9999/accept")
	require.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, fmt.Sprintf("/alerts/%d", f.alertID))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Escalated", body["status"])
}

func TestReloadKeys(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/admin/reload-keys")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, reloadCounter(1), *f.reloads)
}
