package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	s := NewStore()
	s.RawReport("")
	s.RawReport("FormatError")
	s.RawReport("FormatError")
	s.Notification("feedback", nil)
	s.Notification("feedback", errors.New("broker down"))
	s.AlertEvent("escalated")

	if got := testutil.ToFloat64(s.rawReports.WithLabelValues("FormatError")); got != 2 {
		t.Fatalf("format errors = %v", got)
	}
	if got := testutil.ToFloat64(s.rawReports.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok = %v", got)
	}
	if got := testutil.ToFloat64(s.notifications.WithLabelValues("feedback", "failed")); got != 1 {
		t.Fatalf("failed notifications = %v", got)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	s.RawReport("x")
	s.AlertEvent("created")
	s.IngestRequest(200)
	if s.Registry() != nil {
		t.Fatalf("nil store has no registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	s := NewStore()
	s.IngestRequest(401)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `epireport_ingest_requests_total{code="401"} 1`) {
		t.Fatalf("missing counter in output:\n%s", rec.Body.String())
	}
}
