package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "epireport"

// Store holds the process counters. A nil *Store is valid and records nothing.
type Store struct {
	registry *prometheus.Registry

	rawReports     *prometheus.CounterVec
	reports        *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	ingestRequests *prometheus.CounterVec
	txFallbacks    prometheus.Counter
	duration       prometheus.Histogram
}

func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		rawReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_reports_total",
			Help:      "Inbound messages persisted, by error kind (ok when valid).",
		}, []string{"error_kind"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Validated reports stored, by report type.",
		}, []string{"report_type", "training"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle events.",
		}, []string{"event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications, by kind and result.",
		}, []string{"kind", "result"}),
		ingestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Gateway webhook requests, by HTTP status code.",
		}, []string{"code"}),
		txFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_fallbacks_total",
			Help:      "Units of work that failed and were recorded as a bare raw report.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent handling one inbound message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	s.registry.MustRegister(
		s.rawReports, s.reports, s.alerts, s.notifications, s.ingestRequests, s.txFallbacks, s.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *Store) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Store) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Store) RawReport(errorKind string) {
	if s == nil {
		return
	}
	if errorKind == "" {
		errorKind = "ok"
	}
	s.rawReports.WithLabelValues(errorKind).Inc()
}

func (s *Store) Report(reportType string, training bool) {
	if s == nil {
		return
	}
	label := "false"
	if training {
		label = "true"
	}
	s.reports.WithLabelValues(reportType, label).Inc()
}

// AlertEvent counts "created", "joined", "escalated" and "dismissed".
func (s *Store) AlertEvent(event string) {
	if s == nil {
		return
	}
	s.alerts.WithLabelValues(event).Inc()
}

func (s *Store) Notification(kind string, err error) {
	if s == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	s.notifications.WithLabelValues(kind, result).Inc()
}

func (s *Store) IngestRequest(code int) {
	if s == nil {
		return
	}
	s.ingestRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (s *Store) AuditFallback() {
	if s == nil {
		return
	}
	s.txFallbacks.Inc()
}

func (s *Store) ObserveDuration(start time.Time) {
	if s == nil {
		return
	}
	s.duration.Observe(time.Since(start).Seconds())
}
