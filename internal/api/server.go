package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"epireport/internal/config"
	"epireport/internal/metrics"
	"epireport/internal/model"
	"epireport/internal/notify"
	"epireport/internal/review"
	"epireport/internal/storage"
)

// Reloader refreshes externally maintained state such as the API key list.
type Reloader interface {
	Reload() error
}

type Server struct {
	cfg     *config.Manager
	store   storage.Store
	review  *review.Service
	recent  *notify.Recent
	metrics *metrics.Store
	keys    Reloader
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Storage    string        `json:"storage"`
	Ingest     ingestStatus  `json:"ingest"`
	Alerting   bool          `json:"alerting"`
	Stats      storage.Stats `json:"stats"`
}

type ingestStatus struct {
	REST      bool   `json:"rest"`
	Path      string `json:"path"`
	Queue     bool   `json:"queue"`
	RateLimit bool   `json:"rate_limit"`
}

func New(cfg *config.Manager, store storage.Store, reviewSvc *review.Service, recent *notify.Recent, metricsStore *metrics.Store, keys Reloader, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		review:  reviewSvc,
		recent:  recent,
		metrics: metricsStore,
		keys:    keys,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.handleAlert)
	mux.HandleFunc("POST /alerts/{id}/reports/{rid}/accept", s.handleDecision(s.review.AcceptReport))
	mux.HandleFunc("POST /alerts/{id}/reports/{rid}/dismiss", s.handleDecision(s.review.DismissReport))
	mux.HandleFunc("GET /reports/{id}", s.handleReport)
	mux.HandleFunc("GET /raw-reports", s.handleRawReports)
	mux.HandleFunc("GET /notifications", s.handleNotifications)
	mux.HandleFunc("POST /admin/reload-keys", s.handleReloadKeys)
	return mux
}

func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Storage:    s.store.Driver(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Path:      cfg.Ingest.REST.Path,
			Queue:     cfg.Ingest.Queue.Enabled,
			RateLimit: cfg.Ingest.RateLimit.Enabled,
		},
		Alerting: cfg.Alerting.Enabled,
		Stats:    stats,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AlertFilter{
		Status: model.AlertStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit"), 100),
	}
	if v := q.Get("project_health_risk_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		filter.ProjectHealthRiskID = id
	}
	list, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	alert, err := s.review.AlertStatus(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDecision(decide func(context.Context, int64, int64) (*model.Alert, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alertID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		reportID, ok := pathID(w, r, "rid")
		if !ok {
			return
		}
		alert, err := decide(r.Context(), alertID, reportID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRawReports(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListRawReports(r.Context(), queryInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"raw_reports": list,
		"count":       len(list),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	var list []notify.Delivery
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.recent.Since(ts)
	} else {
		list = s.recent.List(queryInt(r.URL.Query().Get("limit"), 0))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
	})
}

func (s *Server) handleReloadKeys(w http.ResponseWriter, _ *http.Request) {
	if s.keys == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	if err := s.keys.Reload(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, review.ErrAlertNotFound), errors.Is(err, review.ErrReportNotInAlert):
		code = http.StatusNotFound
	case errors.Is(err, review.ErrAlertStatus), errors.Is(err, review.ErrReportStatus):
		code = http.StatusConflict
	default:
		s.logger.Error("api request failed", "err", err)
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
