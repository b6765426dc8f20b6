package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"epireport/internal/config"
	"epireport/internal/metrics"
)

// RESTServer is the SMS gateway webhook. In inline mode a request returns
// once the raw report is stored; in queue mode once it is enqueued.
type RESTServer struct {
	cfg     *config.Manager
	handler Handler
	queue   Enqueuer
	allow   *AllowList
	metrics *metrics.Store
	logger  *slog.Logger
}

func NewRESTServer(cfg *config.Manager, handler Handler, queue Enqueuer, allow *AllowList, metricsStore *metrics.Store, logger *slog.Logger) *RESTServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTServer{cfg: cfg, handler: handler, queue: queue, allow: allow, metrics: metricsStore, logger: logger}
}

func (s *RESTServer) Routes(middleware ...func(http.Handler) http.Handler) http.Handler {
	var webhook http.Handler = http.HandlerFunc(s.handleReport)
	for i := len(middleware) - 1; i >= 0; i-- {
		webhook = middleware[i](webhook)
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Get().Ingest.REST.Path, webhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, s *RESTServer, middleware ...func(http.Handler) http.Handler) *http.Server {
	current := s.cfg.Get().Ingest.REST
	if !current.Enabled {
		s.logger.Info("rest ingest disabled")
		return nil
	}
	s.logger.Info("rest ingest enabled", "addr", current.Addr, "path", current.Path, "api_keys", s.allow.Len())
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           s.Routes(middleware...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("rest ingest server error", "err", err)
		}
	}()
	return httpServer
}

func (s *RESTServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.reply(w, http.StatusMethodNotAllowed, nil)
		return
	}
	limit := s.cfg.Get().Ingest.REST.MaxBodyBytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn("report body too large", "limit", limit, "remote", r.RemoteAddr)
			s.reply(w, http.StatusRequestEntityTooLarge, nil)
			return
		}
		s.reply(w, http.StatusBadRequest, nil)
		return
	}
	payload, err := DecodePayload(body)
	if err != nil {
		s.logger.Warn("undecodable report body", "err", err, "remote", r.RemoteAddr)
		s.reply(w, http.StatusBadRequest, nil)
		return
	}
	if !s.allow.Allowed(payload.APIKey) {
		s.logger.Warn("api key not allowed", "sender", payload.Sender, "remote", r.RemoteAddr)
		s.reply(w, http.StatusUnauthorized, nil)
		return
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(r.Context(), payload); err != nil {
			s.logger.Error("enqueue report failed", "sender", payload.Sender, "err", err)
			s.reply(w, http.StatusServiceUnavailable, nil)
			return
		}
		s.reply(w, http.StatusOK, map[string]any{"queued": true})
		return
	}

	res, err := s.handler.Handle(r.Context(), payload)
	if err != nil {
		s.logger.Error("report could not be recorded", "sender", payload.Sender, "err", err)
		s.reply(w, http.StatusInternalServerError, nil)
		return
	}
	s.reply(w, http.StatusOK, res)
}

func (s *RESTServer) reply(w http.ResponseWriter, code int, body any) {
	s.metrics.IngestRequest(code)
	if body == nil {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
