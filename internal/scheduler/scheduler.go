// Package scheduler runs the periodic maintenance jobs: API key list reload
// and config file reload.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"epireport/internal/config"
)

type Scheduler struct {
	c      *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		c:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
	}
}

// Add registers fn under spec. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, fn func() error) error {
	if spec == "" {
		s.logger.Info("scheduled job disabled", "job", name)
		return nil
	}
	_, err := s.c.AddFunc(spec, func() {
		if err := fn(); err != nil {
			s.logger.Warn("scheduled job failed", "job", name, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.logger.Info("scheduled job", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) Len() int {
	return len(s.c.Entries())
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// ConfigReload returns a job that reloads the config file when it changed
// and passes the new config to apply.
func ConfigReload(m *config.Manager, apply func(*config.Config), logger *slog.Logger) func() error {
	return func() error {
		var failed error
		m.ReloadIfChanged(func(cfg *config.Config) {
			logger.Info("config reloaded", "path", m.Path())
			apply(cfg)
		}, func(err error) {
			failed = err
		})
		return failed
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
