package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"

	"epireport/internal/config"
)

func NewLogger(level string) *slog.Logger {
	return newLogger(level, os.Stdout)
}

// NewLoggerFromConfig writes to a rotating file when log.file is set.
func NewLoggerFromConfig(cfg *config.Config) *slog.Logger {
	if cfg.Log.File == "" {
		return NewLogger(cfg.LogLevel)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}
	return newLogger(cfg.LogLevel, io.MultiWriter(os.Stdout, w))
}

func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// Discard is used by tests and by components built without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
