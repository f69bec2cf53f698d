package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/michaelmcclelland/orderflow/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

// New builds the root JSON logger for component. When cfg.File is set, output
// is written to stdout and to a rotating file.
func New(component string, cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}
	return newLogger(w, component, cfg.Level), closer
}

func newLogger(w io.Writer, component, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With("component", component)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithCtx stores a logger in ctx.
func WithCtx(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromCtx fetches a logger from ctx or falls back to slog.Default.
func FromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
