package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/telecomverify/telecom/internal/config"
	"github.com/telecomverify/telecom/internal/server"
)

// logBufferSize is the number of recent entries served by GET /logs.
const logBufferSize = 500

// multiHandler fans out log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// newLogger creates a logger that writes to stderr at the configured level
// and, when logging.file is set, every level to that file as JSON. All
// records pass through a LogBuffer for the /logs endpoint. The returned
// LevelVar adjusts stderr at runtime; the closer releases the file.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, *server.LogBuffer, *slog.LevelVar, func(), error) {
	var lvlVar slog.LevelVar
	lvlVar.Set(parseSlogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: &lvlVar}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	closer := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = &multiHandler{handlers: []slog.Handler{handler, fileHandler}}
		closer = func() { f.Close() }
	}

	lb := server.NewLogBuffer(handler, logBufferSize)
	return slog.New(lb), lb, &lvlVar, closer, nil
}

func parseSlogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
