package cli

import (
	"context"
	"log/slog"
)

// MultiLevelHandler fans one log record out to several handlers, each
// with its own level filter. setupLogging uses it to keep stderr at
// warnings while the rotating log file records the full session.
type MultiLevelHandler struct {
	handlers []slog.Handler
}

// NewMultiLevelHandler wraps the given handlers. Each keeps its own
// level filtering.
func NewMultiLevelHandler(handlers ...slog.Handler) *MultiLevelHandler {
	return &MultiLevelHandler{
		handlers: handlers,
	}
}

// Enabled reports whether any wrapped handler would handle the level.
func (h *MultiLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to every wrapped handler that accepts its level.
func (h *MultiLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with the given attributes added.
func (h *MultiLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return NewMultiLevelHandler(handlers...)
}

// WithGroup returns a new handler with the given group added.
func (h *MultiLevelHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return NewMultiLevelHandler(handlers...)
}
