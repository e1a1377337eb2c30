package logging

import (
	"context"
	"log/slog"
)

// MultiHandler duplicates each record across a set of handlers, so
// stdout, journald and the ring buffer consume the same log stream.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler fans records out to every handler given.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports true when any wrapped handler accepts the level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every handler that accepts its level.
// Each handler gets its own clone, and one handler failing never stops
// the rest from writing.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(wrap func(slog.Handler) slog.Handler) slog.Handler {
	derived := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		derived[i] = wrap(h)
	}
	return &MultiHandler{handlers: derived}
}
