package logging

import (
	"context"
	"log/slog"
)

// sessionHandler stamps every record with the run session identifier.
type sessionHandler struct {
	base      slog.Handler
	sessionID string
}

// WithSession wraps handler so every record carries session_id.
func WithSession(handler slog.Handler, sessionID string) slog.Handler {
	if handler == nil {
		return NoopHandler{}
	}
	if sessionID == "" {
		return handler
	}
	return &sessionHandler{base: handler, sessionID: sessionID}
}

func (h *sessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *sessionHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String(FieldSessionID, h.sessionID))
	return h.base.Handle(ctx, record)
}

func (h *sessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sessionHandler{base: h.base.WithAttrs(attrs), sessionID: h.sessionID}
}

func (h *sessionHandler) WithGroup(name string) slog.Handler {
	return &sessionHandler{base: h.base.WithGroup(name), sessionID: h.sessionID}
}
