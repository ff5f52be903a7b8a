package logging

import (
	"context"
	"log/slog"

	"vidtrain/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRun is the standardized structured logging key for run names.
	FieldRun = "run"
	// FieldSessionID is the standardized structured logging key for run session identifiers.
	FieldSessionID = "session_id"
	// FieldPhase distinguishes trainer and evaluator output.
	FieldPhase = "phase"
	// FieldEpoch is the standardized structured logging key for 1-based epoch numbers.
	FieldEpoch = "epoch"
	// FieldIteration is the standardized structured logging key for global iteration counts.
	FieldIteration = "iteration"
	// FieldEventType classifies log lines for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if name, ok := services.RunFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRun, name))
	}
	if phase, ok := services.PhaseFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
