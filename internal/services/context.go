package services

import "context"

type contextKey string

const (
	runKey   contextKey = "run"
	phaseKey contextKey = "phase"
)

// WithRun annotates context with the run name.
func WithRun(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, name)
}

// RunFromContext returns the run name if present.
func RunFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPhase annotates context with the engine phase (train or evaluate).
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey, phase)
}

// PhaseFromContext returns the engine phase if present.
func PhaseFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(phaseKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
