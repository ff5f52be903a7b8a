// Package logging assembles structured slog loggers and formatting helpers used
// across vidtrain.
//
// It owns the configurable console/JSON handlers, the per-run log file
// handler, tee plumbing that mirrors a run's output into its run directory,
// and context helpers that tag lines with the run name and session id. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
