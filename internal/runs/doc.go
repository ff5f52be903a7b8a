// Package runs persists a registry of training runs in SQLite.
//
// Every training session records one row in runs, keyed by a session uuid,
// and one row per completed epoch in epoch_stats. The CLI reads the registry
// to list runs and show their learning curves without parsing stats.csv.
//
// The schema is embedded and versioned; a database created by a different
// schema version is rejected with ErrSchemaMismatch.
package runs
