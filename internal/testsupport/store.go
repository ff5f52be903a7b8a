package testsupport

import (
	"context"
	"testing"

	"vidtrain/internal/config"
	"vidtrain/internal/runs"
)

// MustOpenRegistry opens a runs.Store for tests and registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()

	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("runs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// BeginRun registers a running session for tests using the provided store.
func BeginRun(t testing.TB, store *runs.Store, name, sessionID string) *runs.Run {
	t.Helper()

	run, err := store.Begin(context.Background(), runs.NewRun{
		Name:      name,
		SessionID: sessionID,
		Model:     "tarn",
		RunDir:    "/tmp/" + name,
		MaxEpochs: 1,
	})
	if err != nil {
		t.Fatalf("store.Begin: %v", err)
	}
	return run
}
