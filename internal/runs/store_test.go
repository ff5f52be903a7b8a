package runs_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vidtrain/internal/runs"
	"vidtrain/internal/testsupport"
)

func ptr(v float64) *float64 { return &v }

func TestBeginRecordFinish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRegistry(t, cfg)
	ctx := context.Background()

	run, err := store.Begin(ctx, runs.NewRun{
		Name:      "tarn_class_4",
		SessionID: "session-1",
		Model:     "tarn",
		RunDir:    filepath.Join(cfg.Paths.RunDir, "tarn_class_4"),
		MaxEpochs: 3,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if run.Status != runs.StatusRunning || run.EpochsDone != 0 || run.Resumed {
		t.Fatalf("unexpected run %+v", run)
	}

	for epoch := 1; epoch <= 2; epoch++ {
		stat := runs.EpochStat{Epoch: epoch, TrainLoss: ptr(1.0 / float64(epoch)), ValidAcc1: ptr(0.25), Duration: 1500 * time.Millisecond}
		if err := store.RecordEpoch(ctx, run.ID, stat); err != nil {
			t.Fatalf("RecordEpoch: %v", err)
		}
	}
	// Re-recording replaces the row.
	if err := store.RecordEpoch(ctx, run.ID, runs.EpochStat{Epoch: 2, TrainLoss: ptr(0.4)}); err != nil {
		t.Fatalf("RecordEpoch: %v", err)
	}

	epochs, err := store.Epochs(ctx, run.ID)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	if len(epochs) != 2 {
		t.Fatalf("expected 2 epochs, got %d", len(epochs))
	}
	if epochs[0].Duration != 1500*time.Millisecond || *epochs[0].ValidAcc1 != 0.25 || epochs[0].ValidLoss != nil {
		t.Fatalf("unexpected first epoch %+v", epochs[0])
	}
	if *epochs[1].TrainLoss != 0.4 || epochs[1].ValidAcc1 != nil {
		t.Fatalf("epoch 2 not replaced: %+v", epochs[1])
	}

	if err := store.Finish(ctx, run.ID, runs.StatusCompleted, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != runs.StatusCompleted || got.EpochsDone != 2 || got.FinishedAt == nil {
		t.Fatalf("unexpected finished run %+v", got)
	}
	if err := store.Finish(ctx, run.ID, runs.StatusRunning, ""); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestListLatestAndRemove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRegistry(t, cfg)
	ctx := context.Background()

	first := testsupport.BeginRun(t, store, "i3d_class_4", "s1")
	second := testsupport.BeginRun(t, store, "i3d_class_4", "s2")
	other := testsupport.BeginRun(t, store, "tadn_class_4", "s3")
	if err := store.Finish(ctx, first.ID, runs.StatusFailed, "boom"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != other.ID {
		t.Fatalf("List should return newest first, got %d runs", len(all))
	}
	failed, err := store.List(ctx, runs.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "boom" {
		t.Fatalf("failed runs = %+v", failed)
	}

	latest, err := store.Latest(ctx, "i3d_class_4")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Fatalf("Latest = %+v, want session s2", latest)
	}
	missing, err := store.Latest(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("Latest(nope) = %v, %v", missing, err)
	}

	removed, err := store.Remove(ctx, "i3d_class_4")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d runs, want 2", removed)
	}
}

func TestMarkStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRegistry(t, cfg)
	ctx := context.Background()

	run := testsupport.BeginRun(t, store, "tarn_class_4", "s1")
	changed, err := store.MarkStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	if changed != 1 {
		t.Fatalf("changed %d runs, want 1", changed)
	}
	got, _ := store.GetByID(ctx, run.ID)
	if got.Status != runs.StatusInterrupted {
		t.Fatalf("status = %s, want interrupted", got.Status)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.BeginRun(t, store, "tarn_class_4", "s1")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenRegistry(t, cfg)
	all, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 run after reopen, got %d", len(all))
	}
}

func TestEpochStatFromRow(t *testing.T) {
	stat := runs.EpochStatFromRow(4, map[string]float64{"train_loss": 1.5, "valid_acc@3": 0.9}, time.Second)
	if stat.Epoch != 4 || *stat.TrainLoss != 1.5 || *stat.ValidAcc3 != 0.9 || stat.ValidLoss != nil {
		t.Fatalf("unexpected stat %+v", stat)
	}
}
