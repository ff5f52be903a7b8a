package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidtrain/internal/device"
	"vidtrain/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableFile_Directory(t *testing.T) {
	result := CheckReadableFile("test", t.TempDir())
	if result.Passed {
		t.Fatal("expected failure for directory")
	}
}

func TestCheckDataset_OK(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDataset(testsupport.DatasetSpec{}))
	for _, r := range CheckDataset(cfg) {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestCheckDataset_TooFewLabels(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDataset(testsupport.DatasetSpec{}))
	cfg.Dataset.Classes = 10

	failed := Failed(CheckDataset(cfg))
	if len(failed) != 1 || failed[0].Name != "Labels" {
		t.Fatalf("expected only the labels check to fail, got %+v", failed)
	}
	if !strings.Contains(failed[0].Detail, "config expects 10 classes") {
		t.Fatalf("detail = %q", failed[0].Detail)
	}
}

func TestCheckDataset_Missing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	failed := Failed(CheckDataset(cfg))
	if len(failed) != 4 {
		t.Fatalf("expected 4 failures for an empty data dir, got %d", len(failed))
	}
	if summary := Summary(failed); !strings.Contains(summary, "Frames directory:") {
		t.Fatalf("summary = %q", summary)
	}
}

func TestCheckRegistry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	result := CheckRegistry(context.Background(), cfg)
	if !result.Passed || !strings.Contains(result.Detail, "not created yet") {
		t.Fatalf("unexpected result for missing registry: %+v", result)
	}

	store := testsupport.MustOpenRegistry(t, cfg)
	testsupport.BeginRun(t, store, "tarn_class_4", "s1")

	result = CheckRegistry(context.Background(), cfg)
	if !result.Passed || !strings.Contains(result.Detail, "1 sessions, 1 running") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckDevice_CapsWorkers(t *testing.T) {
	report := device.Report{Brand: "test cpu", LogicalCores: 2}
	result := CheckDevice(report, 8)
	if !result.Passed || !strings.Contains(result.Detail, "workers 8 capped to 2") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReadyConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDataset(testsupport.DatasetSpec{}))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	// run dir, log dir, four dataset checks, registry, device
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %s", Summary(failed))
	}
}
