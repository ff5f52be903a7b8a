package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vidtrain/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("VIDTRAIN_DATA_DIR", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRuns := filepath.Join(tempHome, ".local", "share", "vidtrain", "runs")
	if cfg.Paths.RunDir != wantRuns {
		t.Fatalf("unexpected run dir: got %q want %q", cfg.Paths.RunDir, wantRuns)
	}
	if cfg.Training.CheckpointsKept != 3 {
		t.Fatalf("unexpected checkpoints kept: got %d want 3", cfg.Training.CheckpointsKept)
	}
	if cfg.Training.Optimizer != "adam" {
		t.Fatalf("unexpected optimizer: %q", cfg.Training.Optimizer)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
	if got := cfg.RegistryPath(); got != filepath.Join(wantRuns, "runs.db") {
		t.Fatalf("unexpected registry path: %q", got)
	}
}

func TestLoadUsesDataDirFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()
	t.Setenv("VIDTRAIN_DATA_DIR", dataDir)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, dataDir)
	}
	if got := cfg.DatasetPath("labels.json"); got != filepath.Join(dataDir, "labels.json") {
		t.Fatalf("unexpected dataset path: %q", got)
	}
	if got := cfg.DatasetPath("/abs/labels.json"); got != "/abs/labels.json" {
		t.Fatalf("absolute dataset path rewritten: %q", got)
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VIDTRAIN_DATA_DIR", "")
	dir := t.TempDir()
	runDir := filepath.Join(dir, "runs")

	payload := map[string]any{
		"paths": map[string]any{
			"run_dir":  runDir,
			"data_dir": filepath.Join(dir, "data"),
		},
		"training": map[string]any{
			"optimizer":     " SGD ",
			"log_interval":  5,
			"learning_rate": 0.01,
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: exists=%v resolved=%q", exists, resolved)
	}
	if cfg.Paths.RunDir != runDir {
		t.Fatalf("unexpected run dir: got %q want %q", cfg.Paths.RunDir, runDir)
	}
	if cfg.Training.Optimizer != "sgd" {
		t.Fatalf("expected normalized optimizer, got %q", cfg.Training.Optimizer)
	}
	if cfg.Training.LogInterval != 5 {
		t.Fatalf("unexpected log interval: %d", cfg.Training.LogInterval)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Dataset.Classes != config.Default().Dataset.Classes {
		t.Fatalf("expected default classes, got %d", cfg.Dataset.Classes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"optimizer", func(c *config.Config) { c.Training.Optimizer = "lbfgs" }, "training.optimizer"},
		{"log interval", func(c *config.Config) { c.Training.LogInterval = 0 }, "training.log_interval"},
		{"learning rate", func(c *config.Config) { c.Training.LearningRate = 0 }, "training.learning_rate"},
		{"cut", func(c *config.Config) { c.Dataset.Cut = 1.5 }, "dataset.cut"},
		{"height", func(c *config.Config) { c.Dataset.Height = -1 }, "dataset.height"},
		{"level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"run dir", func(c *config.Config) { c.Paths.RunDir = "" }, "paths.run_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("unexpected error: got %q want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Training.CheckpointsKept != 3 {
		t.Fatalf("unexpected sample checkpoints_kept: %d", cfg.Training.CheckpointsKept)
	}

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RunDir = filepath.Join(dir, "runs")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, p := range []string{cfg.Paths.RunDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q", p)
		}
	}
}
