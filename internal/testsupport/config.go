package testsupport

import (
	"path/filepath"
	"testing"

	"vidtrain/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Frames are shrunk to 8x8 and workers to 2 so tests stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RunDir = filepath.Join(base, "runs")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Training.Workers = 2
	cfgVal.Training.Epochs = 2
	cfgVal.Training.LogInterval = 1
	cfgVal.Training.Progress = false
	cfgVal.Dataset.Height = 8
	cfgVal.Dataset.Width = 8
	cfgVal.Dataset.Stride = 1
	cfgVal.Dataset.Classes = 3

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDataset writes a synthetic dataset into the config's data directory.
func WithDataset(spec DatasetSpec) ConfigOption {
	return func(b *configBuilder) {
		if spec.Classes == 0 {
			spec.Classes = b.cfg.Dataset.Classes
		}
		b.cfg.Dataset.Classes = spec.Classes
		WriteDataset(b.t, b.cfg.Paths.DataDir, spec)
	}
}

// WithEpochs overrides the number of training epochs.
func WithEpochs(epochs int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Training.Epochs = epochs
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RunDir)
}
