package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTraining()
	c.normalizeDataset()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" || c.Paths.DataDir == defaultDataDir {
		if value, ok := os.LookupEnv("VIDTRAIN_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.DataDir = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Paths.RunDir) == "" {
		c.Paths.RunDir = defaultRunDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.RunDir, err = expandPath(c.Paths.RunDir); err != nil {
		return fmt.Errorf("paths.run_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTraining() {
	c.Training.Optimizer = strings.ToLower(strings.TrimSpace(c.Training.Optimizer))
	if c.Training.Optimizer == "" {
		c.Training.Optimizer = defaultOptimizer
	}
	if c.Training.CheckpointsKept == 0 {
		c.Training.CheckpointsKept = defaultCheckpointsKept
	}
	if c.Training.Workers <= 0 {
		c.Training.Workers = 1
	}
}

func (c *Config) normalizeDataset() {
	c.Dataset.FramesDir = strings.TrimSpace(c.Dataset.FramesDir)
	if c.Dataset.FramesDir == "" {
		c.Dataset.FramesDir = defaultFramesDir
	}
	c.Dataset.LabelsFile = strings.TrimSpace(c.Dataset.LabelsFile)
	if c.Dataset.LabelsFile == "" {
		c.Dataset.LabelsFile = defaultLabelsFile
	}
	c.Dataset.TrainMeta = strings.TrimSpace(c.Dataset.TrainMeta)
	if c.Dataset.TrainMeta == "" {
		c.Dataset.TrainMeta = defaultTrainMeta
	}
	c.Dataset.ValidMeta = strings.TrimSpace(c.Dataset.ValidMeta)
	if c.Dataset.ValidMeta == "" {
		c.Dataset.ValidMeta = defaultValidMeta
	}
	if c.Dataset.Cut == 0 {
		c.Dataset.Cut = defaultDatasetCut
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
