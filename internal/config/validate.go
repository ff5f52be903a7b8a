package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	if err := c.validateDataset(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.RunDir == "" {
		return errors.New("paths.run_dir must be set")
	}
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set (or set VIDTRAIN_DATA_DIR)")
	}
	return nil
}

func (c *Config) validateTraining() error {
	if err := ensurePositiveMap(map[string]int{
		"training.log_interval":     c.Training.LogInterval,
		"training.checkpoints_kept": c.Training.CheckpointsKept,
		"training.workers":          c.Training.Workers,
		"training.epochs":           c.Training.Epochs,
	}); err != nil {
		return err
	}
	switch c.Training.Optimizer {
	case "adam", "sgd", "rmsprop":
	default:
		return fmt.Errorf("training.optimizer %q is not supported (adam, sgd, rmsprop)", c.Training.Optimizer)
	}
	if c.Training.LearningRate <= 0 {
		return errors.New("training.learning_rate must be positive")
	}
	return nil
}

func (c *Config) validateDataset() error {
	if err := ensurePositiveMap(map[string]int{
		"dataset.height":  c.Dataset.Height,
		"dataset.width":   c.Dataset.Width,
		"dataset.stride":  c.Dataset.Stride,
		"dataset.classes": c.Dataset.Classes,
	}); err != nil {
		return err
	}
	if c.Dataset.Cut <= 0 || c.Dataset.Cut > 1 {
		return errors.New("dataset.cut must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
