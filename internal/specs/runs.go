package specs

import (
	"strings"

	"vidtrain/internal/config"
	"vidtrain/internal/options"
)

const frameChannels = 3

// Run combines the named model preset with the configured trainer, dataset and
// loader settings. The run is named after the preset.
func Run(name string, cfg *config.Config) (options.RunOptions, error) {
	spec, err := Model(name)
	if err != nil {
		return options.RunOptions{}, err
	}
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	return options.RunOptions{
		Name:            strings.ToLower(strings.TrimSpace(name)),
		LogInterval:     cfg.Training.LogInterval,
		CheckpointsKept: cfg.Training.CheckpointsKept,
		Seed:            cfg.Training.Seed,
		Model:           spec,
		TrainerOpts: options.TrainerOptions{
			Epochs:        cfg.Training.Epochs,
			Optimizer:     options.OptimizerKind(cfg.Training.Optimizer),
			OptimizerOpts: options.OptimizerOptions{LR: cfg.Training.LearningRate},
			Criterion:     options.CriterionCrossEntropy,
			CriterionOpts: options.CriterionOptions{ReconstructionWeight: 1, KLWeight: 1},
		},
		EvaluatorOpts: options.EvaluatorOptions{Metrics: options.DefaultMetrics()},
		DataBunchOpts: options.DataBunchOptions{
			Shape: options.Shape{
				TimeSteps: spec.Steps(),
				Channels:  frameChannels,
				Height:    cfg.Dataset.Height,
				Width:     cfg.Dataset.Width,
			},
			Stride:  cfg.Dataset.Stride,
			Cut:     cfg.Dataset.Cut,
			Classes: cfg.Dataset.Classes,
		},
		DataSetOpts: options.DataSetOptions{
			Root:       cfg.Paths.DataDir,
			FramesDir:  cfg.Dataset.FramesDir,
			LabelsFile: cfg.Dataset.LabelsFile,
			TrainMeta:  cfg.Dataset.TrainMeta,
			ValidMeta:  cfg.Dataset.ValidMeta,
		},
		DataLoaderOpts: options.DataLoaderOptions{
			BatchSize: spec.Batch(),
			Shuffle:   true,
			Workers:   cfg.Training.Workers,
			DropLast:  false,
		},
	}, nil
}
