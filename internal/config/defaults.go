package config

const (
	defaultRunDir           = "~/.local/share/vidtrain/runs"
	defaultDataDir          = "~/.local/share/vidtrain/data"
	defaultLogDir           = "~/.local/share/vidtrain/logs"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogInterval      = 10
	defaultCheckpointsKept  = 3
	defaultSeed             = 42
	defaultWorkers          = 4
	defaultEpochs           = 200
	defaultOptimizer        = "adam"
	defaultLearningRate     = 0.001
	defaultFramesDir        = "frames"
	defaultLabelsFile       = "labels.json"
	defaultTrainMeta        = "train.json"
	defaultValidMeta        = "validation.json"
	defaultFrameHeight      = 112
	defaultFrameWidth       = 112
	defaultFrameStride      = 2
	defaultDatasetCut       = 1.0
	defaultClasses          = 174
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RunDir:  defaultRunDir,
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Training: Training{
			LogInterval:     defaultLogInterval,
			CheckpointsKept: defaultCheckpointsKept,
			Seed:            defaultSeed,
			Workers:         defaultWorkers,
			Epochs:          defaultEpochs,
			Optimizer:       defaultOptimizer,
			LearningRate:    defaultLearningRate,
			Progress:        true,
		},
		Dataset: Dataset{
			FramesDir:  defaultFramesDir,
			LabelsFile: defaultLabelsFile,
			TrainMeta:  defaultTrainMeta,
			ValidMeta:  defaultValidMeta,
			Height:     defaultFrameHeight,
			Width:      defaultFrameWidth,
			Stride:     defaultFrameStride,
			Cut:        defaultDatasetCut,
			Classes:    defaultClasses,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
