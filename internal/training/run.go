package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"vidtrain/internal/config"
	"vidtrain/internal/device"
	"vidtrain/internal/engine"
	"vidtrain/internal/fileutil"
	"vidtrain/internal/logging"
	"vidtrain/internal/loss"
	"vidtrain/internal/metrics"
	"vidtrain/internal/models"
	"vidtrain/internal/optim"
	"vidtrain/internal/options"
	"vidtrain/internal/pipeline"
	"vidtrain/internal/runs"
	"vidtrain/internal/services"
	"vidtrain/internal/textutil"
)

// ResumeLatest as RunOptions.ResumeFrom resumes from the newest checkpoint
// in the run directory.
const ResumeLatest = "latest"

// Checkpoint entry names.
const (
	entryModel          = "model"
	entryOptimizer      = "optimizer"
	entryTrainerState   = "trainer_state"
	entryEvaluatorState = "evaluator_state"
)

// Deps carries the collaborators a run does not build itself. Every field is
// optional.
type Deps struct {
	// Logger receives console output; the run log is tee'd from it.
	Logger *slog.Logger
	// Registry records the session. When nil the run opens the registry
	// configured in cfg and closes it in Close.
	Registry *runs.Store
	// Device overrides the detected CPU report.
	Device *device.Report
	// Progress receives a per-epoch progress bar when set.
	Progress io.Writer
	// BuildModel replaces Spec.Build.
	BuildModel func(models.Spec, models.BuildOptions) (models.Model, error)
}

// Run is one training session of a named run.
type Run struct {
	opts      options.RunOptions
	dir       string
	prefix    string
	sessionID string

	lock        *flock.Flock
	runLog      *logging.RunLog
	logger      *slog.Logger
	registry    *runs.Store
	ownRegistry bool
	record      *runs.Run
	progress    io.Writer
	bar         *progressbar.ProgressBar

	model      models.Model
	optimizer  *optim.Optimizer
	criterion  loss.Criterion
	bunch      *pipeline.DataBunch
	metrics    []metrics.Metric
	device     device.Report
	trainer    *engine.Engine
	evaluator  *engine.Engine
	checkpoint *engine.Checkpoint
	stats      *statsWriter

	globalTimer *engine.Timer
	iterTimer   *engine.Timer
	epochTimer  *engine.Timer
	iterations  int
}

// New prepares a run. On error every resource acquired so far is released.
func New(ctx context.Context, cfg *config.Config, opts options.RunOptions, deps Deps) (*Run, error) {
	if cfg == nil {
		return nil, errors.New("training: config is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	token := textutil.SanitizeToken(opts.Name)
	r := &Run{
		opts:      opts,
		dir:       filepath.Join(cfg.Paths.RunDir, token),
		prefix:    token,
		sessionID: uuid.NewString(),
		registry:  deps.Registry,
		progress:  deps.Progress,
	}
	if err := r.init(cfg, deps); err != nil {
		if closeErr := r.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Run) init(cfg *config.Config, deps Deps) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "training", "create run directory", r.dir, err)
	}
	r.lock = flock.New(filepath.Join(r.dir, ".lock"))
	ok, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		r.lock = nil
		return services.Wrap(services.ErrValidation, "training", "lock",
			fmt.Sprintf("run %q is already in progress", r.opts.Name), nil)
	}

	if err := r.writeRecord(); err != nil {
		return err
	}
	if err := r.initLogging(cfg, deps.Logger); err != nil {
		return err
	}
	r.logger.Info("initializing run",
		logging.String(logging.FieldEventType, "run_init"),
		logging.String("dir", r.dir),
		logging.Bool("resume", r.opts.Resume),
	)

	var entries map[string]json.RawMessage
	if r.opts.Resume {
		if entries, err = r.loadResumeCheckpoint(); err != nil {
			return err
		}
	}

	if err := r.initModel(deps.BuildModel, entries); err != nil {
		return err
	}
	if err := r.initOptimizer(entries); err != nil {
		return err
	}
	if r.criterion, err = loss.New(string(r.opts.TrainerOpts.Criterion)); err != nil {
		return err
	}
	r.logger.Info("criterion ready", logging.String("criterion", string(r.opts.TrainerOpts.Criterion)))

	r.device = device.Detect()
	if deps.Device != nil {
		r.device = *deps.Device
	}
	r.logger.Info("device ready",
		logging.String(logging.FieldEventType, "device_report"),
		logging.String("device", r.device.String()),
	)

	if err := r.initData(); err != nil {
		return err
	}
	if r.metrics, err = metrics.FromSpecs(r.opts.EvaluatorOpts.Metrics, r.criterion); err != nil {
		return err
	}
	if err := r.initEngines(entries); err != nil {
		return err
	}

	if r.registry == nil {
		if r.registry, err = runs.Open(cfg); err != nil {
			return err
		}
		r.ownRegistry = true
	}
	if r.stats, err = openStats(filepath.Join(r.dir, "stats.csv"), r.opts.Resume); err != nil {
		return err
	}
	if r.checkpoint, err = engine.NewCheckpoint(r.dir, r.prefix, r.opts.CheckpointsKept, 1, r.logger); err != nil {
		return err
	}
	r.attachHandlers()
	return nil
}

// writeRecord stores the run options as run.json.
func (r *Run) writeRecord() error {
	data, err := r.opts.MarshalRecord()
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, "run.json")
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (r *Run) initLogging(cfg *config.Config, console *slog.Logger) error {
	runLog, err := logging.OpenRunLog(filepath.Join(r.dir, "run.log"), logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		return err
	}
	r.runLog = runLog
	tee := logging.TeeLogger(console, runLog.Handler())
	r.logger = slog.New(logging.WithSession(tee.Handler(), r.sessionID)).
		With(logging.String(logging.FieldRun, r.opts.Name))
	return nil
}

func (r *Run) loadResumeCheckpoint() (map[string]json.RawMessage, error) {
	path := strings.TrimSpace(r.opts.ResumeFrom)
	if path == ResumeLatest {
		latest, _, err := engine.LatestCheckpoint(r.dir, r.prefix)
		if err != nil {
			return nil, err
		}
		path = latest
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}
	r.logger.Info("loading checkpoint",
		logging.String(logging.FieldEventType, "checkpoint_load"),
		logging.String("path", path),
	)
	return engine.LoadCheckpoint(path)
}

func (r *Run) initModel(build func(models.Spec, models.BuildOptions) (models.Model, error), entries map[string]json.RawMessage) error {
	buildOpts := models.BuildOptions{
		Geometry:             r.opts.Geometry(),
		BatchSize:            r.opts.DataLoaderOpts.BatchSize,
		ReconstructionWeight: r.opts.TrainerOpts.CriterionOpts.ReconstructionWeight,
		KLWeight:             r.opts.TrainerOpts.CriterionOpts.KLWeight,
		Seed:                 uint64(r.opts.Seed),
	}
	var err error
	if build != nil {
		r.model, err = build(r.opts.Model, buildOpts)
	} else {
		r.model, err = r.opts.Model.Build(buildOpts)
	}
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "training", "build model", r.opts.Model.Kind(), err)
	}
	if entries != nil {
		var state map[string]string
		if err := engine.DecodeEntry(entries, entryModel, &state); err != nil {
			return err
		}
		if err := r.model.LoadStateDict(state); err != nil {
			return services.Wrap(services.ErrCheckpoint, "training", "load model", "", err)
		}
	}
	r.logger.Info("model ready", logging.String("model", r.model.String()))
	return nil
}

func (r *Run) initOptimizer(entries map[string]json.RawMessage) error {
	var err error
	r.optimizer, err = optim.New(r.opts.TrainerOpts.Optimizer, r.opts.TrainerOpts.OptimizerOpts, r.model)
	if err != nil {
		return err
	}
	if entries != nil {
		var state optim.State
		if err := engine.DecodeEntry(entries, entryOptimizer, &state); err != nil {
			return err
		}
		if err := r.optimizer.LoadStateDict(state); err != nil {
			return err
		}
	}
	r.logger.Info("optimizer ready",
		logging.String("optimizer", r.optimizer.Name()),
		logging.Float64("lr", r.optimizer.LR()),
		logging.Float64("weight_decay", float64(r.optimizer.Params().WeightDecay)),
		logging.Int("step", r.optimizer.Steps()),
	)
	return nil
}

func (r *Run) initData() error {
	loaderOpts := r.opts.DataLoaderOpts
	loaderOpts.Workers = r.device.Workers(loaderOpts.Workers)
	bunch, err := pipeline.NewDataBunch(r.opts.DataBunchOpts, r.opts.DataSetOpts, loaderOpts, r.opts.Seed)
	if err != nil {
		return err
	}
	r.bunch = bunch
	r.iterations = int(math.Ceil(float64(bunch.TrainSet.Len()) / float64(loaderOpts.BatchSize)))
	r.logger.Info("data ready", logging.String("data", bunch.String()))
	return nil
}

func (r *Run) initEngines(entries map[string]json.RawMessage) error {
	var err error
	if r.trainer, err = engine.NewSupervisedTrainer(r.model, r.optimizer, r.criterion, r.logger); err != nil {
		return err
	}
	if r.evaluator, err = engine.NewSupervisedEvaluator(r.model, r.metrics, r.logger); err != nil {
		return err
	}
	if entries == nil {
		r.trainer.SetSeed(r.opts.Seed)
		r.evaluator.SetSeed(r.opts.Seed)
		return nil
	}
	var trainerState, evaluatorState engine.State
	if err := engine.DecodeEntry(entries, entryTrainerState, &trainerState); err != nil {
		return err
	}
	if err := engine.DecodeEntry(entries, entryEvaluatorState, &evaluatorState); err != nil {
		return err
	}
	r.trainer.SetState(trainerState)
	r.evaluator.SetState(evaluatorState)
	r.logger.Info("engine state restored",
		logging.Int(logging.FieldEpoch, trainerState.Epoch),
		logging.Int(logging.FieldIteration, trainerState.Iteration),
	)
	return nil
}

// Dir is the run directory.
func (r *Run) Dir() string { return r.dir }

// SessionID identifies this session in logs and the registry.
func (r *Run) SessionID() string { return r.sessionID }

// Iterations is the number of training batches per epoch.
func (r *Run) Iterations() int { return r.iterations }

// Run trains for the configured number of epochs. Engine errors are returned
// unchanged after stats.csv is closed and the session is marked in the
// registry.
func (r *Run) Run(ctx context.Context) error {
	if err := r.begin(ctx); err != nil {
		return err
	}
	r.logger.Info("training started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("epochs", r.opts.TrainerOpts.Epochs),
		logging.Int("iterations", r.iterations),
	)

	if err := r.trainer.Run(ctx, r.bunch.TrainLoader, r.opts.TrainerOpts.Epochs); err != nil {
		r.finish(ctx, err)
		if !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(r.logger, "training failed", "stage_failure",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "resume with --resume once the cause is fixed"),
			)
		}
		return err
	}
	if err := r.stats.Close(); err != nil {
		r.finish(ctx, err)
		return err
	}
	r.finish(ctx, nil)
	r.logger.Info("training completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", r.globalTimer.Value()),
	)
	return nil
}

// begin registers the session. Registry writes ignore cancellation so an
// interrupted run is still recorded.
func (r *Run) begin(ctx context.Context) error {
	record, err := r.registry.Begin(context.WithoutCancel(ctx), runs.NewRun{
		Name:       r.opts.Name,
		SessionID:  r.sessionID,
		Model:      r.opts.Model.Kind(),
		RunDir:     r.dir,
		Resumed:    r.opts.Resume,
		MaxEpochs:  r.opts.TrainerOpts.Epochs,
		EpochsDone: r.trainer.State().Epoch,
	})
	if err != nil {
		return err
	}
	r.record = record
	return nil
}

func (r *Run) finish(ctx context.Context, runErr error) {
	if r.record == nil {
		return
	}
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	status := runs.Status(services.FailureStatus(runErr))
	if err := r.registry.Finish(context.WithoutCancel(ctx), r.record.ID, status, message); err != nil {
		logging.WarnWithContext(r.logger, "failed to record run status", "registry_write_failed",
			logging.Error(err),
			logging.String("status", string(status)),
		)
	}
}

// Close releases the run lock, the run log, stats.csv and an owned registry.
func (r *Run) Close() error {
	var errs []error
	if r.stats != nil {
		errs = append(errs, r.stats.Close())
	}
	if r.ownRegistry && r.registry != nil {
		errs = append(errs, r.registry.Close())
		r.registry = nil
	}
	if r.runLog != nil {
		errs = append(errs, r.runLog.Close())
		r.runLog = nil
	}
	if r.lock != nil {
		errs = append(errs, r.lock.Unlock())
		r.lock = nil
	}
	return errors.Join(errs...)
}
