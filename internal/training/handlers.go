package training

import (
	"context"
	"fmt"
	"sort"

	"github.com/schollz/progressbar/v3"

	"vidtrain/internal/engine"
	"vidtrain/internal/logging"
	"vidtrain/internal/pipeline"
	"vidtrain/internal/runs"
)

// attachHandlers wires timers, logging, evaluation, checkpoints and the
// exception path onto the engines. Evaluation runs before the checkpoint so
// a saved evaluator state always matches the row written for that epoch.
func (r *Run) attachHandlers() {
	r.globalTimer = engine.NewTimer(false)
	r.globalTimer.Attach(r.trainer, engine.TimerEvents{Start: engine.Started, Step: engine.EpochCompleted})
	r.iterTimer = engine.NewTimer(false)
	r.iterTimer.Attach(r.trainer, engine.TimerEvents{Start: engine.IterationStarted, Step: engine.IterationCompleted})
	r.epochTimer = engine.NewTimer(false)
	r.epochTimer.Attach(r.trainer, engine.TimerEvents{Start: engine.EpochStarted})

	if r.progress != nil {
		r.trainer.On(engine.EpochStarted, r.startProgress)
		r.trainer.On(engine.IterationCompleted, r.advanceProgress)
		r.trainer.On(engine.EpochCompleted, r.finishProgress)
	}
	r.trainer.On(engine.IterationCompleted, r.logIteration)
	r.trainer.On(engine.EpochCompleted, r.evaluate)
	r.trainer.On(engine.EpochCompleted, r.checkpoint.Handler(map[string]engine.Snapshot{
		entryModel:          func() (any, error) { return r.model.StateDict() },
		entryOptimizer:      func() (any, error) { return r.optimizer.StateDict() },
		entryTrainerState:   func() (any, error) { return r.trainer.State(), nil },
		entryEvaluatorState: func() (any, error) { return r.evaluator.State(), nil },
	}))
	r.trainer.OnException(r.onException)
	r.evaluator.OnException(r.onException)
}

func (r *Run) logIteration(ctx context.Context, e *engine.Engine) error {
	state := e.State()
	length := state.EpochLength
	if length <= 0 {
		length = r.iterations
	}
	iteration := (state.Iteration-1)%length + 1
	if iteration%r.opts.LogInterval != 0 {
		return nil
	}
	logging.WithContext(ctx, r.logger).Info(
		fmt.Sprintf("[Batch: %04d/%4d][Iteration Time: %6.2fs][Batch Loss: %8.4f]",
			iteration, r.iterations, r.iterTimer.Value().Seconds(), state.Output),
		logging.String(logging.FieldEventType, "batch_completed"),
		logging.Int(logging.FieldEpoch, state.Epoch),
		logging.Int(logging.FieldIteration, state.Iteration),
	)
	return nil
}

// evaluate scores the training and validation loaders and records one row.
func (r *Run) evaluate(ctx context.Context, e *engine.Engine) error {
	epoch := e.State().Epoch
	row := make(map[string]float64, 2*len(r.metrics))
	splits := []struct {
		prefix string
		loader *pipeline.Loader
	}{
		{"train", r.bunch.TrainLoader},
		{"valid", r.bunch.ValidLoader},
	}
	for _, split := range splits {
		if err := r.evaluator.Run(ctx, split.loader, 1); err != nil {
			return err
		}
		for name, value := range r.evaluator.State().Metrics {
			row[split.prefix+"_"+name] = value
		}
	}
	if err := r.stats.WriteRow(row); err != nil {
		return err
	}

	elapsed := r.epochTimer.Value()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "epoch_completed"),
		logging.Int(logging.FieldEpoch, epoch),
		logging.Duration("elapsed", elapsed),
	}
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attrs = append(attrs, logging.Float64(name, row[name]))
	}
	logging.WithContext(ctx, r.logger).Info(fmt.Sprintf("epoch %d/%d completed", epoch, r.opts.TrainerOpts.Epochs), logging.Args(attrs...)...)

	if r.record != nil {
		if err := r.registry.RecordEpoch(ctx, r.record.ID, runs.EpochStatFromRow(epoch, row, elapsed)); err != nil {
			logging.WarnWithContext(r.logger, "failed to record epoch", "registry_write_failed",
				logging.Int(logging.FieldEpoch, epoch),
				logging.Error(err),
			)
		}
	}
	return nil
}

// onException closes stats.csv and hands the error back unchanged.
func (r *Run) onException(_ context.Context, _ *engine.Engine, err error) error {
	if closeErr := r.stats.Close(); closeErr != nil {
		logging.WarnWithContext(r.logger, "failed to close stats file", "stats_close_failed",
			logging.Error(closeErr),
		)
	}
	if r.bar != nil {
		_ = r.bar.Exit()
		r.bar = nil
	}
	return err
}

func (r *Run) startProgress(_ context.Context, e *engine.Engine) error {
	state := e.State()
	r.bar = progressbar.NewOptions(r.iterations,
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", state.Epoch, r.opts.TrainerOpts.Epochs)),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batch"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
	return nil
}

func (r *Run) advanceProgress(context.Context, *engine.Engine) error {
	if r.bar == nil {
		return nil
	}
	return r.bar.Add(1)
}

func (r *Run) finishProgress(context.Context, *engine.Engine) error {
	if r.bar == nil {
		return nil
	}
	err := r.bar.Finish()
	r.bar = nil
	return err
}
