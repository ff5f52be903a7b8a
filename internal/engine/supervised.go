package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vidtrain/internal/loss"
	"vidtrain/internal/metrics"
	"vidtrain/internal/models"
	"vidtrain/internal/pipeline"
)

// Stepper applies the gradients accumulated by the last backward pass.
type Stepper interface {
	Step()
}

// NewSupervisedTrainer returns an engine whose iteration runs a training
// forward pass, the criterion, the backward pass and one optimizer step. The
// iteration output is the criterion loss plus the model's auxiliary losses.
func NewSupervisedTrainer(model models.Model, optimizer Stepper, criterion loss.Criterion, logger *slog.Logger) (*Engine, error) {
	if model == nil || optimizer == nil || criterion == nil {
		return nil, errors.New("trainer: model, optimizer and criterion are required")
	}
	process := func(_ context.Context, _ *Engine, batch pipeline.Batch) (float64, error) {
		logits, err := model.Forward(batch.X, batch.N, true)
		if err != nil {
			return 0, fmt.Errorf("forward: %w", err)
		}
		value, grad, err := criterion.Forward(logits, batch.Labels, model.Classes())
		if err != nil {
			return 0, err
		}
		total := value + model.AuxiliaryLoss()
		if err := model.Backward(grad); err != nil {
			return 0, fmt.Errorf("backward: %w", err)
		}
		optimizer.Step()
		return total, nil
	}
	return New("trainer", process, logger), nil
}

// NewSupervisedEvaluator returns an engine that runs inference over a loader
// and stores the computed metrics in its state when the epoch completes.
func NewSupervisedEvaluator(model models.Model, ms []metrics.Metric, logger *slog.Logger) (*Engine, error) {
	if model == nil {
		return nil, errors.New("evaluator: model is required")
	}
	process := func(_ context.Context, _ *Engine, batch pipeline.Batch) (float64, error) {
		logits, err := model.Forward(batch.X, batch.N, false)
		if err != nil {
			return 0, fmt.Errorf("forward: %w", err)
		}
		for _, m := range ms {
			if err := m.Update(metrics.Batch{Logits: logits, Labels: batch.Labels, Classes: model.Classes()}); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	e := New("evaluator", process, logger)
	e.On(EpochStarted, func(context.Context, *Engine) error {
		for _, m := range ms {
			m.Reset()
		}
		return nil
	})
	e.On(EpochCompleted, func(_ context.Context, e *Engine) error {
		for _, m := range ms {
			value, err := m.Compute()
			if err != nil {
				return err
			}
			e.SetMetric(m.Name(), value)
		}
		return nil
	})
	return e, nil
}
