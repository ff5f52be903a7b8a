package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"vidtrain/internal/logging"
	"vidtrain/internal/pipeline"
	"vidtrain/internal/services"
)

// Event identifies a point in the engine lifecycle.
type Event string

const (
	Started            Event = "started"
	EpochStarted       Event = "epoch_started"
	IterationStarted   Event = "iteration_started"
	IterationCompleted Event = "iteration_completed"
	EpochCompleted     Event = "epoch_completed"
	Completed          Event = "completed"
	ExceptionRaised    Event = "exception_raised"
)

// Handler reacts to a lifecycle event. A returned error aborts the run.
type Handler func(ctx context.Context, e *Engine) error

// ExceptionHandler receives a run error and returns the error to propagate.
// Returning nil swallows it.
type ExceptionHandler func(ctx context.Context, e *Engine, err error) error

// Process handles one batch and returns the scalar iteration output.
type Process func(ctx context.Context, e *Engine, batch pipeline.Batch) (float64, error)

// Loader supplies the batches of one epoch.
type Loader interface {
	Len() int
	Batches(ctx context.Context, epoch int) iter.Seq2[pipeline.Batch, error]
}

// State is the progress of an engine. Iteration counts across epochs.
type State struct {
	Iteration   int                `json:"iteration"`
	Epoch       int                `json:"epoch"`
	MaxEpochs   int                `json:"max_epochs"`
	EpochLength int                `json:"epoch_length"`
	Output      float64            `json:"output"`
	Metrics     map[string]float64 `json:"metrics"`
	Seed        int64              `json:"seed"`
}

// Engine runs a Process over a Loader and fires events.
type Engine struct {
	name       string
	process    Process
	logger     *slog.Logger
	handlers   map[Event][]Handler
	exceptions []ExceptionHandler
	state      State
	terminate  bool
}

// New returns an engine named name that applies process to every batch.
func New(name string, process Process, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		name:     name,
		process:  process,
		logger:   logging.NewComponentLogger(logger, name),
		handlers: make(map[Event][]Handler),
		state:    State{Metrics: map[string]float64{}},
	}
}

// Name identifies the engine in logs.
func (e *Engine) Name() string { return e.name }

// State returns a copy of the current state.
func (e *Engine) State() State {
	s := e.state
	s.Metrics = make(map[string]float64, len(e.state.Metrics))
	for k, v := range e.state.Metrics {
		s.Metrics[k] = v
	}
	return s
}

// SetState replaces the engine state, typically from a checkpoint.
func (e *Engine) SetState(s State) {
	if s.Metrics == nil {
		s.Metrics = map[string]float64{}
	}
	e.state = s
}

// SetSeed records the seed the run was started with.
func (e *Engine) SetSeed(seed int64) { e.state.Seed = seed }

// SetMetric stores a computed metric in the state.
func (e *Engine) SetMetric(name string, value float64) { e.state.Metrics[name] = value }

// On attaches handler to event. Handlers run in attachment order.
func (e *Engine) On(event Event, handler Handler) {
	e.handlers[event] = append(e.handlers[event], handler)
}

// OnException attaches a handler for errors raised during Run.
func (e *Engine) OnException(handler ExceptionHandler) {
	e.exceptions = append(e.exceptions, handler)
}

// Terminate stops the run after the current iteration.
func (e *Engine) Terminate() { e.terminate = true }

// Run processes the loader for maxEpochs epochs. A non-empty state that has
// not reached maxEpochs is resumed at its next epoch; otherwise the run
// starts from scratch. Handlers receive ctx tagged with the engine name as
// its phase.
func (e *Engine) Run(ctx context.Context, loader Loader, maxEpochs int) error {
	ctx = services.WithPhase(ctx, e.name)
	if loader == nil {
		return errors.New("engine: loader is nil")
	}
	if maxEpochs <= 0 {
		return fmt.Errorf("engine: max epochs must be positive, got %d", maxEpochs)
	}
	if err := e.run(ctx, loader, maxEpochs); err != nil {
		return e.raise(ctx, err)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, loader Loader, maxEpochs int) error {
	if e.state.Epoch == 0 || e.state.Epoch >= maxEpochs {
		e.state.Epoch = 0
		e.state.Iteration = 0
		e.state.Output = 0
	} else {
		e.logger.Info("resuming engine",
			logging.Int(logging.FieldEpoch, e.state.Epoch),
			logging.Int(logging.FieldIteration, e.state.Iteration),
		)
	}
	e.state.MaxEpochs = maxEpochs
	e.state.EpochLength = loader.Len()
	e.terminate = false

	if err := e.fire(ctx, Started); err != nil {
		return err
	}
	for e.state.Epoch < maxEpochs && !e.terminate {
		e.state.Epoch++
		if err := e.fire(ctx, EpochStarted); err != nil {
			return err
		}
		if err := e.runEpoch(ctx, loader); err != nil {
			return err
		}
		if err := e.fire(ctx, EpochCompleted); err != nil {
			return err
		}
	}
	return e.fire(ctx, Completed)
}

func (e *Engine) runEpoch(ctx context.Context, loader Loader) error {
	for batch, err := range loader.Batches(ctx, e.state.Epoch) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.state.Iteration++
		if err := e.fire(ctx, IterationStarted); err != nil {
			return err
		}
		output, err := e.process(ctx, e, batch)
		if err != nil {
			return err
		}
		e.state.Output = output
		if err := e.fire(ctx, IterationCompleted); err != nil {
			return err
		}
		if e.terminate {
			e.logger.Info("engine terminated",
				logging.Int(logging.FieldEpoch, e.state.Epoch),
				logging.Int(logging.FieldIteration, e.state.Iteration),
			)
			break
		}
	}
	return ctx.Err()
}

func (e *Engine) fire(ctx context.Context, event Event) error {
	for _, handler := range e.handlers[event] {
		if err := handler(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) raise(ctx context.Context, err error) error {
	if len(e.exceptions) == 0 {
		return err
	}
	e.logger.Debug("engine raised",
		logging.String(logging.FieldEventType, string(ExceptionRaised)),
		logging.Error(err),
	)
	for _, handler := range e.exceptions {
		if err = handler(ctx, e, err); err == nil {
			return nil
		}
	}
	return err
}
