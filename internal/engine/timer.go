package engine

import (
	"context"
	"time"
)

// Timer measures wall time between engine events. Start resets the timer,
// Pause and Resume suspend and continue it, and Step counts completed steps.
// With Average set, Value divides the elapsed time by the step count.
type Timer struct {
	average bool
	now     func() time.Time

	started time.Time
	total   time.Duration
	running bool
	steps   int
}

// NewTimer returns a stopped timer.
func NewTimer(average bool) *Timer {
	return &Timer{average: average, now: time.Now}
}

// TimerEvents selects which events drive a Timer. Empty events are ignored.
type TimerEvents struct {
	Start  Event
	Pause  Event
	Resume Event
	Step   Event
}

// Attach registers the timer on e.
func (t *Timer) Attach(e *Engine, events TimerEvents) {
	hook := func(event Event, fn func()) {
		if event == "" {
			return
		}
		e.On(event, func(context.Context, *Engine) error {
			fn()
			return nil
		})
	}
	hook(events.Start, t.Reset)
	hook(events.Pause, t.Pause)
	hook(events.Resume, t.Resume)
	hook(events.Step, t.Step)
}

// Reset zeroes the timer and starts it.
func (t *Timer) Reset() {
	t.total = 0
	t.steps = 0
	t.started = t.now()
	t.running = true
}

func (t *Timer) Pause() {
	if !t.running {
		return
	}
	t.total += t.now().Sub(t.started)
	t.running = false
}

func (t *Timer) Resume() {
	if t.running {
		return
	}
	t.started = t.now()
	t.running = true
}

func (t *Timer) Step() { t.steps++ }

// Value is the elapsed time, averaged over steps when the timer averages.
func (t *Timer) Value() time.Duration {
	elapsed := t.total
	if t.running {
		elapsed += t.now().Sub(t.started)
	}
	if t.average && t.steps > 0 {
		return elapsed / time.Duration(t.steps)
	}
	return elapsed
}
