package runs

import "time"

// Status is the lifecycle state of a registered run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	StatusInvalid     Status = "invalid"
)

// IsTerminal reports whether the run has finished.
func (s Status) IsTerminal() bool {
	return s != StatusRunning && s != ""
}

// Run is one training session.
type Run struct {
	ID           int64
	Name         string
	SessionID    string
	Model        string
	RunDir       string
	Status       Status
	Resumed      bool
	MaxEpochs    int
	EpochsDone   int
	ErrorMessage string
	StartedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// Duration is the wall time of the run so far.
func (r Run) Duration() time.Duration {
	end := r.UpdatedAt
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	if end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}

// EpochStat is the evaluation summary of one epoch. Metrics that were not
// computed are nil.
type EpochStat struct {
	RunID      int64
	Epoch      int
	TrainLoss  *float64
	ValidLoss  *float64
	TrainAcc1  *float64
	ValidAcc1  *float64
	TrainAcc3  *float64
	ValidAcc3  *float64
	Duration   time.Duration
	RecordedAt time.Time
}

// EpochStatFromRow maps a stats.csv style row onto an EpochStat.
func EpochStatFromRow(epoch int, row map[string]float64, duration time.Duration) EpochStat {
	pick := func(key string) *float64 {
		v, ok := row[key]
		if !ok {
			return nil
		}
		return &v
	}
	return EpochStat{
		Epoch:     epoch,
		TrainLoss: pick("train_loss"),
		ValidLoss: pick("valid_loss"),
		TrainAcc1: pick("train_acc@1"),
		ValidAcc1: pick("valid_acc@1"),
		TrainAcc3: pick("train_acc@3"),
		ValidAcc3: pick("valid_acc@3"),
		Duration:  duration,
	}
}
