// Package metrics accumulates evaluation metrics over the batches of an epoch.
package metrics

import (
	"errors"
	"fmt"

	"vidtrain/internal/loss"
	"vidtrain/internal/options"
	"vidtrain/internal/services"
)

// ErrNoSamples is returned by Compute before any batch was seen.
var ErrNoSamples = errors.New("metric computed before any samples")

// Batch is one evaluated batch: n×Classes logits and n labels.
type Batch struct {
	Logits  []float32
	Labels  []int
	Classes int
}

// Metric accumulates a scalar over batches.
type Metric interface {
	Name() string
	Reset()
	Update(Batch) error
	Compute() (float64, error)
}

// Loss is the sample-weighted running mean of a criterion.
type Loss struct {
	name      string
	criterion loss.Criterion
	sum       float64
	count     int
}

// NewLoss returns a running mean of criterion named name.
func NewLoss(name string, criterion loss.Criterion) *Loss {
	return &Loss{name: name, criterion: criterion}
}

func (m *Loss) Name() string { return m.name }

func (m *Loss) Reset() {
	m.sum = 0
	m.count = 0
}

func (m *Loss) Update(b Batch) error {
	value, _, err := m.criterion.Forward(b.Logits, b.Labels, b.Classes)
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	m.sum += value * float64(len(b.Labels))
	m.count += len(b.Labels)
	return nil
}

func (m *Loss) Compute() (float64, error) {
	if m.count == 0 {
		return 0, fmt.Errorf("%s: %w", m.name, ErrNoSamples)
	}
	return m.sum / float64(m.count), nil
}

// TopK is the fraction of samples whose label is among the k highest logits.
type TopK struct {
	name    string
	k       int
	correct int
	count   int
}

// NewTopK returns a top-k accuracy metric.
func NewTopK(name string, k int) *TopK {
	return &TopK{name: name, k: k}
}

func (m *TopK) Name() string { return m.name }

func (m *TopK) Reset() {
	m.correct = 0
	m.count = 0
}

func (m *TopK) Update(b Batch) error {
	if b.Classes <= 0 || len(b.Logits) != len(b.Labels)*b.Classes {
		return fmt.Errorf("%s: %d logits for %d samples of %d classes", m.name, len(b.Logits), len(b.Labels), b.Classes)
	}
	for i, label := range b.Labels {
		if label < 0 || label >= b.Classes {
			return fmt.Errorf("%s: label %d out of range [0, %d)", m.name, label, b.Classes)
		}
		row := b.Logits[i*b.Classes : (i+1)*b.Classes]
		target := row[label]
		higher := 0
		for j, v := range row {
			if v > target || (v == target && j < label) {
				higher++
			}
		}
		if higher < m.k {
			m.correct++
		}
	}
	m.count += len(b.Labels)
	return nil
}

func (m *TopK) Compute() (float64, error) {
	if m.count == 0 {
		return 0, fmt.Errorf("%s: %w", m.name, ErrNoSamples)
	}
	return float64(m.correct) / float64(m.count), nil
}

// FromSpecs builds the metrics listed in specs. Loss metrics use criterion.
func FromSpecs(specs []options.MetricSpec, criterion loss.Criterion) ([]Metric, error) {
	out := make([]Metric, 0, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case options.MetricLoss:
			if criterion == nil {
				return nil, services.Wrap(services.ErrValidation, "metrics", "build", "loss metric needs a criterion", nil)
			}
			out = append(out, NewLoss(spec.Name, criterion))
		case options.MetricTopK:
			if spec.K <= 0 {
				return nil, services.Wrap(services.ErrValidation, "metrics", "build", fmt.Sprintf("metric %q needs a positive k", spec.Name), nil)
			}
			out = append(out, NewTopK(spec.Name, spec.K))
		default:
			return nil, services.Wrap(services.ErrValidation, "metrics", "build", fmt.Sprintf("metric %q has unknown kind %q", spec.Name, spec.Kind), nil)
		}
	}
	return out, nil
}
