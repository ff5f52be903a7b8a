// Package loss implements the training criteria and their gradients.
package loss

import (
	"fmt"
	"math"

	"vidtrain/internal/services"
)

// Criterion scores a batch of logits against integer labels and returns the
// mean loss with its gradient with respect to the logits.
type Criterion interface {
	Forward(logits []float32, labels []int, classes int) (float64, []float32, error)
}

// NameCrossEntropy selects CrossEntropy in New.
const NameCrossEntropy = "cross_entropy"

// New returns the criterion registered under name.
func New(name string) (Criterion, error) {
	switch name {
	case NameCrossEntropy:
		return CrossEntropy{}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "loss", "new", fmt.Sprintf("unsupported criterion %q", name), nil)
	}
}

// CrossEntropy is softmax followed by negative log likelihood, averaged over
// the batch.
type CrossEntropy struct{}

func (CrossEntropy) Forward(logits []float32, labels []int, classes int) (float64, []float32, error) {
	n := len(labels)
	if n == 0 || classes <= 0 {
		return 0, nil, fmt.Errorf("cross entropy: empty batch")
	}
	if len(logits) != n*classes {
		return 0, nil, fmt.Errorf("cross entropy: %d logits for %d samples of %d classes", len(logits), n, classes)
	}
	grad := make([]float32, len(logits))
	var total float64
	for i, label := range labels {
		if label < 0 || label >= classes {
			return 0, nil, fmt.Errorf("cross entropy: label %d out of range [0, %d)", label, classes)
		}
		row := logits[i*classes : (i+1)*classes]
		probs := Softmax(row)
		total -= math.Log(math.Max(probs[label], 1e-12))
		for j, p := range probs {
			if j == label {
				p--
			}
			grad[i*classes+j] = float32(p / float64(n))
		}
	}
	return total / float64(n), grad, nil
}

// MSE is the weighted mean squared error between a prediction and a target.
type MSE struct {
	Weight float64
}

func (m MSE) Forward(pred, target []float32) (float64, []float32, error) {
	if len(pred) != len(target) {
		return 0, nil, fmt.Errorf("mse: prediction has %d values, target %d", len(pred), len(target))
	}
	if len(pred) == 0 {
		return 0, nil, nil
	}
	var sum float64
	grad := make([]float32, len(pred))
	scale := float32(2 * m.Weight / float64(len(pred)))
	for i := range pred {
		d := pred[i] - target[i]
		sum += float64(d) * float64(d)
		grad[i] = scale * d
	}
	return m.Weight * sum / float64(len(pred)), grad, nil
}

// Softmax converts one row of logits to probabilities.
func Softmax(row []float32) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	peak := float64(row[0])
	for _, v := range row[1:] {
		peak = math.Max(peak, float64(v))
	}
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(float64(v) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
