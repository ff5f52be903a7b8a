package loss_test

import (
	"errors"
	"math"
	"testing"

	"vidtrain/internal/loss"
	"vidtrain/internal/services"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	logits := []float32{0, 0, 0, 0, 0, 0}
	got, grad, err := loss.CrossEntropy{}.Forward(logits, []int{0, 2}, 3)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if want := math.Log(3); math.Abs(got-want) > 1e-9 {
		t.Fatalf("loss = %g, want %g", got, want)
	}
	// (p - y) / B with p = 1/3 and B = 2.
	wantGrad := []float32{-1.0 / 3, 1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6, -1.0 / 3}
	for i := range wantGrad {
		if math.Abs(float64(grad[i]-wantGrad[i])) > 1e-6 {
			t.Fatalf("grad[%d] = %g, want %g", i, grad[i], wantGrad[i])
		}
	}
}

func TestCrossEntropyConfidentPrediction(t *testing.T) {
	got, _, err := loss.CrossEntropy{}.Forward([]float32{20, 0}, []int{0}, 2)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got > 1e-6 {
		t.Fatalf("loss = %g, want near zero", got)
	}
}

func TestCrossEntropyRejectsBadInput(t *testing.T) {
	ce := loss.CrossEntropy{}
	if _, _, err := ce.Forward([]float32{0, 0}, nil, 2); err == nil {
		t.Fatal("expected error for empty batch")
	}
	if _, _, err := ce.Forward([]float32{0, 0, 0}, []int{0}, 2); err == nil {
		t.Fatal("expected error for shape mismatch")
	}
	if _, _, err := ce.Forward([]float32{0, 0}, []int{5}, 2); err == nil {
		t.Fatal("expected error for label out of range")
	}
}

func TestMSEWeightsLossAndGradient(t *testing.T) {
	got, grad, err := loss.MSE{Weight: 0.5}.Forward([]float32{1, 3}, []float32{0, 1})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// mean((1, 4)) = 2.5, weighted 1.25.
	if math.Abs(got-1.25) > 1e-9 {
		t.Fatalf("loss = %g, want 1.25", got)
	}
	if grad[0] != 0.5 || grad[1] != 1 {
		t.Fatalf("grad = %v, want [0.5 1]", grad)
	}
	if _, _, err := (loss.MSE{Weight: 1}).Forward([]float32{1}, nil); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestSoftmaxStable(t *testing.T) {
	probs := loss.Softmax([]float32{1000, 1000})
	if math.Abs(probs[0]-0.5) > 1e-12 || math.Abs(probs[1]-0.5) > 1e-12 {
		t.Fatalf("softmax = %v", probs)
	}
}

func TestNewCriterion(t *testing.T) {
	if _, err := loss.New(loss.NameCrossEntropy); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := loss.New("hinge"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
