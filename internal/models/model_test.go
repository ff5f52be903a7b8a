package models_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"vidtrain/internal/models"
)

// scaleLayer multiplies by a constant and records calls.
type scaleLayer struct {
	name     string
	factor   float32
	forwards int
	grads    [][]float32
	state    string
}

func (s *scaleLayer) Name() string { return s.name }

func (s *scaleLayer) Forward(x []float32, _ int, _ bool) ([]float32, error) {
	s.forwards++
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = v * s.factor
	}
	return out, nil
}

func (s *scaleLayer) Backward(grad []float32) ([]float32, error) {
	s.grads = append(s.grads, append([]float32(nil), grad...))
	out := make([]float32, len(grad))
	for i, g := range grad {
		out[i] = g * s.factor
	}
	return out, nil
}

func (s *scaleLayer) State() (string, error) { return s.name + ":" + s.state, nil }

func (s *scaleLayer) LoadState(v string) error {
	prefix := s.name + ":"
	if !strings.HasPrefix(v, prefix) {
		return errors.New("foreign state")
	}
	s.state = strings.TrimPrefix(v, prefix)
	return nil
}

func TestVideoModelForwardBackwardChain(t *testing.T) {
	enc := &scaleLayer{name: "enc", factor: 2}
	head := &scaleLayer{name: "head", factor: 3}
	m, err := models.NewVideoModel(models.Parts{Kind: "test", Classes: 2, Encoder: []models.Layer{enc}, Head: []models.Layer{head}})
	if err != nil {
		t.Fatalf("NewVideoModel: %v", err)
	}

	logits, err := m.Forward([]float32{1, 2, 3, 4}, 2, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := []float32{6, 12, 18, 24}
	for i := range want {
		if logits[i] != want[i] {
			t.Fatalf("unexpected logits: got %v want %v", logits, want)
		}
	}
	if err := m.Backward([]float32{1, 1, 1, 1}); err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if got := enc.grads[0][0]; got != 3 {
		t.Fatalf("unexpected encoder gradient: got %v want 3", got)
	}
	if m.AuxiliaryLoss() != 0 {
		t.Fatalf("expected no auxiliary loss, got %v", m.AuxiliaryLoss())
	}
}

func TestVideoModelRejectsWrongLogitWidth(t *testing.T) {
	m, err := models.NewVideoModel(models.Parts{Kind: "test", Classes: 3, Head: []models.Layer{&scaleLayer{name: "h", factor: 1}}})
	if err != nil {
		t.Fatalf("NewVideoModel: %v", err)
	}
	if _, err := m.Forward([]float32{1, 2}, 1, false); err == nil {
		t.Fatal("expected width mismatch error")
	}
}

func TestVideoModelBackwardRequiresTrainingForward(t *testing.T) {
	m, _ := models.NewVideoModel(models.Parts{Kind: "test", Classes: 1, Head: []models.Layer{&scaleLayer{name: "h", factor: 1}}})
	if _, err := m.Forward([]float32{1}, 1, false); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if err := m.Backward([]float32{1}); err == nil {
		t.Fatal("expected error after evaluation forward")
	}
}

func TestVideoModelReconstructionAddsAuxiliaryGradient(t *testing.T) {
	enc := &scaleLayer{name: "enc", factor: 1}
	head := &scaleLayer{name: "head", factor: 1}
	dec := &scaleLayer{name: "dec", factor: 1}
	m, err := models.NewVideoModel(models.Parts{
		Kind:                 "ae",
		Classes:              2,
		Encoder:              []models.Layer{enc},
		Head:                 []models.Layer{head},
		Decoder:              []models.Layer{dec},
		Target:               func(x []float32, n int) []float32 { return make([]float32, len(x)) },
		ReconstructionWeight: 1,
	})
	if err != nil {
		t.Fatalf("NewVideoModel: %v", err)
	}
	if _, err := m.Forward([]float32{1, 1}, 1, true); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got := m.AuxiliaryLoss(); math.Abs(got-1) > 1e-6 {
		t.Fatalf("unexpected reconstruction loss: got %v want 1", got)
	}
	if err := m.Backward([]float32{0, 0}); err != nil {
		t.Fatalf("Backward: %v", err)
	}
	// d/dx mean((x-0)^2) = 2x/len = 1 per element.
	if got := enc.grads[0][0]; math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("unexpected encoder gradient from decoder: got %v want 1", got)
	}

	if _, err := m.Forward([]float32{1, 1}, 1, false); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if dec.forwards != 1 {
		t.Fatalf("decoder should only run in training, ran %d times", dec.forwards)
	}
}

func TestVideoModelStateDictRoundTrip(t *testing.T) {
	enc := &scaleLayer{name: "enc", factor: 1, state: "a"}
	head := &scaleLayer{name: "head", factor: 1, state: "b"}
	m, _ := models.NewVideoModel(models.Parts{Kind: "test", Classes: 1, Encoder: []models.Layer{enc, models.NewDropout("drop", 0.5, 1)}, Head: []models.Layer{head}})

	state, err := m.StateDict()
	if err != nil {
		t.Fatalf("StateDict: %v", err)
	}
	if len(state) != 2 || state["enc"] != "enc:a" || state["head"] != "head:b" {
		t.Fatalf("unexpected state dict: %v", state)
	}

	enc.state, head.state = "", ""
	if err := m.LoadStateDict(state); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}
	if enc.state != "a" || head.state != "b" {
		t.Fatalf("state not restored: enc=%q head=%q", enc.state, head.state)
	}

	delete(state, "head")
	if err := m.LoadStateDict(state); err == nil {
		t.Fatal("expected error for missing layer state")
	}
}

func TestVideoModelSoftVoteAveragesProbabilities(t *testing.T) {
	latent := models.NewLatent("latent", 2, 0, 7)
	head := &scaleLayer{name: "head", factor: 0}
	m, err := models.NewVideoModel(models.Parts{
		Kind:        "gsnn",
		Classes:     2,
		Encoder:     []models.Layer{&scaleLayer{name: "enc", factor: 1}},
		Latent:      latent,
		Head:        []models.Layer{head},
		Vote:        models.VoteSoft,
		VoteSamples: 4,
	})
	if err != nil {
		t.Fatalf("NewVideoModel: %v", err)
	}
	logits, err := m.Forward([]float32{0, 0, 0, 0}, 1, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if head.forwards != 4 {
		t.Fatalf("expected 4 head passes, got %d", head.forwards)
	}
	// A zero head gives uniform probabilities for every draw.
	for _, v := range logits {
		if math.Abs(math.Exp(float64(v))-0.5) > 1e-4 {
			t.Fatalf("expected log(0.5) logits, got %v", logits)
		}
	}
}

func TestDropoutMasksAndScales(t *testing.T) {
	d := models.NewDropout("drop", 0.5, 3)
	x := make([]float32, 1000)
	for i := range x {
		x[i] = 1
	}
	out, err := d.Forward(x, 1, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	zeros := 0
	for _, v := range out {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected dropout value %v", v)
		}
	}
	if zeros < 350 || zeros > 650 {
		t.Fatalf("implausible dropout count: %d of 1000", zeros)
	}
	grad, _ := d.Backward(x)
	for i := range grad {
		if grad[i] != out[i] {
			t.Fatalf("gradient mask differs from forward mask at %d", i)
		}
	}

	eval, _ := d.Forward(x, 1, false)
	if &eval[0] != &x[0] {
		t.Fatal("dropout should be the identity at evaluation time")
	}
}

func TestLatentKLIsZeroAtStandardNormal(t *testing.T) {
	l := models.NewLatent("latent", 3, 1, 11)
	// mu = 0, logvar = 0 for two samples.
	if _, err := l.Forward(make([]float32, 12), 2, true); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got := l.AuxiliaryLoss(); math.Abs(got) > 1e-9 {
		t.Fatalf("expected zero KL, got %v", got)
	}
	grad, err := l.Backward(make([]float32, 6))
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	for _, g := range grad {
		if math.Abs(float64(g)) > 1e-9 {
			t.Fatalf("expected zero gradient, got %v", grad)
		}
	}
}

func TestLatentKLPenalizesMean(t *testing.T) {
	l := models.NewLatent("latent", 1, 2, 5)
	if _, err := l.Forward([]float32{2, 0}, 1, true); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// KL = 0.5 * mu^2 = 2, weighted by 2.
	if got := l.AuxiliaryLoss(); math.Abs(got-4) > 1e-6 {
		t.Fatalf("unexpected KL: got %v want 4", got)
	}
	grad, _ := l.Backward([]float32{0})
	if math.Abs(float64(grad[0])-4) > 1e-6 {
		t.Fatalf("unexpected mu gradient: got %v want 4", grad[0])
	}
}

func TestOptionsValidate(t *testing.T) {
	tarn := models.TARNOptions{BatchSize: 4, TimeSteps: 4, SpatialEncoderPlanes: []int{8}, BottleneckPlanes: 8, ClassifierDropRate: 0.5, ClassEmbedPlanes: 16}
	tests := []struct {
		name    string
		spec    models.Spec
		wantErr bool
	}{
		{"tarn ok", tarn, false},
		{"tarn empty planes", models.TARNOptions{BatchSize: 1, TimeSteps: 1, BottleneckPlanes: 1, ClassEmbedPlanes: 1}, true},
		{"gsnn bad vote", models.GSNNTARNOptions{TARNOptions: tarn, VoteType: "majority"}, true},
		{"gsnn hard vote", models.GSNNTARNOptions{TARNOptions: tarn, VoteType: "hard"}, false},
		{"vae no decoder", models.VAETARNOptions{TARNOptions: tarn, VoteType: "soft"}, true},
		{"i3d drop one", models.I3DOptions{BatchSize: 1, TimeSteps: 4, DropoutProb: 1}, true},
		{"ae i3d ok", models.AEI3DOptions{BatchSize: 1, TimeSteps: 4, EmbedPlanes: 8}, false},
		{"tadn zero batch", models.TADNOptions{TimeSteps: 4, TemporalInPlanes: 1, GrowthRate: 1, ClassEmbedPlanes: 1}, true},
		{"vae i3d no latent", models.VAEI3DOptions{BatchSize: 1, TimeSteps: 4, VoteType: "soft"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate: got %v wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKindsAreDistinct(t *testing.T) {
	specs := []models.Spec{
		models.TADNOptions{}, models.TARNOptions{}, models.AETARNOptions{}, models.GSNNTARNOptions{},
		models.VAETARNOptions{}, models.I3DOptions{}, models.AEI3DOptions{}, models.GSNNI3DOptions{}, models.VAEI3DOptions{},
	}
	seen := map[string]bool{}
	for _, s := range specs {
		if seen[s.Kind()] {
			t.Fatalf("duplicate kind %q", s.Kind())
		}
		seen[s.Kind()] = true
	}
}
