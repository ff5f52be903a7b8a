package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/openfluke/loom/nn"

	"vidtrain/internal/loss"
)

// Model is the trainable unit consumed by the engine and optimizers.
type Model interface {
	// Forward maps n clips to n×Classes() logits.
	Forward(x []float32, n int, train bool) ([]float32, error)
	// Backward propagates dL/dlogits of the last training Forward, including
	// the gradients of any auxiliary losses.
	Backward(grad []float32) error
	// AuxiliaryLoss is the weighted sum of auxiliary terms of the last
	// training Forward (reconstruction, KL). Zero for plain classifiers.
	AuxiliaryLoss() float64
	Classes() int
	// Networks lists the loom networks whose gradients an optimizer applies.
	Networks() []NamedNetwork
	StateDict() (map[string]string, error)
	LoadStateDict(map[string]string) error
	String() string
}

type networkLayer interface {
	Layer
	Network() *nn.Network
}

// NamedNetwork pairs a loom network with its stable checkpoint key.
type NamedNetwork struct {
	Name    string
	Network *nn.Network
}

// Geometry describes the clips fed to a model.
type Geometry struct {
	TimeSteps int
	Channels  int
	Height    int
	Width     int
	Classes   int
}

// FrameVolume is the shape of one frame.
func (g Geometry) FrameVolume() Volume {
	return Volume{Channels: g.Channels, Height: g.Height, Width: g.Width}
}

// ClipSize is the number of values in one clip.
func (g Geometry) ClipSize() int {
	return g.TimeSteps * g.Channels * g.Height * g.Width
}

// BuildOptions carries everything a Spec needs besides its own hyperparameters.
type BuildOptions struct {
	Geometry
	// BatchSize overrides the spec batch size when positive.
	BatchSize int
	// ReconstructionWeight scales the decoder MSE term.
	ReconstructionWeight float64
	// KLWeight scales the VAE KL term.
	KLWeight float64
	Seed     uint64
}

// Parts assembles a VideoModel. Encoder runs on clips and produces per-clip
// features; Latent (optional) turns features into a sampled code; Head maps
// features or code to logits; Decoder (optional) reconstructs Target(x) from
// the features, or from the code when DecodeLatent is set.
type Parts struct {
	Kind         string
	Classes      int
	Encoder      []Layer
	Latent       *Latent
	Head         []Layer
	Decoder      []Layer
	DecodeLatent bool
	Target       func(x []float32, n int) []float32
	// ReconstructionWeight scales the decoder MSE term.
	ReconstructionWeight float64
	// Vote selects soft or hard voting over VoteSamples latent draws at
	// evaluation time. Ignored without Latent.
	Vote        string
	VoteSamples int
}

// VideoModel composes layers into an encoder/latent/head/decoder graph.
type VideoModel struct {
	parts Parts

	train      bool
	reconLoss  float64
	reconGrad  []float32
	encoderOut int
}

// NewVideoModel validates parts and returns the composed model.
func NewVideoModel(parts Parts) (*VideoModel, error) {
	if parts.Classes <= 0 {
		return nil, errors.New("model: classes must be positive")
	}
	if len(parts.Head) == 0 {
		return nil, errors.New("model: head must not be empty")
	}
	if len(parts.Decoder) > 0 && parts.Target == nil {
		return nil, errors.New("model: decoder requires a reconstruction target")
	}
	if parts.Latent != nil && parts.VoteSamples <= 0 {
		parts.VoteSamples = 1
	}
	parts.Vote = strings.ToLower(strings.TrimSpace(parts.Vote))
	if parts.Vote == "" {
		parts.Vote = VoteSoft
	}
	return &VideoModel{parts: parts}, nil
}

func (m *VideoModel) Classes() int { return m.parts.Classes }

func (m *VideoModel) AuxiliaryLoss() float64 {
	if !m.train {
		return 0
	}
	loss := m.reconLoss
	if m.parts.Latent != nil {
		loss += m.parts.Latent.AuxiliaryLoss()
	}
	return loss
}

func (m *VideoModel) Forward(x []float32, n int, train bool) ([]float32, error) {
	m.train = train
	m.reconLoss = 0
	m.reconGrad = nil

	features, err := forwardAll(m.parts.Encoder, x, n, train)
	if err != nil {
		return nil, err
	}
	m.encoderOut = len(features)

	code := features
	if m.parts.Latent != nil {
		if code, err = m.parts.Latent.Forward(features, n, train); err != nil {
			return nil, err
		}
	}

	logits, err := forwardAll(m.parts.Head, code, n, train)
	if err != nil {
		return nil, err
	}
	if len(logits) != n*m.parts.Classes {
		return nil, fmt.Errorf("model: head produced %d values, want %d", len(logits), n*m.parts.Classes)
	}

	if train && len(m.parts.Decoder) > 0 {
		src := features
		if m.parts.DecodeLatent && m.parts.Latent != nil {
			src = code
		}
		recon, err := forwardAll(m.parts.Decoder, src, n, train)
		if err != nil {
			return nil, err
		}
		target := m.parts.Target(x, n)
		if len(target) != len(recon) {
			return nil, fmt.Errorf("model: reconstruction has %d values, target %d", len(recon), len(target))
		}
		m.reconLoss, m.reconGrad, err = loss.MSE{Weight: m.parts.ReconstructionWeight}.Forward(recon, target)
		if err != nil {
			return nil, err
		}
	}

	if !train && m.parts.Latent != nil && m.parts.VoteSamples > 1 {
		return m.vote(logits, n)
	}
	return logits, nil
}

// vote re-runs the head on fresh latent samples and combines the draws.
func (m *VideoModel) vote(first []float32, n int) ([]float32, error) {
	classes := m.parts.Classes
	acc := make([]float64, n*classes)
	add := func(logits []float32) {
		for i := 0; i < n; i++ {
			row := logits[i*classes : (i+1)*classes]
			if m.parts.Vote == VoteHard {
				acc[i*classes+argmax(row)]++
				continue
			}
			for j, p := range loss.Softmax(row) {
				acc[i*classes+j] += p
			}
		}
	}
	add(first)
	for s := 1; s < m.parts.VoteSamples; s++ {
		logits, err := forwardAll(m.parts.Head, m.parts.Latent.Resample(), n, false)
		if err != nil {
			return nil, err
		}
		add(logits)
	}
	out := make([]float32, len(acc))
	samples := float64(m.parts.VoteSamples)
	for i, v := range acc {
		out[i] = float32(math.Log(v/samples + 1e-8))
	}
	return out, nil
}

func (m *VideoModel) Backward(grad []float32) error {
	if !m.train {
		return errors.New("model: backward called without a training forward pass")
	}
	g, err := backwardAll(m.parts.Head, grad)
	if err != nil {
		return err
	}

	var gDecoder []float32
	if m.reconGrad != nil {
		if gDecoder, err = backwardAll(m.parts.Decoder, m.reconGrad); err != nil {
			return err
		}
		if m.parts.DecodeLatent && m.parts.Latent != nil {
			addInto(g, gDecoder)
			gDecoder = nil
		}
	}

	if m.parts.Latent != nil {
		if g, err = m.parts.Latent.Backward(g); err != nil {
			return err
		}
	}
	if gDecoder != nil {
		addInto(g, gDecoder)
	}
	if len(g) != m.encoderOut {
		return fmt.Errorf("model: encoder gradient has %d values, want %d", len(g), m.encoderOut)
	}
	_, err = backwardAll(m.parts.Encoder, g)
	return err
}

func (m *VideoModel) Networks() []NamedNetwork {
	var out []NamedNetwork
	for _, layer := range m.layers() {
		if nl, ok := layer.(networkLayer); ok {
			out = append(out, NamedNetwork{Name: nl.Name(), Network: nl.Network()})
		}
	}
	return out
}

func (m *VideoModel) StateDict() (map[string]string, error) {
	state := make(map[string]string)
	for _, layer := range m.layers() {
		sl, ok := layer.(Stateful)
		if !ok {
			continue
		}
		encoded, err := sl.State()
		if err != nil {
			return nil, fmt.Errorf("model: save %s: %w", sl.Name(), err)
		}
		state[sl.Name()] = encoded
	}
	return state, nil
}

func (m *VideoModel) LoadStateDict(state map[string]string) error {
	for _, layer := range m.layers() {
		sl, ok := layer.(Stateful)
		if !ok {
			continue
		}
		encoded, found := state[sl.Name()]
		if !found {
			return fmt.Errorf("model: checkpoint is missing %q", sl.Name())
		}
		if err := sl.LoadState(encoded); err != nil {
			return err
		}
	}
	return nil
}

func (m *VideoModel) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(classes=%d", m.parts.Kind, m.parts.Classes)
	names := func(label string, layers []Layer) {
		if len(layers) == 0 {
			return
		}
		parts := make([]string, len(layers))
		for i, l := range layers {
			parts[i] = l.Name()
		}
		fmt.Fprintf(&b, ", %s=[%s]", label, strings.Join(parts, " "))
	}
	names("encoder", m.parts.Encoder)
	if m.parts.Latent != nil {
		fmt.Fprintf(&b, ", latent=%d vote=%s×%d", m.parts.Latent.Planes(), m.parts.Vote, m.parts.VoteSamples)
	}
	names("head", m.parts.Head)
	names("decoder", m.parts.Decoder)
	b.WriteByte(')')
	return b.String()
}

func (m *VideoModel) layers() []Layer {
	all := make([]Layer, 0, len(m.parts.Encoder)+len(m.parts.Head)+len(m.parts.Decoder))
	all = append(all, m.parts.Encoder...)
	all = append(all, m.parts.Head...)
	all = append(all, m.parts.Decoder...)
	return all
}

func forwardAll(layers []Layer, x []float32, n int, train bool) ([]float32, error) {
	var err error
	for _, layer := range layers {
		if x, err = layer.Forward(x, n, train); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func backwardAll(layers []Layer, grad []float32) ([]float32, error) {
	var err error
	for i := len(layers) - 1; i >= 0; i-- {
		if grad, err = layers[i].Backward(grad); err != nil {
			return nil, err
		}
	}
	return grad, nil
}

func addInto(dst, src []float32) {
	for i := range dst {
		if i < len(src) {
			dst[i] += src[i]
		}
	}
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

