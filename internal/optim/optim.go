package optim

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/openfluke/loom/nn"

	"vidtrain/internal/models"
	"vidtrain/internal/options"
	"vidtrain/internal/services"
)

// Buffer slots kept per parameter tensor.
const (
	slotExpAvg   = "exp_avg"
	slotExpAvgSq = "exp_avg_sq"
	slotMomentum = "momentum_buffer"
	slotSquare   = "square_avg"
)

// Params are the fixed hyperparameters of an optimizer family.
type Params struct {
	Beta1       float32
	Beta2       float32
	Alpha       float32
	Epsilon     float32
	WeightDecay float32
	Momentum    float32
	Dampening   float32
	Nesterov    bool
}

// stage holds the per-tensor buffers for one loom network.
type stage struct {
	name    string
	net     *nn.Network
	buffers map[string][]float32
}

// Optimizer applies the gradients of the last backward pass to every network
// of a model. Kernel and bias tensors of each loom layer are updated in place.
type Optimizer struct {
	kind   options.OptimizerKind
	lr     float32
	params Params
	step   int
	stages []*stage
}

// State is the serializable optimizer state stored in checkpoints. Stages
// maps a network name to its buffers, keyed "<kernel|bias>_<layer>.<slot>".
type State struct {
	Kind   options.OptimizerKind           `json:"kind"`
	Step   int                             `json:"step"`
	Stages map[string]map[string][]float32 `json:"stages"`
}

// New creates an optimizer of the given kind over every model network.
func New(kind options.OptimizerKind, opts options.OptimizerOptions, model models.Model) (*Optimizer, error) {
	if opts.LR <= 0 {
		return nil, services.Wrap(services.ErrValidation, "optim", "new", fmt.Sprintf("learning rate must be positive, got %g", opts.LR), nil)
	}
	if model == nil {
		return nil, services.Wrap(services.ErrValidation, "optim", "new", "model is nil", nil)
	}
	params, err := defaultParams(kind, opts)
	if err != nil {
		return nil, err
	}
	o := &Optimizer{kind: kind, lr: float32(opts.LR), params: params}
	for _, network := range model.Networks() {
		o.stages = append(o.stages, &stage{
			name:    network.Name,
			net:     network.Network,
			buffers: make(map[string][]float32),
		})
	}
	return o, nil
}

// defaultParams mirrors the torch defaults: Adam without weight decay and
// RMSprop with alpha 0.99.
func defaultParams(kind options.OptimizerKind, opts options.OptimizerOptions) (Params, error) {
	switch kind {
	case options.OptimizerAdam:
		return Params{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}, nil
	case options.OptimizerSGD:
		return Params{
			Momentum:  float32(opts.Momentum),
			Dampening: float32(opts.Dampening),
			Nesterov:  opts.Nesterov,
		}, nil
	case options.OptimizerRMSprop:
		return Params{Alpha: 0.99, Epsilon: 1e-8}, nil
	default:
		return Params{}, services.Wrap(services.ErrValidation, "optim", "new", fmt.Sprintf("unsupported optimizer %q", kind), nil)
	}
}

// Kind reports the optimizer family.
func (o *Optimizer) Kind() options.OptimizerKind { return o.kind }

// LR reports the learning rate applied on every step.
func (o *Optimizer) LR() float64 { return float64(o.lr) }

// Params reports the family hyperparameters.
func (o *Optimizer) Params() Params { return o.params }

// Steps is the number of updates applied, including those restored from a
// checkpoint.
func (o *Optimizer) Steps() int { return o.step }

// Name is the display name of the optimizer family.
func (o *Optimizer) Name() string {
	switch o.kind {
	case options.OptimizerAdam:
		return "Adam"
	case options.OptimizerSGD:
		if o.params.Nesterov {
			return "SGD (Nesterov momentum)"
		}
		if o.params.Momentum > 0 {
			return "SGD (momentum)"
		}
		return "SGD"
	case options.OptimizerRMSprop:
		return "RMSprop"
	default:
		return string(o.kind)
	}
}

// Step applies the gradients of the last backward pass.
func (o *Optimizer) Step() {
	o.step++
	for _, st := range o.stages {
		if st.net == nil {
			continue
		}
		for i := 0; i < st.net.TotalLayers(); i++ {
			layer := &st.net.Layers[i]
			o.update(st, tensorKey("kernel", i), layer.Kernel, st.net.GetKernelGradients(i))
			o.update(st, tensorKey("bias", i), layer.Bias, st.net.GetBiasGradients(i))
		}
	}
}

func tensorKey(tensor string, layer int) string {
	return tensor + "_" + strconv.Itoa(layer)
}

// update skips tensors without a matching gradient, such as parameterless
// layers or layers the last backward pass did not reach.
func (o *Optimizer) update(st *stage, key string, param, grad []float32) {
	if len(param) == 0 || len(grad) != len(param) {
		return
	}
	switch o.kind {
	case options.OptimizerAdam:
		m, _ := st.buffer(key+"."+slotExpAvg, len(param))
		v, _ := st.buffer(key+"."+slotExpAvgSq, len(param))
		adamUpdate(param, grad, m, v, o.lr, o.step, o.params)
	case options.OptimizerSGD:
		if o.params.Momentum == 0 {
			sgdUpdate(param, grad, nil, false, o.lr, o.params)
			return
		}
		buf, fresh := st.buffer(key+"."+slotMomentum, len(param))
		sgdUpdate(param, grad, buf, fresh, o.lr, o.params)
	case options.OptimizerRMSprop:
		sq, _ := st.buffer(key+"."+slotSquare, len(param))
		rmspropUpdate(param, grad, sq, o.lr, o.params)
	}
}

// buffer returns the named buffer, allocating a zeroed one on first use.
func (st *stage) buffer(key string, n int) ([]float32, bool) {
	if buf, ok := st.buffers[key]; ok && len(buf) == n {
		return buf, false
	}
	buf := make([]float32, n)
	st.buffers[key] = buf
	return buf, true
}

func adamUpdate(param, grad, m, v []float32, lr float32, step int, p Params) {
	bc1 := 1 - math.Pow(float64(p.Beta1), float64(step))
	bc2 := 1 - math.Pow(float64(p.Beta2), float64(step))
	stepSize := float64(lr) / bc1
	bc2Sqrt := math.Sqrt(bc2)
	for j, g := range grad {
		if p.WeightDecay != 0 {
			g += p.WeightDecay * param[j]
		}
		m[j] = p.Beta1*m[j] + (1-p.Beta1)*g
		v[j] = p.Beta2*v[j] + (1-p.Beta2)*g*g
		denom := math.Sqrt(float64(v[j]))/bc2Sqrt + float64(p.Epsilon)
		param[j] -= float32(stepSize * float64(m[j]) / denom)
	}
}

// sgdUpdate seeds a fresh momentum buffer with the raw gradient.
func sgdUpdate(param, grad, buf []float32, fresh bool, lr float32, p Params) {
	for j, g := range grad {
		if buf != nil {
			if fresh {
				buf[j] = g
			} else {
				buf[j] = p.Momentum*buf[j] + (1-p.Dampening)*g
			}
			if p.Nesterov {
				g += p.Momentum * buf[j]
			} else {
				g = buf[j]
			}
		}
		param[j] -= lr * g
	}
}

func rmspropUpdate(param, grad, sq []float32, lr float32, p Params) {
	for j, g := range grad {
		sq[j] = p.Alpha*sq[j] + (1-p.Alpha)*g*g
		param[j] -= lr * g / (float32(math.Sqrt(float64(sq[j]))) + p.Epsilon)
	}
}

// StateDict captures the step counter and a copy of every buffer.
func (o *Optimizer) StateDict() (State, error) {
	state := State{Kind: o.kind, Step: o.step, Stages: make(map[string]map[string][]float32, len(o.stages))}
	for _, st := range o.stages {
		buffers := make(map[string][]float32, len(st.buffers))
		for key, buf := range st.buffers {
			buffers[key] = append([]float32(nil), buf...)
		}
		state.Stages[st.name] = buffers
	}
	return state, nil
}

// LoadStateDict restores state captured by StateDict. Every network must be
// present, the optimizer kind must match and each buffer must fit the tensor
// it belongs to.
func (o *Optimizer) LoadStateDict(state State) error {
	if state.Kind != o.kind {
		return services.Wrap(services.ErrCheckpoint, "optim", "load state",
			fmt.Sprintf("checkpoint optimizer is %q, run uses %q", state.Kind, o.kind), nil)
	}
	if state.Step < 0 {
		return services.Wrap(services.ErrCheckpoint, "optim", "load state",
			fmt.Sprintf("negative step count %d", state.Step), nil)
	}
	restored := make([]map[string][]float32, len(o.stages))
	for i, st := range o.stages {
		buffers, ok := state.Stages[st.name]
		if !ok {
			return services.Wrap(services.ErrCheckpoint, "optim", "load state",
				fmt.Sprintf("missing state for network %q", st.name), nil)
		}
		restored[i] = make(map[string][]float32, len(buffers))
		for key, buf := range buffers {
			want, err := st.tensorSize(key)
			if err != nil {
				return services.Wrap(services.ErrCheckpoint, "optim", "load state", st.name, err)
			}
			if len(buf) != want {
				return services.Wrap(services.ErrCheckpoint, "optim", "load state",
					fmt.Sprintf("%s: buffer %s has %d values, want %d", st.name, key, len(buf), want), nil)
			}
			restored[i][key] = append([]float32(nil), buf...)
		}
	}
	for i, st := range o.stages {
		st.buffers = restored[i]
	}
	o.step = state.Step
	return nil
}

// tensorSize resolves a buffer key to the size of its parameter tensor.
func (st *stage) tensorSize(key string) (int, error) {
	tensor, _, ok := strings.Cut(key, ".")
	if !ok {
		return 0, fmt.Errorf("malformed buffer key %q", key)
	}
	kind, index, ok := strings.Cut(tensor, "_")
	if !ok {
		return 0, fmt.Errorf("malformed buffer key %q", key)
	}
	layer, err := strconv.Atoi(index)
	if err != nil || st.net == nil || layer < 0 || layer >= st.net.TotalLayers() {
		return 0, fmt.Errorf("buffer %q does not match a network layer", key)
	}
	switch kind {
	case "kernel":
		return len(st.net.Layers[layer].Kernel), nil
	case "bias":
		return len(st.net.Layers[layer].Bias), nil
	default:
		return 0, fmt.Errorf("buffer %q names unknown tensor %q", key, kind)
	}
}
