package models

import (
	"encoding/json"
	"fmt"

	"github.com/openfluke/loom/nn"
)

// layerConfig mirrors the loom JSON layer schema.
type layerConfig struct {
	Type          string `json:"type"`
	Activation    string `json:"activation"`
	InputHeight   int    `json:"input_height"`
	InputWidth    int    `json:"input_width,omitempty"`
	InputChannels int    `json:"input_channels,omitempty"`
	Filters       int    `json:"filters,omitempty"`
	KernelSize    int    `json:"kernel_size,omitempty"`
	Stride        int    `json:"stride,omitempty"`
	Padding       int    `json:"padding,omitempty"`
	OutputHeight  int    `json:"output_height"`
	OutputWidth   int    `json:"output_width,omitempty"`
}

type networkConfig struct {
	ID            string        `json:"id"`
	BatchSize     int           `json:"batch_size"`
	GridRows      int           `json:"grid_rows"`
	GridCols      int           `json:"grid_cols"`
	LayersPerCell int           `json:"layers_per_cell"`
	Layers        []layerConfig `json:"layers"`
}

// Volume is a C×H×W activation shape. Dense activations use H only.
type Volume struct {
	Channels int
	Height   int
	Width    int
}

// Size is the number of values in one sample.
func (v Volume) Size() int {
	c, w := v.Channels, v.Width
	if c == 0 {
		c = 1
	}
	if w == 0 {
		w = 1
	}
	return c * v.Height * w
}

func convOut(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// netBuilder accumulates loom layers while tracking the activation shape.
type netBuilder struct {
	id     string
	in     Volume
	cur    Volume
	layers []layerConfig
	err    error
}

func newNetBuilder(id string, in Volume) *netBuilder {
	return &netBuilder{id: id, in: in, cur: in}
}

func (b *netBuilder) conv(filters, kernel, stride, padding int, activation string) *netBuilder {
	if b.err != nil {
		return b
	}
	oh := convOut(b.cur.Height, kernel, stride, padding)
	ow := convOut(b.cur.Width, kernel, stride, padding)
	if oh <= 0 || ow <= 0 {
		b.err = fmt.Errorf("%s: conv %dx%d/%d collapses %dx%d input", b.id, kernel, kernel, stride, b.cur.Height, b.cur.Width)
		return b
	}
	b.layers = append(b.layers, layerConfig{
		Type:          "conv2d",
		Activation:    activation,
		InputHeight:   b.cur.Height,
		InputWidth:    b.cur.Width,
		InputChannels: b.cur.Channels,
		Filters:       filters,
		KernelSize:    kernel,
		Stride:        stride,
		Padding:       padding,
		OutputHeight:  oh,
		OutputWidth:   ow,
	})
	b.cur = Volume{Channels: filters, Height: oh, Width: ow}
	return b
}

func (b *netBuilder) dense(out int, activation string) *netBuilder {
	if b.err != nil {
		return b
	}
	b.layers = append(b.layers, layerConfig{
		Type:         "dense",
		Activation:   activation,
		InputHeight:  b.cur.Size(),
		OutputHeight: out,
	})
	b.cur = Volume{Height: out}
	return b
}

func (b *netBuilder) config(batch int) (networkConfig, error) {
	if b.err != nil {
		return networkConfig{}, b.err
	}
	if len(b.layers) == 0 {
		return networkConfig{}, fmt.Errorf("%s: network has no layers", b.id)
	}
	return networkConfig{
		ID:            b.id,
		BatchSize:     batch,
		GridRows:      1,
		GridCols:      len(b.layers),
		LayersPerCell: 1,
		Layers:        b.layers,
	}, nil
}

// build materializes the loom network for a fixed batch size.
func (b *netBuilder) build(batch int) (*NetLayer, error) {
	cfg, err := b.config(batch)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: encode network config: %w", b.id, err)
	}
	net, err := nn.BuildNetworkFromJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: build network: %w", b.id, err)
	}
	net.BatchSize = batch
	net.InitializeWeights()
	return &NetLayer{
		name:  b.id,
		net:   net,
		batch: batch,
		in:    b.in.Size(),
		out:   b.cur.Size(),
	}, nil
}

// NetLayer runs a loom network with a fixed batch size. Short batches are
// zero padded on the way in and trimmed on the way out.
type NetLayer struct {
	name  string
	net   *nn.Network
	batch int
	in    int
	out   int
	n     int
}

func (l *NetLayer) Name() string { return l.name }

// Network exposes the underlying loom network to optimizers.
func (l *NetLayer) Network() *nn.Network { return l.net }

// OutputSize is the per-sample output width.
func (l *NetLayer) OutputSize() int { return l.out }

func (l *NetLayer) Forward(x []float32, n int, _ bool) ([]float32, error) {
	if n > l.batch {
		return nil, fmt.Errorf("%s: batch %d exceeds network batch %d", l.name, n, l.batch)
	}
	if len(x) != n*l.in {
		return nil, fmt.Errorf("%s: input has %d values, want %d", l.name, len(x), n*l.in)
	}
	l.n = n
	input := x
	if n < l.batch {
		input = make([]float32, l.batch*l.in)
		copy(input, x)
	}
	output, _ := l.net.ForwardCPU(input)
	if len(output) < n*l.out {
		return nil, fmt.Errorf("%s: network produced %d values, want %d", l.name, len(output), n*l.out)
	}
	return output[:n*l.out], nil
}

func (l *NetLayer) Backward(grad []float32) ([]float32, error) {
	if len(grad) != l.n*l.out {
		return nil, fmt.Errorf("%s: gradient has %d values, want %d", l.name, len(grad), l.n*l.out)
	}
	upstream := grad
	if l.n < l.batch {
		upstream = make([]float32, l.batch*l.out)
		copy(upstream, grad)
	}
	gradIn, _ := l.net.BackwardCPU(upstream)
	if len(gradIn) < l.n*l.in {
		return nil, fmt.Errorf("%s: network produced %d input gradients, want %d", l.name, len(gradIn), l.n*l.in)
	}
	return gradIn[:l.n*l.in], nil
}

// State serializes the network weights.
func (l *NetLayer) State() (string, error) {
	return l.net.SaveModelToString(l.name)
}

// LoadState replaces the network weights with a serialized copy.
func (l *NetLayer) LoadState(state string) error {
	net, err := nn.LoadModelFromString(state, l.name)
	if err != nil {
		return fmt.Errorf("%s: load weights: %w", l.name, err)
	}
	net.BatchSize = l.batch
	l.net = net
	return nil
}
