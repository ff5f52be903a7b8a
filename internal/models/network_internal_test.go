package models

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestNetBuilderTracksConvShapes(t *testing.T) {
	b := newNetBuilder("spatial_encoder", Volume{Channels: 3, Height: 112, Width: 112})
	for _, planes := range []int{16, 32, 64, 128, 256} {
		b.conv(planes, 3, 2, 1, activationReLU)
	}
	b.conv(64, 1, 1, 0, activationReLU)

	cfg, err := b.config(32)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.GridCols != 6 || cfg.GridRows != 1 || cfg.LayersPerCell != 1 {
		t.Fatalf("unexpected grid: %+v", cfg)
	}
	wantSides := []int{56, 28, 14, 7, 4, 4}
	for i, layer := range cfg.Layers {
		if layer.OutputHeight != wantSides[i] || layer.OutputWidth != wantSides[i] {
			t.Fatalf("layer %d: got %dx%d want side %d", i, layer.OutputHeight, layer.OutputWidth, wantSides[i])
		}
	}
	if got := b.cur.Size(); got != 64*4*4 {
		t.Fatalf("unexpected output size: got %d want %d", got, 64*4*4)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, fragment := range []string{`"type":"conv2d"`, `"batch_size":32`, `"input_channels":3`, `"filters":16`} {
		if !strings.Contains(string(raw), fragment) {
			t.Fatalf("expected %s in %s", fragment, raw)
		}
	}
}

func TestNetBuilderDenseAfterConvFlattens(t *testing.T) {
	b := newNetBuilder("i3d", Volume{Channels: 12, Height: 8, Width: 8}).
		conv(4, 3, 2, 1, activationReLU).
		dense(10, activationLinear)
	cfg, err := b.config(2)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	dense := cfg.Layers[1]
	if dense.Type != "dense" || dense.InputHeight != 4*4*4 || dense.OutputHeight != 10 {
		t.Fatalf("unexpected dense layer: %+v", dense)
	}
}

func TestNetBuilderRejectsCollapsedInput(t *testing.T) {
	b := newNetBuilder("tiny", Volume{Channels: 1, Height: 2, Width: 2}).conv(1, 7, 1, 0, activationReLU)
	if _, err := b.config(1); err == nil {
		t.Fatal("expected error for kernel larger than input")
	}
	if _, err := newNetBuilder("empty", Volume{Height: 1}).config(1); err == nil {
		t.Fatal("expected error for empty network")
	}
}

func TestReconstructionTargetPoolsFrames(t *testing.T) {
	g := Geometry{TimeSteps: 2, Channels: 1, Height: 4, Width: 4, Classes: 2}
	clip := make([]float32, g.ClipSize())
	for i := 0; i < 16; i++ {
		clip[i] = 1
		clip[16+i] = 3
	}

	size, target := reconstructionTarget(g, false)
	if size != 2*16 {
		t.Fatalf("unexpected size: %d", size)
	}
	out := target(clip, 1)
	if len(out) != size || out[0] != 1 || out[16] != 3 {
		t.Fatalf("unexpected pooled target: %v", out)
	}

	size, flow := reconstructionTarget(g, true)
	if size != 16 {
		t.Fatalf("unexpected flow size: %d", size)
	}
	diff := flow(clip, 1)
	for _, v := range diff {
		if v != 2 {
			t.Fatalf("expected frame difference of 2, got %v", diff)
		}
	}
}

func TestPoolFrameAverages(t *testing.T) {
	frame := []float32{
		1, 3, 5, 7,
		1, 3, 5, 7,
	}
	out := poolFrame(frame, 1, 2, 4, 1, 2)
	if len(out) != 2 || out[0] != 2 || out[1] != 6 {
		t.Fatalf("unexpected pooled values: %v", out)
	}
}

func TestNetLayerPadsShortBatch(t *testing.T) {
	layer, err := newNetBuilder("head", Volume{Height: 3}).dense(2, activationLinear).build(2)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	full, err := layer.Forward([]float32{0.5, -1, 2, 0.25, 0.75, -0.5}, 2, true)
	if err != nil {
		t.Fatalf("full batch forward: %v", err)
	}
	short, err := layer.Forward([]float32{0.5, -1, 2}, 1, true)
	if err != nil {
		t.Fatalf("short batch forward: %v", err)
	}
	if len(short) != 2 {
		t.Fatalf("short batch produced %d values, want 2", len(short))
	}
	for i := range short {
		if math.Abs(float64(short[i]-full[i])) > 1e-6 {
			t.Fatalf("padding changed sample output: %v vs %v", short, full[:2])
		}
	}
	grad, err := layer.Backward([]float32{1, -1})
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if len(grad) != 3 {
		t.Fatalf("input gradient has %d values, want 3", len(grad))
	}
	if _, err := layer.Forward(make([]float32, 9), 3, true); err == nil {
		t.Fatal("expected error for batch above network batch")
	}
}

func TestNetLayerBackwardRejectsShortInputGradient(t *testing.T) {
	layer, err := newNetBuilder("head", Volume{Height: 4}).dense(2, activationLinear).build(1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Without a forward pass loom echoes a zero gradient shaped like the
	// output, which is narrower than the input.
	layer.n = 1
	if _, err := layer.Backward([]float32{1, 1}); err == nil || !strings.Contains(err.Error(), "input gradients") {
		t.Fatalf("expected short input gradient error, got %v", err)
	}
}
