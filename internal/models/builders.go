package models

import "fmt"

const (
	activationReLU   = "relu"
	activationLinear = "linear"

	// targetCells is the side of the pooled grid the decoders reconstruct.
	targetCells = 8
	// voteSamples is the number of latent draws combined at evaluation time.
	voteSamples = 5
	// i3dHidden is the decoder width of the I3D autoencoders.
	i3dHidden = 1024
)

var i3dTrunk = []struct{ filters, kernel, stride, padding int }{
	{64, 7, 2, 3},
	{192, 3, 2, 1},
	{480, 3, 2, 1},
	{832, 3, 2, 1},
	{1024, 3, 2, 1},
}

var tadnSpatialPlanes = []int{16, 32, 64}

func (b BuildOptions) validate(spec Spec) (int, error) {
	if b.Channels <= 0 || b.Height <= 0 || b.Width <= 0 {
		return 0, fmt.Errorf("%s: frame geometry must be positive, got %dx%dx%d", spec.Kind(), b.Channels, b.Height, b.Width)
	}
	if b.Classes <= 0 {
		return 0, fmt.Errorf("%s: classes must be positive", spec.Kind())
	}
	if b.TimeSteps != spec.Steps() {
		return 0, fmt.Errorf("%s: clips have %d frames, model expects %d", spec.Kind(), b.TimeSteps, spec.Steps())
	}
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("%s: %w", spec.Kind(), err)
	}
	batch := spec.Batch()
	if b.BatchSize > 0 {
		batch = b.BatchSize
	}
	return batch, nil
}

// seeds hands out distinct deterministic seeds for stochastic layers.
type seeds uint64

func (s *seeds) next() uint64 {
	*s++
	return uint64(*s) * 0x9e3779b97f4a7c15
}

func (o TARNOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	encoder, width, err := tarnEncoder(o, b, batch)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)
	classifier, err := newNetBuilder("classifier", Volume{Height: width}).
		dense(o.ClassEmbedPlanes, activationReLU).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	return NewVideoModel(Parts{
		Kind:    o.Kind(),
		Classes: b.Classes,
		Encoder: encoder,
		Head:    []Layer{NewDropout("classifier_dropout", o.ClassifierDropRate, s.next()), classifier},
	})
}

func (o AETARNOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	encoder, width, err := tarnEncoder(o.TARNOptions, b, batch)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)
	classifier, err := newNetBuilder("classifier", Volume{Height: width}).
		dense(o.ClassEmbedPlanes, activationReLU).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	targetSize, target := reconstructionTarget(b.Geometry, o.Flow)
	decoder, err := decoderNet(width, o.SpatialDecoderPlanes, targetSize, batch)
	if err != nil {
		return nil, err
	}
	return NewVideoModel(Parts{
		Kind:                 o.Kind(),
		Classes:              b.Classes,
		Encoder:              encoder,
		Head:                 []Layer{NewDropout("classifier_dropout", o.ClassifierDropRate, s.next()), classifier},
		Decoder:              []Layer{decoder},
		Target:               target,
		ReconstructionWeight: b.ReconstructionWeight,
	})
}

func (o GSNNTARNOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	return stochasticTARN(o.Kind(), o.TARNOptions, nil, o.VoteType, 0, b, batch)
}

func (o VAETARNOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	return stochasticTARN(o.Kind(), o.TARNOptions, o.SpatialDecoderPlanes, o.VoteType, b.KLWeight, b, batch)
}

func stochasticTARN(kind string, o TARNOptions, decoderPlanes []int, vote string, klWeight float64, b BuildOptions, batch int) (Model, error) {
	encoder, width, err := tarnEncoder(o, b, batch)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)
	proj, err := newNetBuilder("latent_projection", Volume{Height: width}).
		dense(2*o.ClassEmbedPlanes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	classifier, err := newNetBuilder("classifier", Volume{Height: o.ClassEmbedPlanes}).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	parts := Parts{
		Kind:        kind,
		Classes:     b.Classes,
		Encoder:     append(encoder, proj),
		Latent:      NewLatent("latent", o.ClassEmbedPlanes, klWeight, s.next()),
		Head:        []Layer{NewDropout("classifier_dropout", o.ClassifierDropRate, s.next()), classifier},
		Vote:        vote,
		VoteSamples: voteSamples,
	}
	if len(decoderPlanes) > 0 {
		targetSize, target := reconstructionTarget(b.Geometry, false)
		decoder, err := decoderNet(o.ClassEmbedPlanes, decoderPlanes, targetSize, batch)
		if err != nil {
			return nil, err
		}
		parts.Decoder = []Layer{decoder}
		parts.DecodeLatent = true
		parts.Target = target
		parts.ReconstructionWeight = b.ReconstructionWeight
	}
	return NewVideoModel(parts)
}

// tarnEncoder builds the per-frame residual-style encoder followed by the
// temporal projection. It returns the per-clip feature width.
func tarnEncoder(o TARNOptions, b BuildOptions, batch int) ([]Layer, int, error) {
	spatial := newNetBuilder("spatial_encoder", b.FrameVolume())
	for _, planes := range o.SpatialEncoderPlanes {
		spatial.conv(planes, 3, 2, 1, activationReLU)
	}
	spatial.conv(o.BottleneckPlanes, 1, 1, 0, activationReLU)
	spatialNet, err := spatial.build(batch * b.TimeSteps)
	if err != nil {
		return nil, 0, err
	}
	width := o.BottleneckPlanes * b.TimeSteps
	temporal, err := newNetBuilder("temporal_encoder", Volume{Height: spatialNet.OutputSize() * b.TimeSteps}).
		dense(width, activationReLU).
		build(batch)
	if err != nil {
		return nil, 0, err
	}
	return []Layer{framewise{spatialNet, b.TimeSteps}, temporal}, width, nil
}

func (o TADNOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)

	spatial := newNetBuilder("spatial_encoder", b.FrameVolume())
	for _, planes := range tadnSpatialPlanes {
		spatial.conv(planes, 3, 2, 1, activationReLU)
	}
	spatial.conv(o.TemporalInPlanes, 1, 1, 0, activationReLU)
	spatialNet, err := spatial.build(batch * b.TimeSteps)
	if err != nil {
		return nil, err
	}

	stem, err := newNetBuilder("temporal_stem", Volume{Height: spatialNet.OutputSize() * b.TimeSteps}).
		dense(o.TemporalInPlanes, activationReLU).
		build(batch)
	if err != nil {
		return nil, err
	}
	encoder := []Layer{framewise{spatialNet, b.TimeSteps}, stem}

	width := o.TemporalInPlanes
	for i := 0; i < b.TimeSteps; i++ {
		if o.TemporalDropRate > 0 {
			encoder = append(encoder, NewDropout(fmt.Sprintf("temporal_dropout_%d", i), o.TemporalDropRate, s.next()))
		}
		layer, err := newNetBuilder(fmt.Sprintf("dense_block_%d", i), Volume{Height: width}).
			dense(width+o.GrowthRate, activationReLU).
			build(batch)
		if err != nil {
			return nil, err
		}
		encoder = append(encoder, layer)
		width += o.GrowthRate
	}

	classifier, err := newNetBuilder("classifier", Volume{Height: width}).
		dense(o.ClassEmbedPlanes, activationReLU).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	return NewVideoModel(Parts{
		Kind:    o.Kind(),
		Classes: b.Classes,
		Encoder: encoder,
		Head:    []Layer{NewDropout("classifier_dropout", o.ClassifierDropRate, s.next()), classifier},
	})
}

// i3dEncoder fuses the clip's frames into channels and runs the strided trunk.
func i3dEncoder(b BuildOptions, batch int) (*NetLayer, error) {
	trunk := newNetBuilder("i3d_trunk", Volume{Channels: b.TimeSteps * b.Channels, Height: b.Height, Width: b.Width})
	for _, c := range i3dTrunk {
		trunk.conv(c.filters, c.kernel, c.stride, c.padding, activationReLU)
	}
	return trunk.build(batch)
}

func (o I3DOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	trunk, err := i3dEncoder(b, batch)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)
	logits, err := newNetBuilder("logits", Volume{Height: trunk.OutputSize()}).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	return NewVideoModel(Parts{
		Kind:    o.Kind(),
		Classes: b.Classes,
		Encoder: []Layer{trunk},
		Head:    []Layer{NewDropout("dropout", o.DropoutProb, s.next()), logits},
	})
}

func (o AEI3DOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	trunk, err := i3dEncoder(b, batch)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)
	embed, err := newNetBuilder("embed", Volume{Height: trunk.OutputSize()}).
		dense(o.EmbedPlanes, activationReLU).
		build(batch)
	if err != nil {
		return nil, err
	}
	logits, err := newNetBuilder("logits", Volume{Height: o.EmbedPlanes}).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	targetSize, target := reconstructionTarget(b.Geometry, o.Flow)
	decoder, err := decoderNet(o.EmbedPlanes, []int{i3dHidden}, targetSize, batch)
	if err != nil {
		return nil, err
	}
	return NewVideoModel(Parts{
		Kind:                 o.Kind(),
		Classes:              b.Classes,
		Encoder:              []Layer{trunk, embed},
		Head:                 []Layer{NewDropout("dropout", o.DropoutProb, s.next()), logits},
		Decoder:              []Layer{decoder},
		Target:               target,
		ReconstructionWeight: b.ReconstructionWeight,
	})
}

func (o GSNNI3DOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	return buildStochasticI3D(o.Kind(), o.LatentPlanes, o.DropoutProb, o.VoteType, 0, false, b, batch)
}

func (o VAEI3DOptions) Build(b BuildOptions) (Model, error) {
	batch, err := b.validate(o)
	if err != nil {
		return nil, err
	}
	return buildStochasticI3D(o.Kind(), o.LatentPlanes, o.DropoutProb, o.VoteType, b.KLWeight, true, b, batch)
}

func buildStochasticI3D(kind string, latent int, dropout float64, vote string, klWeight float64, decode bool, b BuildOptions, batch int) (Model, error) {
	trunk, err := i3dEncoder(b, batch)
	if err != nil {
		return nil, err
	}
	s := seeds(b.Seed)
	proj, err := newNetBuilder("latent_projection", Volume{Height: trunk.OutputSize()}).
		dense(2*latent, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	logits, err := newNetBuilder("logits", Volume{Height: latent}).
		dense(b.Classes, activationLinear).
		build(batch)
	if err != nil {
		return nil, err
	}
	parts := Parts{
		Kind:        kind,
		Classes:     b.Classes,
		Encoder:     []Layer{trunk, proj},
		Latent:      NewLatent("latent", latent, klWeight, s.next()),
		Head:        []Layer{NewDropout("dropout", dropout, s.next()), logits},
		Vote:        vote,
		VoteSamples: voteSamples,
	}
	if decode {
		targetSize, target := reconstructionTarget(b.Geometry, false)
		decoder, err := decoderNet(latent, []int{i3dHidden}, targetSize, batch)
		if err != nil {
			return nil, err
		}
		parts.Decoder = []Layer{decoder}
		parts.DecodeLatent = true
		parts.Target = target
		parts.ReconstructionWeight = b.ReconstructionWeight
	}
	return NewVideoModel(parts)
}

func decoderNet(in int, hidden []int, out, batch int) (*NetLayer, error) {
	dec := newNetBuilder("decoder", Volume{Height: in})
	for _, width := range hidden {
		dec.dense(width, activationReLU)
	}
	return dec.dense(out, activationLinear).build(batch)
}

// framewise runs a per-frame network over B clips as a batch of B*T frames.
// The [B][T][F] layout is already contiguous so no reshaping is needed.
type framewise struct {
	*NetLayer
	steps int
}

func (f framewise) Forward(x []float32, n int, train bool) ([]float32, error) {
	return f.NetLayer.Forward(x, n*f.steps, train)
}
