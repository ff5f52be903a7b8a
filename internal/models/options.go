package models

import (
	"fmt"
	"strings"
)

// Spec is a model family together with its hyperparameters.
type Spec interface {
	// Kind names the model family, e.g. "tarn" or "vae_i3d".
	Kind() string
	// Batch is the batch size the model was tuned for.
	Batch() int
	// Steps is the number of frames sampled per clip.
	Steps() int
	// Build instantiates a freshly initialized model.
	Build(BuildOptions) (Model, error)
	// Validate reports hyperparameter errors.
	Validate() error
}

// Vote types used by the stochastic families at evaluation time.
const (
	VoteSoft = "soft"
	VoteHard = "hard"
)

// TADNOptions configures a time aligned dense network.
type TADNOptions struct {
	BatchSize          int     `json:"batch_size"`
	TimeSteps          int     `json:"time_steps"`
	TemporalInPlanes   int     `json:"temporal_in_planes"`
	GrowthRate         int     `json:"growth_rate"`
	TemporalDropRate   float64 `json:"temporal_drop_rate"`
	ClassifierDropRate float64 `json:"classifier_drop_rate"`
	ClassEmbedPlanes   int     `json:"class_embed_planes"`
}

// TARNOptions configures a time aligned residual network.
type TARNOptions struct {
	BatchSize            int     `json:"batch_size"`
	TimeSteps            int     `json:"time_steps"`
	SpatialEncoderPlanes []int   `json:"spatial_encoder_planes"`
	BottleneckPlanes     int     `json:"bottleneck_planes"`
	ClassifierDropRate   float64 `json:"classifier_drop_rate"`
	ClassEmbedPlanes     int     `json:"class_embed_planes"`
}

// AETARNOptions adds a frame reconstruction decoder to TARN. With Flow the
// decoder reconstructs frame differences instead of frames.
type AETARNOptions struct {
	TARNOptions
	SpatialDecoderPlanes []int `json:"spatial_decoder_planes"`
	Flow                 bool  `json:"flow"`
}

// GSNNTARNOptions makes the TARN class embedding a Gaussian latent.
type GSNNTARNOptions struct {
	TARNOptions
	VoteType string `json:"vote_type"`
}

// VAETARNOptions is GSNN-TARN with a KL term and a latent decoder.
type VAETARNOptions struct {
	TARNOptions
	SpatialDecoderPlanes []int  `json:"spatial_decoder_planes"`
	VoteType             string `json:"vote_type"`
}

// I3DOptions configures the inflated convolution network.
type I3DOptions struct {
	BatchSize   int     `json:"batch_size"`
	TimeSteps   int     `json:"time_steps"`
	DropoutProb float64 `json:"dropout_prob"`
}

// AEI3DOptions adds an embedding and reconstruction decoder to I3D.
type AEI3DOptions struct {
	BatchSize   int     `json:"batch_size"`
	TimeSteps   int     `json:"time_steps"`
	EmbedPlanes int     `json:"embed_planes"`
	DropoutProb float64 `json:"dropout_prob"`
	Flow        bool    `json:"flow"`
}

// GSNNI3DOptions makes the I3D embedding a Gaussian latent.
type GSNNI3DOptions struct {
	BatchSize    int     `json:"batch_size"`
	TimeSteps    int     `json:"time_steps"`
	LatentPlanes int     `json:"latent_planes"`
	DropoutProb  float64 `json:"dropout_prob"`
	VoteType     string  `json:"vote_type"`
}

// VAEI3DOptions is GSNN-I3D with a KL term and a latent decoder.
type VAEI3DOptions struct {
	BatchSize    int     `json:"batch_size"`
	TimeSteps    int     `json:"time_steps"`
	LatentPlanes int     `json:"latent_planes"`
	DropoutProb  float64 `json:"dropout_prob"`
	VoteType     string  `json:"vote_type"`
}

func (o TADNOptions) Kind() string     { return "tadn" }
func (o TARNOptions) Kind() string     { return "tarn" }
func (o AETARNOptions) Kind() string   { return "ae_tarn" }
func (o GSNNTARNOptions) Kind() string { return "gsnn_tarn" }
func (o VAETARNOptions) Kind() string  { return "vae_tarn" }
func (o I3DOptions) Kind() string      { return "i3d" }
func (o AEI3DOptions) Kind() string    { return "ae_i3d" }
func (o GSNNI3DOptions) Kind() string  { return "gsnn_i3d" }
func (o VAEI3DOptions) Kind() string   { return "vae_i3d" }

func (o TADNOptions) Batch() int    { return o.BatchSize }
func (o TARNOptions) Batch() int    { return o.BatchSize }
func (o I3DOptions) Batch() int     { return o.BatchSize }
func (o AEI3DOptions) Batch() int   { return o.BatchSize }
func (o GSNNI3DOptions) Batch() int { return o.BatchSize }
func (o VAEI3DOptions) Batch() int  { return o.BatchSize }

func (o TADNOptions) Steps() int    { return o.TimeSteps }
func (o TARNOptions) Steps() int    { return o.TimeSteps }
func (o I3DOptions) Steps() int     { return o.TimeSteps }
func (o AEI3DOptions) Steps() int   { return o.TimeSteps }
func (o GSNNI3DOptions) Steps() int { return o.TimeSteps }
func (o VAEI3DOptions) Steps() int  { return o.TimeSteps }

func (o TADNOptions) Validate() error {
	if err := validateClip(o.BatchSize, o.TimeSteps); err != nil {
		return err
	}
	if o.TemporalInPlanes <= 0 || o.GrowthRate <= 0 || o.ClassEmbedPlanes <= 0 {
		return fmt.Errorf("tadn: temporal_in_planes, growth_rate and class_embed_planes must be positive")
	}
	if err := validateRate("temporal_drop_rate", o.TemporalDropRate); err != nil {
		return err
	}
	return validateRate("classifier_drop_rate", o.ClassifierDropRate)
}

func (o TARNOptions) Validate() error {
	if err := validateClip(o.BatchSize, o.TimeSteps); err != nil {
		return err
	}
	if err := validatePlanes("spatial_encoder_planes", o.SpatialEncoderPlanes); err != nil {
		return err
	}
	if o.BottleneckPlanes <= 0 || o.ClassEmbedPlanes <= 0 {
		return fmt.Errorf("tarn: bottleneck_planes and class_embed_planes must be positive")
	}
	return validateRate("classifier_drop_rate", o.ClassifierDropRate)
}

func (o AETARNOptions) Validate() error {
	if err := o.TARNOptions.Validate(); err != nil {
		return err
	}
	return validatePlanes("spatial_decoder_planes", o.SpatialDecoderPlanes)
}

func (o GSNNTARNOptions) Validate() error {
	if err := o.TARNOptions.Validate(); err != nil {
		return err
	}
	return validateVote(o.VoteType)
}

func (o VAETARNOptions) Validate() error {
	if err := o.TARNOptions.Validate(); err != nil {
		return err
	}
	if err := validatePlanes("spatial_decoder_planes", o.SpatialDecoderPlanes); err != nil {
		return err
	}
	return validateVote(o.VoteType)
}

func (o I3DOptions) Validate() error {
	if err := validateClip(o.BatchSize, o.TimeSteps); err != nil {
		return err
	}
	return validateRate("dropout_prob", o.DropoutProb)
}

func (o AEI3DOptions) Validate() error {
	if err := validateClip(o.BatchSize, o.TimeSteps); err != nil {
		return err
	}
	if o.EmbedPlanes <= 0 {
		return fmt.Errorf("ae_i3d: embed_planes must be positive")
	}
	return validateRate("dropout_prob", o.DropoutProb)
}

func (o GSNNI3DOptions) Validate() error {
	if err := validateClip(o.BatchSize, o.TimeSteps); err != nil {
		return err
	}
	if o.LatentPlanes <= 0 {
		return fmt.Errorf("gsnn_i3d: latent_planes must be positive")
	}
	if err := validateRate("dropout_prob", o.DropoutProb); err != nil {
		return err
	}
	return validateVote(o.VoteType)
}

func (o VAEI3DOptions) Validate() error {
	if err := validateClip(o.BatchSize, o.TimeSteps); err != nil {
		return err
	}
	if o.LatentPlanes <= 0 {
		return fmt.Errorf("vae_i3d: latent_planes must be positive")
	}
	if err := validateRate("dropout_prob", o.DropoutProb); err != nil {
		return err
	}
	return validateVote(o.VoteType)
}

func validateClip(batch, steps int) error {
	if batch <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", batch)
	}
	if steps <= 0 {
		return fmt.Errorf("time_steps must be positive, got %d", steps)
	}
	return nil
}

func validateRate(name string, value float64) error {
	if value < 0 || value >= 1 {
		return fmt.Errorf("%s must be in [0, 1), got %g", name, value)
	}
	return nil
}

func validatePlanes(name string, planes []int) error {
	if len(planes) == 0 {
		return fmt.Errorf("%s must not be empty", name)
	}
	for i, p := range planes {
		if p <= 0 {
			return fmt.Errorf("%s[%d] must be positive, got %d", name, i, p)
		}
	}
	return nil
}

func validateVote(vote string) error {
	switch strings.ToLower(strings.TrimSpace(vote)) {
	case VoteSoft, VoteHard:
		return nil
	default:
		return fmt.Errorf("vote_type must be %q or %q, got %q", VoteSoft, VoteHard, vote)
	}
}
