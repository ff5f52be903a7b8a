package options

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vidtrain/internal/models"
	"vidtrain/internal/services"
)

// OptimizerKind selects the optimizer family.
type OptimizerKind string

const (
	OptimizerAdam    OptimizerKind = "adam"
	OptimizerSGD     OptimizerKind = "sgd"
	OptimizerRMSprop OptimizerKind = "rmsprop"
)

// CriterionKind selects the training loss.
type CriterionKind string

const (
	CriterionCrossEntropy CriterionKind = "cross_entropy"
)

// MetricKind selects how an evaluator metric is computed.
type MetricKind string

const (
	MetricLoss MetricKind = "loss"
	MetricTopK MetricKind = "topk"
)

// OptimizerOptions are the optimizer hyperparameters. Fields that do not apply
// to the selected optimizer are ignored.
type OptimizerOptions struct {
	LR        float64 `json:"lr"`
	Momentum  float64 `json:"momentum"`
	Dampening float64 `json:"dampening"`
	Nesterov  bool    `json:"nesterov"`
}

// CriterionOptions weight the auxiliary losses added by autoencoder and
// variational models.
type CriterionOptions struct {
	ReconstructionWeight float64 `json:"reconstruction_weight"`
	KLWeight             float64 `json:"kl_weight"`
}

// TrainerOptions configure the supervised trainer.
type TrainerOptions struct {
	Epochs        int              `json:"epochs"`
	Optimizer     OptimizerKind    `json:"optimizer"`
	OptimizerOpts OptimizerOptions `json:"optimizer_opts"`
	Criterion     CriterionKind    `json:"criterion"`
	CriterionOpts CriterionOptions `json:"criterion_opts"`
}

// MetricSpec names one evaluator metric. K applies to top-k accuracy.
type MetricSpec struct {
	Name string     `json:"name"`
	Kind MetricKind `json:"kind"`
	K    int        `json:"k,omitempty"`
}

// EvaluatorOptions list the metrics computed on each evaluation pass.
type EvaluatorOptions struct {
	Metrics []MetricSpec `json:"metrics"`
}

// DefaultMetrics are loss, top-1 and top-3 accuracy.
func DefaultMetrics() []MetricSpec {
	return []MetricSpec{
		{Name: "loss", Kind: MetricLoss},
		{Name: "acc@1", Kind: MetricTopK, K: 1},
		{Name: "acc@3", Kind: MetricTopK, K: 3},
	}
}

// Shape is the clip tensor shape fed to a model.
type Shape struct {
	TimeSteps int `json:"time_steps"`
	Channels  int `json:"channels"`
	Height    int `json:"height"`
	Width     int `json:"width"`
}

// DataBunchOptions configure how clips are sampled from videos.
type DataBunchOptions struct {
	Shape   Shape   `json:"shape"`
	Stride  int     `json:"stride"`
	Cut     float64 `json:"cut"`
	Classes int     `json:"classes"`
}

// DataSetOptions locate the dataset on disk.
type DataSetOptions struct {
	Root       string `json:"root"`
	FramesDir  string `json:"frames_dir"`
	LabelsFile string `json:"labels_file"`
	TrainMeta  string `json:"train_meta"`
	ValidMeta  string `json:"valid_meta"`
}

// DataLoaderOptions configure batching.
type DataLoaderOptions struct {
	BatchSize int  `json:"batch_size"`
	Shuffle   bool `json:"shuffle"`
	Workers   int  `json:"workers"`
	DropLast  bool `json:"drop_last"`
}

// RunOptions describe a training run end to end.
type RunOptions struct {
	Name            string            `json:"name"`
	Resume          bool              `json:"resume"`
	ResumeFrom      string            `json:"resume_from"`
	LogInterval     int               `json:"log_interval"`
	CheckpointsKept int               `json:"checkpoints_kept"`
	Seed            int64             `json:"seed"`
	Model           models.Spec       `json:"-"`
	TrainerOpts     TrainerOptions    `json:"trainer_opts"`
	EvaluatorOpts   EvaluatorOptions  `json:"evaluator_opts"`
	DataBunchOpts   DataBunchOptions  `json:"data_bunch_opts"`
	DataSetOpts     DataSetOptions    `json:"data_set_opts"`
	DataLoaderOpts  DataLoaderOptions `json:"data_loader_opts"`
}

// Geometry derives the model build geometry from the data bunch options.
func (o RunOptions) Geometry() models.Geometry {
	s := o.DataBunchOpts.Shape
	return models.Geometry{
		TimeSteps: s.TimeSteps,
		Channels:  s.Channels,
		Height:    s.Height,
		Width:     s.Width,
		Classes:   o.DataBunchOpts.Classes,
	}
}

// Validate reports the first configuration problem found.
func (o RunOptions) Validate() error {
	if err := o.validate(); err != nil {
		return services.Wrap(services.ErrValidation, "options", "validate", "", err)
	}
	return nil
}

func (o RunOptions) validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("name must be set")
	}
	if strings.ContainsAny(o.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", o.Name)
	}
	if o.Resume && strings.TrimSpace(o.ResumeFrom) == "" {
		return errors.New("resume_from must be set when resume is true")
	}
	if o.LogInterval <= 0 {
		return errors.New("log_interval must be positive")
	}
	if o.CheckpointsKept <= 0 {
		return errors.New("checkpoints_kept must be positive")
	}
	if o.Model == nil {
		return errors.New("model must be set")
	}
	if err := o.Model.Validate(); err != nil {
		return fmt.Errorf("model %s: %w", o.Model.Kind(), err)
	}
	if err := o.TrainerOpts.validate(); err != nil {
		return err
	}
	if err := o.EvaluatorOpts.validate(); err != nil {
		return err
	}
	if err := o.DataBunchOpts.validate(); err != nil {
		return err
	}
	if o.DataBunchOpts.Shape.TimeSteps != o.Model.Steps() {
		return fmt.Errorf("data_bunch_opts.shape.time_steps %d does not match model time_steps %d",
			o.DataBunchOpts.Shape.TimeSteps, o.Model.Steps())
	}
	if strings.TrimSpace(o.DataSetOpts.Root) == "" {
		return errors.New("data_set_opts.root must be set")
	}
	if o.DataLoaderOpts.BatchSize <= 0 {
		return errors.New("data_loader_opts.batch_size must be positive")
	}
	if o.DataLoaderOpts.Workers < 0 {
		return errors.New("data_loader_opts.workers must not be negative")
	}
	return nil
}

func (t TrainerOptions) validate() error {
	if t.Epochs <= 0 {
		return errors.New("trainer_opts.epochs must be positive")
	}
	switch t.Optimizer {
	case OptimizerAdam, OptimizerSGD, OptimizerRMSprop:
	default:
		return fmt.Errorf("trainer_opts.optimizer %q is not supported", t.Optimizer)
	}
	if t.OptimizerOpts.LR <= 0 {
		return errors.New("trainer_opts.optimizer_opts.lr must be positive")
	}
	if t.OptimizerOpts.Momentum < 0 || t.OptimizerOpts.Dampening < 0 {
		return errors.New("trainer_opts.optimizer_opts values must not be negative")
	}
	if t.OptimizerOpts.Nesterov && (t.OptimizerOpts.Momentum <= 0 || t.OptimizerOpts.Dampening != 0) {
		return errors.New("nesterov momentum requires a momentum and zero dampening")
	}
	if t.Criterion != CriterionCrossEntropy {
		return fmt.Errorf("trainer_opts.criterion %q is not supported", t.Criterion)
	}
	if t.CriterionOpts.ReconstructionWeight < 0 || t.CriterionOpts.KLWeight < 0 {
		return errors.New("trainer_opts.criterion_opts weights must not be negative")
	}
	return nil
}

func (e EvaluatorOptions) validate() error {
	if len(e.Metrics) == 0 {
		return errors.New("evaluator_opts.metrics must not be empty")
	}
	seen := make(map[string]struct{}, len(e.Metrics))
	for _, m := range e.Metrics {
		if m.Name == "" {
			return errors.New("evaluator_opts.metrics entries need a name")
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("evaluator_opts.metrics has duplicate %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		switch m.Kind {
		case MetricLoss:
		case MetricTopK:
			if m.K <= 0 {
				return fmt.Errorf("metric %q needs a positive k", m.Name)
			}
		default:
			return fmt.Errorf("metric %q has unknown kind %q", m.Name, m.Kind)
		}
	}
	return nil
}

func (d DataBunchOptions) validate() error {
	s := d.Shape
	if s.TimeSteps <= 0 || s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("data_bunch_opts.shape must be positive, got %+v", s)
	}
	if d.Stride <= 0 {
		return errors.New("data_bunch_opts.stride must be positive")
	}
	if d.Cut <= 0 || d.Cut > 1 {
		return errors.New("data_bunch_opts.cut must be in (0, 1]")
	}
	if d.Classes <= 0 {
		return errors.New("data_bunch_opts.classes must be positive")
	}
	return nil
}

// MarshalRecord renders the options as indented JSON with sorted keys, the
// format of run.json. The model is recorded as its kind plus its options.
func (o RunOptions) MarshalRecord() ([]byte, error) {
	type alias RunOptions
	raw, err := json.Marshal(struct {
		alias
		ModelKind string      `json:"model"`
		ModelOpts models.Spec `json:"model_opts"`
	}{alias: alias(o), ModelKind: modelKind(o.Model), ModelOpts: o.Model})
	if err != nil {
		return nil, fmt.Errorf("encode run options: %w", err)
	}
	// Round-tripping through a map sorts every object's keys.
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize run options: %w", err)
	}
	out, err := json.MarshalIndent(generic, "", " ")
	if err != nil {
		return nil, fmt.Errorf("encode run options: %w", err)
	}
	return append(out, '\n'), nil
}

func modelKind(spec models.Spec) string {
	if spec == nil {
		return ""
	}
	return spec.Kind()
}
