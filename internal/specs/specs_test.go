package specs_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"vidtrain/internal/config"
	"vidtrain/internal/models"
	"vidtrain/internal/options"
	"vidtrain/internal/services"
	"vidtrain/internal/specs"
)

func TestNamesListsEveryPresetSorted(t *testing.T) {
	want := []string{
		"i3d_ae_4", "i3d_ae_8", "i3d_class_4", "i3d_class_8", "i3d_flow_4",
		"i3d_gsnn_4", "i3d_vae_4",
		"tadn_class_4", "tadn_class_8",
		"tarn_ae_4", "tarn_class_4", "tarn_class_8", "tarn_flow_4",
		"tarn_gsnn_4", "tarn_vae_4",
	}
	if got := specs.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestEveryPresetValidates(t *testing.T) {
	for _, name := range specs.Names() {
		spec, err := specs.Model(name)
		if err != nil {
			t.Fatalf("Model(%q): %v", name, err)
		}
		if err := spec.Validate(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestPresetValues(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		batch int
		steps int
	}{
		{"tadn_class_4", "tadn", 32, 4},
		{"tadn_class_8", "tadn", 8, 8},
		{"tarn_class_4", "tarn", 32, 4},
		{"tarn_class_8", "tarn", 16, 8},
		{"tarn_ae_4", "ae_tarn", 32, 4},
		{"tarn_flow_4", "ae_tarn", 32, 4},
		{"tarn_gsnn_4", "gsnn_tarn", 16, 4},
		{"tarn_vae_4", "vae_tarn", 16, 4},
		{"i3d_class_4", "i3d", 32, 4},
		{"i3d_class_8", "i3d", 8, 8},
		{"i3d_ae_4", "ae_i3d", 8, 4},
		{"i3d_flow_4", "ae_i3d", 8, 4},
		{"i3d_ae_8", "ae_i3d", 4, 8},
		{"i3d_gsnn_4", "gsnn_i3d", 8, 4},
		{"i3d_vae_4", "vae_i3d", 8, 4},
	}
	for _, tt := range tests {
		spec, err := specs.Model(tt.name)
		if err != nil {
			t.Fatalf("Model(%q): %v", tt.name, err)
		}
		if spec.Kind() != tt.kind || spec.Batch() != tt.batch || spec.Steps() != tt.steps {
			t.Fatalf("%s = (%s, %d, %d), want (%s, %d, %d)", tt.name,
				spec.Kind(), spec.Batch(), spec.Steps(), tt.kind, tt.batch, tt.steps)
		}
	}
}

func TestPresetDetails(t *testing.T) {
	spec, _ := specs.Model("tarn_vae_4")
	vae, ok := spec.(models.VAETARNOptions)
	if !ok {
		t.Fatalf("tarn_vae_4 has type %T", spec)
	}
	if !reflect.DeepEqual(vae.SpatialDecoderPlanes, []int{64, 64, 64, 64, 64}) {
		t.Fatalf("decoder planes = %v", vae.SpatialDecoderPlanes)
	}
	if !reflect.DeepEqual(vae.SpatialEncoderPlanes, []int{16, 32, 64, 128, 256}) {
		t.Fatalf("encoder planes = %v", vae.SpatialEncoderPlanes)
	}

	spec, _ = specs.Model("tarn_flow_4")
	if flow := spec.(models.AETARNOptions); !flow.Flow {
		t.Fatal("tarn_flow_4 should reconstruct flow")
	}
	spec, _ = specs.Model("i3d_ae_4")
	if ae := spec.(models.AEI3DOptions); ae.Flow || ae.EmbedPlanes != 1024 {
		t.Fatalf("i3d_ae_4 = %+v", ae)
	}
	spec, _ = specs.Model("tadn_class_8")
	if tadn := spec.(models.TADNOptions); tadn.GrowthRate != 64 || tadn.ClassifierDropRate != 0.5 {
		t.Fatalf("tadn_class_8 = %+v", tadn)
	}
}

func TestPresetsDoNotShareSlices(t *testing.T) {
	first, _ := specs.Model("tarn_class_4")
	tarn := first.(models.TARNOptions)
	tarn.SpatialEncoderPlanes[0] = 999

	second, _ := specs.Model("tarn_class_4")
	if second.(models.TARNOptions).SpatialEncoderPlanes[0] != 16 {
		t.Fatal("preset slices are shared between lookups")
	}
}

func TestModelUnknown(t *testing.T) {
	_, err := specs.Model("resnet_class_4")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestModelUnknownSuggestsClosest(t *testing.T) {
	_, err := specs.Model("tarn_vae")
	if err == nil || !strings.Contains(err.Error(), `did you mean "tarn_vae_4"`) {
		t.Fatalf("expected suggestion, got %v", err)
	}
}

func TestRunBuildsValidOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	opts, err := specs.Run(" TARN_Class_8 ", &cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if opts.Name != "tarn_class_8" {
		t.Fatalf("name = %q", opts.Name)
	}
	if opts.TrainerOpts.Optimizer != options.OptimizerAdam || opts.TrainerOpts.OptimizerOpts.LR != 0.001 {
		t.Fatalf("trainer opts = %+v", opts.TrainerOpts)
	}
	if opts.TrainerOpts.Epochs != 200 || opts.TrainerOpts.Criterion != options.CriterionCrossEntropy {
		t.Fatalf("trainer opts = %+v", opts.TrainerOpts)
	}
	if opts.DataLoaderOpts.BatchSize != 16 || opts.DataBunchOpts.Shape.TimeSteps != 8 {
		t.Fatalf("loader/bunch = %+v %+v", opts.DataLoaderOpts, opts.DataBunchOpts)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
