package main

import (
	"strings"
	"testing"
)

func TestPresetDisplayName(t *testing.T) {
	tests := map[string]string{
		"tarn_class_4": "TARN Class (4 frames)",
		"tarn_gsnn_4":  "TARN GSNN (4 frames)",
		"i3d_flow_4":   "I3D Flow (4 frames)",
		"tadn_class_8": "TADN Class (8 frames)",
		"custom":       "Custom",
	}
	for name, want := range tests {
		if got := presetDisplayName(name); got != want {
			t.Errorf("presetDisplayName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestPresetsListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"presets", "list"}, "")
	if err != nil {
		t.Fatalf("presets list: %v", err)
	}
	for _, want := range []string{"tarn_class_4", "i3d_vae_4", "vae_i3d", "TADN Class (8 frames)"} {
		requireContains(t, out, want)
	}

	out, _, err = runCLI(t, []string{"presets", "show", "TARN_ae_4"}, env.configPath)
	if err != nil {
		t.Fatalf("presets show: %v", err)
	}
	requireContains(t, out, `"model": "ae_tarn"`)
	requireContains(t, out, `"name": "tarn_ae_4"`)
	requireContains(t, out, `"spatial_decoder_planes"`)
}

func TestPresetsShowUnknownSuggestsClosest(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"presets", "show", "tarn_vae"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown preset")
	}
	if !strings.Contains(err.Error(), `did you mean "tarn_vae_4"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}
