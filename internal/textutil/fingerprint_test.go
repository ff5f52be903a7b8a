package textutil

import (
	"math"
	"testing"
)

func TestCosineSimilarityNil(t *testing.T) {
	tests := []struct {
		name string
		a    *Fingerprint
		b    *Fingerprint
		want float64
	}{
		{"both nil", nil, nil, 0},
		{"a nil", nil, NewFingerprint("tarn_class_4"), 0},
		{"b nil", NewFingerprint("tarn_class_4"), nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	a := NewFingerprint("i3d_vae_4")
	b := NewFingerprint("I3D-VAE-4")

	got := CosineSimilarity(a, b)
	if math.Abs(got-1.0) > 1e-12 {
		t.Errorf("CosineSimilarity(identical) = %v, want 1.0", got)
	}
}

func TestCosineSimilarityDisjoint(t *testing.T) {
	got := CosineSimilarity(NewFingerprint("tarn_ae"), NewFingerprint("i3d_flow"))
	if got != 0 {
		t.Errorf("CosineSimilarity(disjoint) = %v, want 0", got)
	}
}

func TestTokenizeKeepsShortTokens(t *testing.T) {
	got := Tokenize("TARN__gsnn-4")
	want := []string{"tarn", "gsnn", "4"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize() = %v, want %v", got, want)
		}
	}
}

func TestNewFingerprintEmpty(t *testing.T) {
	if fp := NewFingerprint(" _- "); fp != nil {
		t.Fatalf("expected nil fingerprint, got %+v", fp)
	}
}

func TestClosest(t *testing.T) {
	candidates := []string{"i3d_class_4", "tarn_class_4", "tarn_vae_4", "tadn_class_8"}

	tests := []struct {
		query string
		want  string
	}{
		{"tarn_vae", "tarn_vae_4"},
		{"tadn_8", "tadn_class_8"},
		{"i3d class", "i3d_class_4"},
		{"resnet", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, score := Closest(tt.query, candidates)
			if got != tt.want {
				t.Fatalf("Closest(%q) = %q (%.2f), want %q", tt.query, got, score, tt.want)
			}
		})
	}
}
