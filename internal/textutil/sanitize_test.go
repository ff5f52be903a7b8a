package textutil

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tarn_class_4", "tarn_class_4"},
		{"  I3D VAE/4 ", "i3d_vae_4"},
		{"__", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.in); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stats.csv", "stats.csv"},
		{" run: a/b ", "run- a-b"},
		{`what?"<>|`, "what"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
