package testsupport

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// DatasetSpec sizes a synthetic dataset.
type DatasetSpec struct {
	Classes     int
	TrainVideos int
	ValidVideos int
	Frames      int
	Width       int
	Height      int
}

func (s DatasetSpec) withDefaults() DatasetSpec {
	if s.Classes <= 0 {
		s.Classes = 3
	}
	if s.TrainVideos <= 0 {
		s.TrainVideos = 6
	}
	if s.ValidVideos <= 0 {
		s.ValidVideos = 3
	}
	if s.Frames <= 0 {
		s.Frames = 6
	}
	if s.Width <= 0 {
		s.Width = 16
	}
	if s.Height <= 0 {
		s.Height = 12
	}
	return s
}

// ClassTemplate is the bracketed template of class i.
func ClassTemplate(i int) string {
	return fmt.Sprintf("Moving [something] %d", i)
}

// ClassName is the labels.json key of class i.
func ClassName(i int) string {
	return fmt.Sprintf("Moving something %d", i)
}

// WriteDataset writes labels.json, train.json, validation.json and a frames
// directory of solid-colour JPEGs under root. Video n belongs to class
// n % Classes; frame k of every video has brightness proportional to k.
func WriteDataset(t testing.TB, root string, spec DatasetSpec) {
	t.Helper()
	spec = spec.withDefaults()

	labels := make(map[string]string, spec.Classes)
	for i := 0; i < spec.Classes; i++ {
		labels[ClassName(i)] = strconv.Itoa(i)
	}
	writeJSON(t, filepath.Join(root, "labels.json"), labels)

	type entry struct {
		ID       string `json:"id"`
		Label    string `json:"label"`
		Template string `json:"template"`
	}
	split := func(name string, count, offset int) {
		entries := make([]entry, 0, count)
		for n := 0; n < count; n++ {
			id := strconv.Itoa(offset + n)
			class := (offset + n) % spec.Classes
			entries = append(entries, entry{
				ID:       id,
				Label:    fmt.Sprintf("Moving a cup %d", class),
				Template: ClassTemplate(class),
			})
			for k := 0; k < spec.Frames; k++ {
				WriteFrame(t, filepath.Join(root, "frames", id, fmt.Sprintf("%05d.jpg", k+1)),
					spec.Width, spec.Height, frameColor(class, k, spec.Frames))
			}
		}
		writeJSON(t, filepath.Join(root, name), entries)
	}
	split("train.json", spec.TrainVideos, 1000)
	split("validation.json", spec.ValidVideos, 2000)
}

func frameColor(class, frame, frames int) color.RGBA {
	level := uint8(40 + 160*frame/max(frames-1, 1))
	switch class % 3 {
	case 0:
		return color.RGBA{R: level, A: 255}
	case 1:
		return color.RGBA{G: level, A: 255}
	default:
		return color.RGBA{B: level, A: 255}
	}
}

// WriteFrame writes a solid-colour JPEG.
func WriteFrame(t testing.TB, path string, width, height int, c color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func writeJSON(t testing.TB, path string, value any) {
	t.Helper()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
