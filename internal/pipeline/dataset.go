package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"vidtrain/internal/options"
	"vidtrain/internal/services"
)

// ImageNet channel statistics used to normalize RGB frames.
var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Entry is one video of a split metadata file.
type Entry struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Template string `json:"template"`
}

// Class is the labels.json key of the entry: its template without the
// placeholder brackets.
func (e Entry) Class() string {
	if e.Template == "" {
		return strings.TrimSpace(e.Label)
	}
	return strings.TrimSpace(strings.NewReplacer("[", "", "]", "").Replace(e.Template))
}

// LoadLabels reads labels.json, a map from class name to its index string.
func LoadLabels(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrDataset, "pipeline", "read labels", path, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, services.Wrap(services.ErrDataset, "pipeline", "decode labels", path, err)
	}
	labels := make(map[string]int, len(raw))
	for name, value := range raw {
		index, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || index < 0 {
			return nil, services.Wrap(services.ErrDataset, "pipeline", "decode labels",
				fmt.Sprintf("label %q has invalid index %q", name, value), nil)
		}
		labels[name] = index
	}
	return labels, nil
}

// LoadEntries reads a split metadata file.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrDataset, "pipeline", "read split", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, services.Wrap(services.ErrDataset, "pipeline", "decode split", path, err)
	}
	return entries, nil
}

// DataSet serves normalized clips of one split.
type DataSet struct {
	split   string
	frames  string
	entries []Entry
	targets []int
	shape   options.Shape
	stride  int
	train   bool
	seed    int64
}

// NewDataSet loads the split metadata at metaFile and resolves every entry to
// its class index. Training sets sample clip offsets randomly per epoch;
// evaluation sets take the centered clip.
func NewDataSet(split, metaFile string, labels map[string]int, set options.DataSetOptions, bunch options.DataBunchOptions, train bool, seed int64) (*DataSet, error) {
	if bunch.Shape.Channels != 3 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "dataset",
			fmt.Sprintf("frames are RGB, got %d channels", bunch.Shape.Channels), nil)
	}
	entries, err := LoadEntries(resolve(set.Root, metaFile))
	if err != nil {
		return nil, err
	}
	entries = cut(entries, bunch.Cut)

	targets := make([]int, len(entries))
	for i, entry := range entries {
		index, ok := labels[entry.Class()]
		if !ok {
			return nil, services.Wrap(services.ErrDataset, "pipeline", "dataset",
				fmt.Sprintf("%s video %s has unknown class %q", split, entry.ID, entry.Class()), nil)
		}
		if index >= bunch.Classes {
			return nil, services.Wrap(services.ErrDataset, "pipeline", "dataset",
				fmt.Sprintf("class %q index %d exceeds %d classes", entry.Class(), index, bunch.Classes), nil)
		}
		targets[i] = index
	}

	return &DataSet{
		split:   split,
		frames:  resolve(set.Root, set.FramesDir),
		entries: entries,
		targets: targets,
		shape:   bunch.Shape,
		stride:  bunch.Stride,
		train:   train,
		seed:    seed,
	}, nil
}

func resolve(root, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(root, name)
}

// cut keeps the leading fraction of entries, at least one.
func cut(entries []Entry, fraction float64) []Entry {
	if fraction >= 1 || len(entries) == 0 {
		return entries
	}
	n := int(float64(len(entries)) * fraction)
	if n < 1 {
		n = 1
	}
	return entries[:n]
}

// Split names the split, e.g. "train".
func (d *DataSet) Split() string { return d.split }

func (d *DataSet) Len() int { return len(d.entries) }

// ClipSize is the number of values in one clip.
func (d *DataSet) ClipSize() int {
	return d.shape.TimeSteps * d.shape.Channels * d.shape.Height * d.shape.Width
}

// ID returns the video id of item i.
func (d *DataSet) ID(i int) string { return d.entries[i].ID }

// Target returns the class index of item i.
func (d *DataSet) Target(i int) int { return d.targets[i] }

// Load decodes the clip of item i for epoch into dst, which must hold
// ClipSize values.
func (d *DataSet) Load(i, epoch int, dst []float32) error {
	if len(dst) != d.ClipSize() {
		return fmt.Errorf("clip buffer has %d values, want %d", len(dst), d.ClipSize())
	}
	entry := d.entries[i]
	paths, err := framePaths(filepath.Join(d.frames, entry.ID))
	if err != nil {
		return services.Wrap(services.ErrDataset, "pipeline", "load", entry.ID, err)
	}
	indices := d.sample(len(paths), i, epoch)
	frameSize := d.shape.Channels * d.shape.Height * d.shape.Width
	for t, index := range indices {
		if err := d.decodeFrame(paths[index], dst[t*frameSize:(t+1)*frameSize]); err != nil {
			return services.Wrap(services.ErrDataset, "pipeline", "decode", paths[index], err)
		}
	}
	return nil
}

func framePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no frames found")
	}
	sort.Strings(paths)
	return paths, nil
}

// sample picks TimeSteps frame indices spaced by stride. Videos shorter than
// the span repeat their last frame.
func (d *DataSet) sample(frames, item, epoch int) []int {
	steps := d.shape.TimeSteps
	span := (steps-1)*d.stride + 1
	start := 0
	if slack := frames - span; slack > 0 {
		if d.train {
			rng := rand.New(rand.NewPCG(uint64(d.seed), uint64(epoch)<<32|uint64(item)))
			start = rng.IntN(slack + 1)
		} else {
			start = slack / 2
		}
	}
	indices := make([]int, steps)
	for t := range indices {
		indices[t] = min(start+t*d.stride, frames-1)
	}
	return indices
}

func (d *DataSet) decodeFrame(path string, dst []float32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	src, err := jpeg.Decode(f)
	if err != nil {
		return err
	}
	h, w := d.shape.Height, d.shape.Width
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(frame, frame.Bounds(), src, src.Bounds(), draw.Src, nil)

	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := frame.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float32(frame.Pix[offset+c]) / 255
				dst[c*plane+y*w+x] = (v - imageNetMean[c]) / imageNetStd[c]
			}
		}
	}
	return nil
}
