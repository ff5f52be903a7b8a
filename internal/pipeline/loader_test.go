package pipeline_test

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"

	"vidtrain/internal/options"
	"vidtrain/internal/pipeline"
)

type indexSource struct {
	n    int
	fail int
}

func (s indexSource) Len() int         { return s.n }
func (s indexSource) ClipSize() int    { return 2 }
func (s indexSource) ID(i int) string  { return strconv.Itoa(i) }
func (s indexSource) Target(i int) int { return i % 2 }

func (s indexSource) Load(i, epoch int, dst []float32) error {
	if s.fail > 0 && i == s.fail {
		return errors.New("corrupt clip")
	}
	dst[0] = float32(i)
	dst[1] = float32(epoch)
	return nil
}

func collect(t *testing.T, l *pipeline.Loader, epoch int) []pipeline.Batch {
	t.Helper()
	var out []pipeline.Batch
	for b, err := range l.Batches(context.Background(), epoch) {
		if err != nil {
			t.Fatalf("batch: %v", err)
		}
		out = append(out, b)
	}
	return out
}

func TestLoaderBatchesInOrder(t *testing.T) {
	l, err := pipeline.NewLoader(indexSource{n: 5}, options.DataLoaderOptions{BatchSize: 2, Workers: 2}, 1)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	batches := collect(t, l, 4)
	if len(batches) != 3 || batches[2].N != 1 {
		t.Fatalf("unexpected batches %+v", batches)
	}
	want := []float32{2, 4, 3, 4}
	if !reflect.DeepEqual(batches[1].X, want) {
		t.Fatalf("batch 1 X = %v, want %v", batches[1].X, want)
	}
	if !reflect.DeepEqual(batches[1].Labels, []int{0, 1}) {
		t.Fatalf("labels = %v", batches[1].Labels)
	}
}

func TestLoaderDropLast(t *testing.T) {
	l, err := pipeline.NewLoader(indexSource{n: 5}, options.DataLoaderOptions{BatchSize: 2, DropLast: true}, 1)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if l.Len() != 2 || len(collect(t, l, 1)) != 2 {
		t.Fatalf("DropLast should yield 2 batches, Len() = %d", l.Len())
	}
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	opts := options.DataLoaderOptions{BatchSize: 4, Shuffle: true}
	a, _ := pipeline.NewLoader(indexSource{n: 40}, opts, 9)
	b, _ := pipeline.NewLoader(indexSource{n: 40}, opts, 9)

	if !reflect.DeepEqual(a.Order(3), b.Order(3)) {
		t.Fatal("same seed and epoch should give the same order")
	}
	if reflect.DeepEqual(a.Order(3), a.Order(4)) {
		t.Fatal("different epochs should reshuffle")
	}
	seen := make(map[int]bool)
	for _, i := range a.Order(3) {
		seen[i] = true
	}
	if len(seen) != 40 {
		t.Fatalf("order is not a permutation: %d distinct items", len(seen))
	}
}

func TestLoaderStopsOnError(t *testing.T) {
	l, _ := pipeline.NewLoader(indexSource{n: 6, fail: 3}, options.DataLoaderOptions{BatchSize: 2, Workers: 4}, 1)
	var batches, failures int
	for _, err := range l.Batches(context.Background(), 1) {
		if err != nil {
			failures++
			continue
		}
		batches++
	}
	if batches != 1 || failures != 1 {
		t.Fatalf("batches=%d failures=%d, want 1 and 1", batches, failures)
	}
}

func TestLoaderHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, _ := pipeline.NewLoader(indexSource{n: 4}, options.DataLoaderOptions{BatchSize: 2}, 1)
	for _, err := range l.Batches(ctx, 1) {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		return
	}
	t.Fatal("loader yielded nothing")
}

func TestNewLoaderValidates(t *testing.T) {
	if _, err := pipeline.NewLoader(nil, options.DataLoaderOptions{BatchSize: 1}, 1); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := pipeline.NewLoader(indexSource{n: 1}, options.DataLoaderOptions{}, 1); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}
