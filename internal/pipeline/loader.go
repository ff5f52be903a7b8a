package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"vidtrain/internal/options"
)

// Source is an indexable set of clips.
type Source interface {
	Len() int
	ClipSize() int
	ID(i int) string
	Target(i int) int
	Load(i, epoch int, dst []float32) error
}

// Loader batches a Source. Shuffled loaders draw a fresh permutation per
// epoch from the seed, so a resumed run sees the same order as an
// uninterrupted one.
type Loader struct {
	source Source
	opts   options.DataLoaderOptions
	seed   int64
}

// NewLoader returns a loader over source.
func NewLoader(source Source, opts options.DataLoaderOptions, seed int64) (*Loader, error) {
	if source == nil {
		return nil, errors.New("loader: source is nil")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Loader{source: source, opts: opts, seed: seed}, nil
}

// BatchSize is the number of clips in a full batch.
func (l *Loader) BatchSize() int { return l.opts.BatchSize }

// Len is the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.source.Len()
	if l.opts.DropLast {
		return n / l.opts.BatchSize
	}
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Order is the item order of epoch.
func (l *Loader) Order(epoch int) []int {
	n := l.source.Len()
	if !l.opts.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewPCG(uint64(l.seed), uint64(epoch)))
	return rng.Perm(n)
}

// Batches yields the batches of epoch. Clips of a batch are decoded by up to
// Workers goroutines.
func (l *Loader) Batches(ctx context.Context, epoch int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		order := l.Order(epoch)
		for b := 0; b < l.Len(); b++ {
			end := min((b+1)*l.opts.BatchSize, len(order))
			batch, err := l.load(ctx, order[b*l.opts.BatchSize:end], epoch)
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

func (l *Loader) load(ctx context.Context, items []int, epoch int) (Batch, error) {
	size := l.source.ClipSize()
	batch := Batch{
		X:      make([]float32, len(items)*size),
		Labels: make([]int, len(items)),
		IDs:    make([]string, len(items)),
		N:      len(items),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for slot, item := range items {
		batch.Labels[slot] = l.source.Target(item)
		batch.IDs[slot] = l.source.ID(item)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return l.source.Load(item, epoch, batch.X[slot*size:(slot+1)*size])
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}
