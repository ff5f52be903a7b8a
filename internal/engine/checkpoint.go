package engine

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"vidtrain/internal/fileutil"
	"vidtrain/internal/logging"
	"vidtrain/internal/services"
)

// Snapshot captures one checkpoint entry at save time.
type Snapshot func() (any, error)

// Checkpoint writes gzip compressed JSON checkpoints named
// <prefix>_checkpoint_<epoch>.json.gz and keeps the newest ones.
type Checkpoint struct {
	dir      string
	prefix   string
	keep     int
	interval int
	logger   *slog.Logger
	pattern  *regexp.Regexp
	saved    []savedCheckpoint
}

type savedCheckpoint struct {
	epoch int
	path  string
}

// NewCheckpoint prepares dir and adopts checkpoints already present there so
// resumed runs keep honouring the retention limit.
func NewCheckpoint(dir, prefix string, keep, interval int, logger *slog.Logger) (*Checkpoint, error) {
	if keep <= 0 || interval <= 0 {
		return nil, fmt.Errorf("checkpoint: keep and interval must be positive, got %d and %d", keep, interval)
	}
	if prefix == "" {
		return nil, errors.New("checkpoint: prefix is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create %s: %w", dir, err)
	}
	c := &Checkpoint{
		dir:      dir,
		prefix:   prefix,
		keep:     keep,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "checkpoint"),
		pattern:  checkpointPattern(prefix),
	}
	existing, err := c.scan()
	if err != nil {
		return nil, err
	}
	c.saved = existing
	return c, nil
}

func checkpointPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_checkpoint_(\d+)\.json\.gz$`)
}

// Path is the file a checkpoint for epoch is written to.
func (c *Checkpoint) Path(epoch int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_checkpoint_%d.json.gz", c.prefix, epoch))
}

// Saved lists retained checkpoint paths, oldest first.
func (c *Checkpoint) Saved() []string {
	out := make([]string, 0, len(c.saved))
	for _, s := range c.saved {
		out = append(out, s.path)
	}
	return out
}

// Handler returns an engine handler saving objects every interval epochs.
func (c *Checkpoint) Handler(objects map[string]Snapshot) Handler {
	return func(_ context.Context, e *Engine) error {
		epoch := e.State().Epoch
		if epoch%c.interval != 0 {
			return nil
		}
		_, err := c.Save(epoch, objects)
		return err
	}
}

// Save captures every snapshot and writes them as one checkpoint.
func (c *Checkpoint) Save(epoch int, objects map[string]Snapshot) (string, error) {
	payload := make(map[string]any, len(objects))
	for name, snapshot := range objects {
		value, err := snapshot()
		if err != nil {
			return "", services.Wrap(services.ErrCheckpoint, "checkpoint", "snapshot", name, err)
		}
		payload[name] = value
	}

	path := c.Path(epoch)
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		zw := gzip.NewWriter(w)
		if err := json.NewEncoder(zw).Encode(payload); err != nil {
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return "", services.Wrap(services.ErrCheckpoint, "checkpoint", "write", path, err)
	}

	c.record(savedCheckpoint{epoch: epoch, path: path})
	c.logger.Info("checkpoint saved",
		logging.String(logging.FieldEventType, "checkpoint_saved"),
		logging.Int(logging.FieldEpoch, epoch),
		logging.String("path", path),
	)
	c.prune()
	return path, nil
}

func (c *Checkpoint) record(entry savedCheckpoint) {
	for i, s := range c.saved {
		if s.epoch == entry.epoch {
			c.saved[i] = entry
			return
		}
	}
	c.saved = append(c.saved, entry)
	sort.Slice(c.saved, func(i, j int) bool { return c.saved[i].epoch < c.saved[j].epoch })
}

func (c *Checkpoint) prune() {
	for len(c.saved) > c.keep {
		oldest := c.saved[0]
		c.saved = c.saved[1:]
		if err := os.Remove(oldest.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(c.logger, "failed to remove old checkpoint", "checkpoint_prune_failed",
				logging.String("path", oldest.path),
				logging.Error(err),
			)
		}
	}
}

func (c *Checkpoint) scan() ([]savedCheckpoint, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %s: %w", c.dir, err)
	}
	var found []savedCheckpoint
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := c.pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		epoch, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, savedCheckpoint{epoch: epoch, path: filepath.Join(c.dir, entry.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].epoch < found[j].epoch })
	return found, nil
}

// LoadCheckpoint reads a checkpoint written by Save. Entries are returned
// undecoded so callers can unmarshal them into their own types.
func LoadCheckpoint(path string) (map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrCheckpoint, "checkpoint", "open", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, services.Wrap(services.ErrCheckpoint, "checkpoint", "decompress", path, err)
	}
	defer zr.Close()

	var entries map[string]json.RawMessage
	if err := json.NewDecoder(zr).Decode(&entries); err != nil {
		return nil, services.Wrap(services.ErrCheckpoint, "checkpoint", "decode", path, err)
	}
	return entries, nil
}

// LatestCheckpoint returns the checkpoint with the highest epoch in dir.
func LatestCheckpoint(dir, prefix string) (string, int, error) {
	c := &Checkpoint{dir: dir, pattern: checkpointPattern(prefix)}
	found, err := c.scan()
	if err != nil {
		return "", 0, err
	}
	if len(found) == 0 {
		return "", 0, services.Wrap(services.ErrNotFound, "checkpoint", "latest", fmt.Sprintf("no checkpoints for %s in %s", prefix, dir), nil)
	}
	last := found[len(found)-1]
	return last.path, last.epoch, nil
}

// Checkpoints lists the checkpoint paths for prefix in dir, oldest epoch first.
func Checkpoints(dir, prefix string) ([]string, error) {
	c := &Checkpoint{dir: dir, pattern: checkpointPattern(prefix)}
	found, err := c.scan()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(found))
	for i, entry := range found {
		paths[i] = entry.path
	}
	return paths, nil
}

// DecodeEntry unmarshals the named checkpoint entry into dst.
func DecodeEntry(entries map[string]json.RawMessage, name string, dst any) error {
	raw, ok := entries[name]
	if !ok {
		return services.Wrap(services.ErrCheckpoint, "checkpoint", "decode", fmt.Sprintf("missing entry %q", name), nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return services.Wrap(services.ErrCheckpoint, "checkpoint", "decode", name, err)
	}
	return nil
}
