package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

const runLogTimeLayout = "2006-01-02 15:04:05,000"

// RunLog is the line-oriented log written into each run directory. Lines have
// the shape "[time][pid][LEVEL]\tmessage key=value ...".
type RunLog struct {
	file    *os.File
	handler slog.Handler
}

// OpenRunLog opens (appending) the run log at path.
func OpenRunLog(path string, level slog.Leveler) (*RunLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &RunLog{file: file, handler: NewRunLogHandler(file, level)}, nil
}

// Handler returns the slog handler writing into the run log.
func (r *RunLog) Handler() slog.Handler {
	if r == nil {
		return nil
	}
	return r.handler
}

// Path returns the file location.
func (r *RunLog) Path() string {
	if r == nil || r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Close flushes and closes the file.
func (r *RunLog) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// NewRunLogHandler returns a handler emitting run log lines to w.
func NewRunLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &runLogHandler{mu: &sync.Mutex{}, w: w, level: level, pid: strconv.Itoa(os.Getpid())}
}

type runLogHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	pid    string
	attrs  []slog.Attr
	groups []string
}

func (h *runLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *runLogHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(ts.Format(runLogTimeLayout))
	buf.WriteString("][")
	buf.WriteString(h.pid)
	buf.WriteString("][")
	buf.WriteString(levelLabel(record.Level))
	buf.WriteString("]\t")
	buf.WriteString(record.Message)
	for _, kv := range collectAttrs(h.groups, h.attrs, record) {
		if kv.key == "" || kv.key == FieldComponent {
			continue
		}
		buf.WriteByte(' ')
		buf.WriteString(kv.key)
		buf.WriteByte('=')
		buf.WriteString(formatValue(kv.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *runLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *runLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
