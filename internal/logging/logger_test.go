package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"vidtrain/internal/config"
	"vidtrain/internal/logging"
	"vidtrain/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	matches, err := filepath.Glob(filepath.Join(cfg.Paths.LogDir, "vidtrain-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (err=%v)", matches, err)
	}
	content, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "trainer").Info("epoch done", logging.Int(logging.FieldEpoch, 3), logging.String("note", "two words"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, fragment := range []string{"INFO trainer: epoch done", "epoch=3", `note="two words"`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range tests {
		if got := logging.ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q): got %v want %v", input, got, want)
		}
	}
}

func TestRunLogHandlerLineFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewRunLogHandler(&buf, slog.LevelInfo))
	logger.Info("Initializing run demo.")
	logger.Debug("hidden")

	line := buf.String()
	pattern := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3}\]\[\d+\]\[INFO\]\tInitializing run demo\.\n$`)
	if !pattern.MatchString(line) {
		t.Fatalf("unexpected run log line: %q", line)
	}
}

func TestTeeLoggerMirrorsRecords(t *testing.T) {
	var console, file bytes.Buffer
	base := slog.New(logging.NewConsoleHandler(&console, slog.LevelInfo))
	logger := logging.TeeLogger(base, logging.NewRunLogHandler(&file, slog.LevelInfo))

	logger.With(logging.String(logging.FieldRun, "demo")).Info("mirrored")

	if !strings.Contains(console.String(), "mirrored") || !strings.Contains(console.String(), "run=demo") {
		t.Fatalf("console missing record: %q", console.String())
	}
	if !strings.Contains(file.String(), "mirrored run=demo") {
		t.Fatalf("run log missing record: %q", file.String())
	}
}

func TestWithSessionAndContextFields(t *testing.T) {
	var buf bytes.Buffer
	handler := logging.WithSession(logging.NewConsoleHandler(&buf, slog.LevelInfo), "sess-1")
	ctx := services.WithRun(context.Background(), "demo")
	ctx = services.WithPhase(ctx, "train")

	logging.WithContext(ctx, slog.New(handler)).Info("tagged")

	out := buf.String()
	for _, fragment := range []string{"run=demo", "phase=train", "session_id=sess-1"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in %q", fragment, out)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewConsoleHandler(&buf, slog.LevelInfo))
	logging.WarnWithContext(logger, "resume skipped", "resume_skipped", logging.String(logging.FieldImpact, "training restarts"))

	out := buf.String()
	for _, fragment := range []string{"event_type=resume_skipped", "error_hint=", `impact="training restarts"`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in %q", fragment, out)
		}
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "vidtrain-20200101.log")
	keepPath := filepath.Join(dir, "vidtrain-20200102.log")
	freshPath := filepath.Join(dir, "vidtrain-today.log")
	otherPath := filepath.Join(dir, "notes.txt")
	for _, p := range []string{oldPath, keepPath, freshPath, otherPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, p := range []string{oldPath, keepPath, otherPath} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 5, dir, "vidtrain-*.log", keepPath)
	if removed != 1 {
		t.Fatalf("unexpected removed count: got %d want 1", removed)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed", oldPath)
	}
	for _, p := range []string{keepPath, freshPath, otherPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to remain: %v", p, err)
		}
	}
}
