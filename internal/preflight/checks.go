package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vidtrain/internal/config"
	"vidtrain/internal/device"
	"vidtrain/internal/runs"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckReadableFile verifies that path is a regular file the process can read.
func CheckReadableFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckDataset verifies the frame directory, label map and split metadata.
// The label map must parse and hold at least the configured class count.
func CheckDataset(cfg *config.Config) []Result {
	results := []Result{
		checkFramesDir(cfg.DatasetPath(cfg.Dataset.FramesDir)),
		checkLabels(cfg.DatasetPath(cfg.Dataset.LabelsFile), cfg.Dataset.Classes),
		CheckReadableFile("Train metadata", cfg.DatasetPath(cfg.Dataset.TrainMeta)),
		CheckReadableFile("Validation metadata", cfg.DatasetPath(cfg.Dataset.ValidMeta)),
	}
	return results
}

func checkFramesDir(path string) Result {
	const name = "Frames directory"
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func checkLabels(path string, classes int) Result {
	const name = "Labels"
	result := CheckReadableFile(name, path)
	if !result.Passed {
		return result
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	var labels map[string]json.RawMessage
	if err := json.Unmarshal(data, &labels); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: parse: %v)", path, err)}
	}
	if len(labels) < classes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %d labels, config expects %d classes)", path, len(labels), classes)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d classes)", path, len(labels))}
}

// CheckRegistry opens the run registry and summarizes recorded sessions.
// A missing registry passes; it is created by the first run.
func CheckRegistry(ctx context.Context, cfg *config.Config) Result {
	const name = "Run registry"
	path := cfg.RegistryPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", path)}
	}
	store, err := runs.OpenPath(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()

	all, err := store.List(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	running := 0
	for _, run := range all {
		if run.Status == runs.StatusRunning {
			running++
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d sessions, %d running)", path, len(all), running)}
}

// CheckDevice reports the CPU and flags worker counts above the thread count.
func CheckDevice(report device.Report, workers int) Result {
	const name = "Device"
	if capped := report.Workers(workers); capped != workers {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (workers %d capped to %d)", report, workers, capped)}
	}
	return Result{Name: name, Passed: true, Detail: report.String()}
}
