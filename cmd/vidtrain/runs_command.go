package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vidtrain/internal/engine"
	"vidtrain/internal/fileutil"
	"vidtrain/internal/runs"
	"vidtrain/internal/services"
	"vidtrain/internal/textutil"
)

// runArtifacts are the per-run files copied by runs export.
var runArtifacts = []string{"run.json", "stats.csv", "run.log"}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage training runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsExportCommand(ctx))
	runsCmd.AddCommand(newRunsReapCommand(ctx))
	runsCmd.AddCommand(newRunsRemoveCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List training sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]runs.Status, 0, len(statusFilters))
			for _, raw := range statusFilters {
				statuses = append(statuses, runs.Status(strings.ToLower(strings.TrimSpace(raw))))
			}
			return ctx.withRegistry(func(store *runs.Store) error {
				sessions, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, run := range sessions {
					rows = append(rows, []string{
						strconv.FormatInt(run.ID, 10),
						run.Name,
						run.Model,
						string(run.Status),
						fmt.Sprintf("%d/%d", run.EpochsDone, run.MaxEpochs),
						yesNo(run.Resumed),
						humanize.Time(run.StartedAt),
						formatDuration(run.Duration()),
					})
				}
				fmt.Fprintln(out, renderTable("", []string{"ID", "Run", "Model", "Status", "Epochs", "Resumed", "Started", "Duration"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Only show sessions with these statuses")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run>",
		Short: "Show the latest session of a run with its epochs and checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(store *runs.Store) error {
				run, err := latestRun(cmd, store, args[0])
				if err != nil {
					return err
				}
				epochs, err := store.Epochs(cmd.Context(), run.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:        %s\n", run.Name)
				fmt.Fprintf(out, "Session:    %s\n", run.SessionID)
				fmt.Fprintf(out, "Model:      %s\n", run.Model)
				fmt.Fprintf(out, "Status:     %s\n", run.Status)
				fmt.Fprintf(out, "Epochs:     %d/%d\n", run.EpochsDone, run.MaxEpochs)
				fmt.Fprintf(out, "Resumed:    %s\n", yesNo(run.Resumed))
				fmt.Fprintf(out, "Started:    %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), humanize.Time(run.StartedAt))
				fmt.Fprintf(out, "Duration:   %s\n", formatDuration(run.Duration()))
				fmt.Fprintf(out, "Directory:  %s\n", run.RunDir)
				if run.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:      %s\n", run.ErrorMessage)
				}

				if len(epochs) > 0 {
					rows := make([][]string, 0, len(epochs))
					for _, stat := range epochs {
						rows = append(rows, []string{
							strconv.Itoa(stat.Epoch),
							formatMetric(stat.TrainLoss),
							formatMetric(stat.ValidLoss),
							formatMetric(stat.TrainAcc1),
							formatMetric(stat.ValidAcc1),
							formatMetric(stat.TrainAcc3),
							formatMetric(stat.ValidAcc3),
							formatDuration(stat.Duration),
						})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable("Epochs",
						[]string{"Epoch", "Train loss", "Valid loss", "Train acc@1", "Valid acc@1", "Train acc@3", "Valid acc@3", "Time"},
						rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}))
				}

				rows, err := checkpointRows(run)
				if err != nil {
					return err
				}
				if len(rows) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable("Checkpoints", []string{"File", "Size", "Written"}, rows,
						[]columnAlignment{alignLeft, alignRight, alignLeft}))
				}
				return nil
			})
		},
	}
}

func newRunsExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <run> <dest-dir>",
		Short: "Copy run.json, stats.csv and run.log of a run into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(store *runs.Store) error {
				run, err := latestRun(cmd, store, args[0])
				if err != nil {
					return err
				}
				dest := strings.TrimSpace(args[1])
				if err := os.MkdirAll(dest, 0o755); err != nil {
					return fmt.Errorf("create export directory %q: %w", dest, err)
				}

				out := cmd.OutOrStdout()
				base := textutil.SanitizeFileName(run.Name)
				copied := 0
				for _, artifact := range runArtifacts {
					src := filepath.Join(run.RunDir, artifact)
					info, err := os.Stat(src)
					if errors.Is(err, fs.ErrNotExist) {
						fmt.Fprintf(out, "Skipped %s (not written)\n", artifact)
						continue
					}
					if err != nil {
						return fmt.Errorf("stat %s: %w", src, err)
					}
					dst := filepath.Join(dest, base+"_"+artifact)
					if err := fileutil.CopyFileVerified(src, dst); err != nil {
						return err
					}
					fmt.Fprintf(out, "Exported %s (%s)\n", dst, humanize.Bytes(uint64(info.Size())))
					copied++
				}
				if copied == 0 {
					return services.Wrap(services.ErrNotFound, "runs", "export",
						fmt.Sprintf("run %q has no artifacts in %s", run.Name, run.RunDir), nil)
				}
				return nil
			})
		},
	}
}

func newRunsReapCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Mark running sessions that stopped reporting as interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return services.Wrap(services.ErrValidation, "runs", "reap", "--older-than must be positive", nil)
			}
			return ctx.withRegistry(func(store *runs.Store) error {
				changed, err := store.MarkStale(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d stale sessions as interrupted\n", changed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Idle time after which a running session is considered stale")
	return cmd
}

func newRunsRemoveCommand(ctx *commandContext) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "remove <run>",
		Short: "Forget every session of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(store *runs.Store) error {
				run, err := latestRun(cmd, store, args[0])
				if err != nil {
					return err
				}
				if run.Status == runs.StatusRunning {
					return services.Wrap(services.ErrValidation, "runs", "remove",
						fmt.Sprintf("run %q is still running (use runs reap for abandoned sessions)", run.Name), nil)
				}
				removed, err := store.Remove(cmd.Context(), run.Name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d sessions of %s\n", removed, run.Name)
				if purge && run.RunDir != "" {
					if err := os.RemoveAll(run.RunDir); err != nil {
						return fmt.Errorf("purge %s: %w", run.RunDir, err)
					}
					fmt.Fprintf(out, "Deleted %s\n", run.RunDir)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the run directory with its checkpoints")
	return cmd
}

func latestRun(cmd *cobra.Command, store *runs.Store, name string) (*runs.Run, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	run, err := store.Latest(cmd.Context(), key)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, services.Wrap(services.ErrNotFound, "runs", "lookup", fmt.Sprintf("no run named %q", name), nil)
	}
	return run, nil
}

func checkpointRows(run *runs.Run) ([][]string, error) {
	paths, err := engine.Checkpoints(run.RunDir, textutil.SanitizeToken(run.Name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		rows = append(rows, []string{
			filepath.Base(path),
			humanize.Bytes(uint64(info.Size())),
			humanize.Time(info.ModTime()),
		})
	}
	return rows, nil
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
