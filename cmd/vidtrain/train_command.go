package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vidtrain/internal/logging"
	"vidtrain/internal/options"
	"vidtrain/internal/preflight"
	"vidtrain/internal/services"
	"vidtrain/internal/specs"
	"vidtrain/internal/training"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var resume bool
	var resumeFrom string
	var epochs int
	var optimizer string
	var learningRate float64
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "train <preset>",
		Short: "Train a run built from a model preset",
		Long: "Train a run built from a model preset. The run is written to <run_dir>/<preset>/.\n" +
			"Use --resume to continue from the newest checkpoint, or --resume-from to pick one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := specs.Run(args[0], cfg)
			if err != nil {
				return err
			}
			if epochs > 0 {
				opts.TrainerOpts.Epochs = epochs
			}
			if optimizer = strings.ToLower(strings.TrimSpace(optimizer)); optimizer != "" {
				opts.TrainerOpts.Optimizer = options.OptimizerKind(optimizer)
			}
			if learningRate > 0 {
				opts.TrainerOpts.OptimizerOpts.LR = learningRate
			}
			if from := strings.TrimSpace(resumeFrom); from != "" {
				opts.Resume = true
				opts.ResumeFrom = from
			} else if resume {
				opts.Resume = true
				opts.ResumeFrom = training.ResumeLatest
			}

			if !skipPreflight {
				if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg)); len(failed) > 0 {
					return services.Wrap(services.ErrConfiguration, "train", "preflight", preflight.Summary(failed), nil)
				}
			}

			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			logging.WithContext(services.WithRun(cmd.Context(), opts.Name), logger).Info("starting run",
				logging.String("model", opts.Model.Kind()),
				logging.Int("epochs", opts.TrainerOpts.Epochs),
				logging.String("optimizer", string(opts.TrainerOpts.Optimizer)),
				logging.Bool("resume", opts.Resume),
			)
			deps := training.Deps{Logger: logger}
			if cfg.Training.Progress && isTerminal(cmd.ErrOrStderr()) {
				deps.Progress = cmd.ErrOrStderr()
			}

			run, err := training.New(cmd.Context(), cfg, opts, deps)
			if err != nil {
				return err
			}
			defer run.Close()

			if err := run.Run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s completed (%d epochs) in %s\n", opts.Name, opts.TrainerOpts.Epochs, run.Dir())
			return nil
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from the newest checkpoint of the run")
	cmd.Flags().StringVar(&resumeFrom, "resume-from", "", "Resume from a checkpoint path (relative paths resolve in the run directory)")
	cmd.Flags().IntVar(&epochs, "epochs", 0, "Override the number of training epochs")
	cmd.Flags().StringVar(&optimizer, "optimizer", "", "Override the optimizer (adam, sgd, rmsprop)")
	cmd.Flags().Float64Var(&learningRate, "lr", 0, "Override the learning rate")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without checking directories and dataset files")
	return cmd
}
