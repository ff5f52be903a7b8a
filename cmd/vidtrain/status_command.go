package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vidtrain/internal/preflight"
)

// informational checks never block training, so they render as INFO.
var informationalChecks = map[string]bool{
	"Device":       true,
	"Run registry": true,
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, dataset, registry and device readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := isTerminal(out)

			lines := renderSectionHeader("Configuration", colorize)
			configPath := ctx.configPath
			if configPath == "" {
				configPath = "defaults"
			}
			lines = append(lines,
				renderStatusLine("Config", statusInfo, configPath, colorize),
				renderStatusLine("Data directory", statusInfo, cfg.Paths.DataDir, colorize),
				"",
			)
			lines = append(lines, renderSectionHeader("Checks", colorize)...)

			results := preflight.RunAll(cmd.Context(), cfg)
			for _, r := range results {
				kind := statusOK
				switch {
				case !r.Passed:
					kind = statusError
				case informationalChecks[r.Name]:
					kind = statusInfo
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}
