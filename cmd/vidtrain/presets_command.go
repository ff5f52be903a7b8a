package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidtrain/internal/specs"
)

var (
	upperCaser = cases.Upper(language.Und)
	titleCaser = cases.Title(language.Und)
)

// presetAcronyms are preset name tokens rendered in upper case.
var presetAcronyms = map[string]bool{
	"tadn": true, "tarn": true, "i3d": true, "ae": true, "gsnn": true, "vae": true,
}

// presetDisplayName turns "tarn_gsnn_4" into "TARN GSNN (4 frames)".
func presetDisplayName(name string) string {
	tokens := strings.Split(name, "_")
	words := make([]string, 0, len(tokens))
	frames := ""
	for i, token := range tokens {
		if i == len(tokens)-1 {
			if _, err := strconv.Atoi(token); err == nil {
				frames = token
				continue
			}
		}
		if presetAcronyms[token] {
			words = append(words, upperCaser.String(token))
		} else {
			words = append(words, titleCaser.String(token))
		}
	}
	display := strings.Join(words, " ")
	if frames != "" {
		display += fmt.Sprintf(" (%s frames)", frames)
	}
	return display
}

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "List and inspect model presets",
	}
	presetsCmd.AddCommand(newPresetsListCommand())
	presetsCmd.AddCommand(newPresetsShowCommand(ctx))
	return presetsCmd
}

func newPresetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "list",
		Short:       "List model presets",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			names := specs.Names()
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				spec, err := specs.Model(name)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					name,
					presetDisplayName(name),
					spec.Kind(),
					strconv.Itoa(spec.Batch()),
					strconv.Itoa(spec.Steps()),
				})
			}
			table := renderTable("", []string{"Preset", "Description", "Model", "Batch", "Frames"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight})
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newPresetsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <preset>",
		Short: "Print the run options a preset resolves to (the run.json of a new run)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := specs.Run(args[0], cfg)
			if err != nil {
				return err
			}
			data, err := opts.MarshalRecord()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
