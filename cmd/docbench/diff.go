package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/textdiff"
)

func diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <dataset_path> <document_id>",
		Short: "Diff an engine's extracted text against the annotation",
		Long: `Extract one annotated document and print a line diff of the reference
full text (-) against the extracted text (+), with its CER and WER.

Examples:
  docbench diff ./dataset invoice-017 --engine tesseract
  docbench diff ./dataset invoice-017 --context -1 --color never`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("engine")
			contextLines, _ := cmd.Flags().GetInt("context")
			colorMode, _ := cmd.Flags().GetString("color")
			asJSON, _ := cmd.Flags().GetBool("json")

			useColor, err := colorEnabled(colorMode)
			if err != nil {
				return err
			}
			opts := textdiff.Options{Context: contextLines, Color: useColor && !asJSON}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				d, err := a.Diff(ctx, args[0], args[1], name, opts)
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(cmd, d)
				}

				out := cmd.OutOrStdout()
				if d.Diff.Identical() {
					fmt.Fprintf(out, "%s: extracted text matches the annotation line for line\n", d.Engine)
				} else {
					fmt.Fprint(out, d.Diff.Text)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s × %s: CER %.4f, WER %.4f, +%d -%d lines\n",
					d.DocumentID, d.Engine, d.CER, d.WER, d.Diff.Inserted, d.Diff.Deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringP("engine", "e", "", "engine to use (default: auto-select)")
	cmd.Flags().Int("context", textdiff.DefaultContext, "unchanged lines around each change (-1 = all)")
	cmd.Flags().String("color", "auto", "colorize output: auto, always or never")
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

func colorEnabled(mode string) (bool, error) {
	switch mode {
	case "auto", "":
		return !color.NoColor, nil
	case "always":
		return true, nil
	case "never":
		return false, nil
	}
	return false, fmt.Errorf("invalid --color %q: want auto, always or never", mode)
}
