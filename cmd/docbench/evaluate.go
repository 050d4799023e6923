package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/client"
	"github.com/docfold/docbench/internal/evaluation"
	"github.com/docfold/docbench/internal/report"
	"github.com/docfold/docbench/internal/watch"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <dataset_path>",
		Short: "Score extraction engines against a ground-truth dataset",
		Long: `Evaluate every annotated document in the dataset with every selected engine.

The JSON report is written to stdout unless --output is given. The command
exits 0 once the run completes, whatever the scores; it fails when the
dataset is missing, no engine can be resolved or no record matches.

Examples:
  docbench evaluate ./dataset
  docbench evaluate ./dataset --engines pdftotext,tesseract --categories invoices
  docbench evaluate ./dataset -o report.json --xlsx report.xlsx
  docbench evaluate ./dataset --engines plaintext --watch`,
		Args: cobra.ExactArgs(1),
		RunE: runEvaluate,
	}

	cmd.Flags().StringSlice("engines", nil, "engines to evaluate (default: all available)")
	cmd.Flags().StringSlice("categories", nil, "only evaluate these categories")
	cmd.Flags().StringP("output", "o", "", "write the JSON report to this file (default: stdout)")
	cmd.Flags().String("xlsx", "", "also write the report as an Excel workbook")
	cmd.Flags().Int("concurrency", 0, "max in-flight extractions (default: from config)")
	cmd.Flags().Bool("progress", false, "print per-document progress to stderr")
	cmd.Flags().Bool("watch", false, "re-run whenever files in the dataset change")

	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	engines, _ := cmd.Flags().GetStringSlice("engines")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	output, _ := cmd.Flags().GetString("output")
	xlsxPath, _ := cmd.Flags().GetString("xlsx")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	progress, _ := cmd.Flags().GetBool("progress")
	watchMode, _ := cmd.Flags().GetBool("watch")

	if concurrency < 0 {
		return fmt.Errorf("--concurrency must not be negative")
	}
	if c := remoteClient(cmd); c != nil {
		if watchMode || progress {
			return fmt.Errorf("--watch and --progress need a local run")
		}
		return evaluateRemote(cmd, c, client.RunRequest{
			DatasetPath: args[0],
			Engines:     engines,
			Categories:  categories,
			Concurrency: concurrency,
		}, output, xlsxPath)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		req := app.Request{
			DatasetPath: args[0],
			Engines:     engines,
			Categories:  categories,
			Concurrency: concurrency,
		}
		if progress {
			req.Observer = progressPrinter(cmd.ErrOrStderr())
		}
		run := func(ctx context.Context) error {
			return evaluateOnce(ctx, cmd, a, req, output, xlsxPath)
		}

		if !watchMode {
			return run(ctx)
		}

		if err := run(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "evaluation failed:", err)
		}
		w, err := watch.New(watch.Config{Root: args[0]}, func(ctx context.Context, paths []string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%d file(s) changed, re-evaluating\n", len(paths))
			if err := run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "evaluation failed:", err)
			}
		}, a.Logger())
		if err != nil {
			return err
		}
		return w.Run(ctx)
	})
}

// evaluateOnce runs one evaluation and writes its outputs. A partial report
// from an interrupted run is still written.
func evaluateOnce(ctx context.Context, cmd *cobra.Command, a *app.App, req app.Request, output, xlsxPath string) error {
	rep, runErr := a.Evaluate(ctx, req)
	if rep == nil {
		return runErr
	}

	precision := a.Config.Eval.FloatPrecision
	if err := writeReport(cmd.OutOrStdout(), output, rep, precision); err != nil {
		return err
	}
	if xlsxPath != "" {
		if err := writeWorkbook(xlsxPath, rep, precision); err != nil {
			return err
		}
	}
	printSummary(cmd.ErrOrStderr(), rep)

	if runErr != nil {
		return fmt.Errorf("evaluation interrupted after %d scores: %w", len(rep.Scores), runErr)
	}
	return nil
}

// evaluateRemote runs the evaluation on a docbench server. The dataset path
// is resolved on the server.
func evaluateRemote(cmd *cobra.Command, c *client.Client, req client.RunRequest, output, xlsxPath string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rep, err := c.Evaluate(cmd.Context(), req)
	if err != nil {
		return err
	}

	precision := cfg.Eval.FloatPrecision
	if err := writeReport(cmd.OutOrStdout(), output, rep, precision); err != nil {
		return err
	}
	if xlsxPath != "" {
		if err := writeWorkbook(xlsxPath, rep, precision); err != nil {
			return err
		}
	}
	printSummary(cmd.ErrOrStderr(), rep)
	return nil
}

// progressPrinter prints one line per finished pair.
func progressPrinter(w io.Writer) evaluation.Observer {
	return evaluation.ObserverFunc(func(p evaluation.Progress) {
		if p.Status == evaluation.StatusStarted {
			return
		}
		line := fmt.Sprintf("[%d/%d] %s × %s %s (%dms)",
			p.Current, p.Total, p.DocumentID, p.BackendName, p.Status, p.Duration.Milliseconds())
		if p.Error != "" {
			line += ": " + p.Error
		}
		fmt.Fprintln(w, line)
	})
}

func writeReport(stdout io.Writer, path string, rep *report.Report, precision int) error {
	opts := report.EncodeOptions{Precision: precision, Indent: true}
	if path == "" || path == "-" {
		return report.Encode(stdout, rep, opts)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.Encode(f, rep, opts); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

func writeWorkbook(path string, rep *report.Report, precision int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	if err := report.WriteXLSX(f, rep, precision); err != nil {
		f.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	return f.Close()
}

func printSummary(w io.Writer, rep *report.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tSCORED\tERRORS\tCER\tWER\tTABLE F1\tHEADING F1\tORDER\tAVG MS")
	for _, s := range rep.BackendSummaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.BackendName, s.ScoredCount, s.SkippedErrorCount,
			fmtMetric(s.AvgCER), fmtMetric(s.AvgWER), fmtMetric(s.AvgTableF1),
			fmtMetric(s.AvgHeadingF1), fmtMetric(s.AvgReadingOrderScore), fmtMillis(s.AvgProcessingTimeMS))
	}
	_ = tw.Flush()
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func fmtMillis(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}
