package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/engine"
)

func enginesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List extraction engines and their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			printEngines := func(infos []engine.Info) error {
				if asJSON {
					return encodeJSON(cmd, map[string]any{"engines": infos})
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ENGINE\tAVAILABLE\tEXTENSIONS")
				for _, info := range infos {
					avail := "no"
					if info.Available {
						avail = "yes"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, avail, strings.Join(info.Extensions, ","))
				}
				return tw.Flush()
			}

			if c := remoteClient(cmd); c != nil {
				infos, err := c.Engines(cmd.Context())
				if err != nil {
					return err
				}
				return printEngines(infos)
			}
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				return printEngines(a.Registry.List())
			})
		},
	}
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <document>",
		Short: "Extract one document and print its content",
		Long: `Extract a single document. Without --engine the engine is chosen by the
configured default, then by file extension.

Examples:
  docbench convert scan.png --engine tesseract
  docbench convert paper.pdf -o paper.txt
  docbench convert paper.pdf --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("engine")
			output, _ := cmd.Flags().GetString("output")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Convert(ctx, args[0], name)
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(cmd, out)
				}
				if output != "" {
					if err := os.WriteFile(output, []byte(out.Content), 0o644); err != nil {
						return fmt.Errorf("write output: %w", err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d pages, %d chars in %dms -> %s\n",
						out.EngineName, out.Pages, len(out.Content), out.ProcessingTimeMS, output)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.Content)
				return nil
			})
		},
	}
	cmd.Flags().StringP("engine", "e", "", "engine to use (default: auto-select)")
	cmd.Flags().StringP("output", "o", "", "write content to this file")
	cmd.Flags().Bool("json", false, "print the full extraction outcome as JSON")
	return cmd
}

// comparison is one engine's result in the compare command.
type comparison struct {
	Engine           string `json:"engine"`
	Pages            int    `json:"pages"`
	Chars            int    `json:"chars"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	Error            string `json:"error,omitempty"`
	Preview          string `json:"preview,omitempty"`
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <document>",
		Short: "Run one document through several engines side by side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, _ := cmd.Flags().GetStringSlice("engines")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(names) == 0 {
					ext := engine.Ext(args[0])
					for _, n := range a.Registry.AvailableNames() {
						if e, ok := a.Registry.Get(n); ok && engine.Supports(e, ext) {
							names = append(names, n)
						}
					}
				}
				resolved, err := a.ResolveEngines(names)
				if err != nil {
					return err
				}

				results := compare(ctx, a, args[0], resolved)
				if asJSON {
					return encodeJSON(cmd, map[string]any{"document": args[0], "results": results})
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ENGINE\tPAGES\tCHARS\tTIME\tRESULT")
				for _, r := range results {
					result := r.Preview
					if r.Error != "" {
						result = "error: " + r.Error
					}
					fmt.Fprintf(tw, "%s\t%d\t%d\t%dms\t%s\n", r.Engine, r.Pages, r.Chars, r.ProcessingTimeMS, result)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringSlice("engines", nil, "engines to compare (default: all available for the file type)")
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

// compare extracts path with every engine concurrently. Failures are kept
// per engine.
func compare(ctx context.Context, a *app.App, path string, names []string) []comparison {
	results := make([]comparison, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Config.Eval.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			start := time.Now()
			out, err := a.Convert(gctx, path, name)
			res := comparison{Engine: name, ProcessingTimeMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Pages = out.Pages
				res.Chars = len([]rune(out.Content))
				res.ProcessingTimeMS = out.ProcessingTimeMS
				res.Preview = preview(out.Content, 60)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func encodeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
