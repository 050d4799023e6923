package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/bus"
	"github.com/docfold/docbench/internal/report"
	"github.com/docfold/docbench/internal/store"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past evaluation runs",
		Long: `List runs recorded in the run history. History needs a persistent store:
set store.driver to sqlite or postgres in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			printRuns := func(runs []store.RunSummary) error {
				if asJSON {
					return encodeJSON(cmd, map[string]any{"runs": runs})
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tTIMESTAMP\tSCORES\tENGINES\tDATASET")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						r.RunID, r.Timestamp.Format(time.RFC3339), r.ScoreCount,
						strings.Join(r.Backends, ","), r.DatasetPath)
				}
				return tw.Flush()
			}

			if c := remoteClient(cmd); c != nil {
				runs, err := c.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printRuns(runs)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				runs, err := a.Store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				return printRuns(runs)
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to list (0 = all)")
	cmd.Flags().Bool("json", false, "print as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run_id>",
		Short: "Print the report of a past run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(cmd); c != nil {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				rep, err := c.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return report.Encode(cmd.OutOrStdout(), rep, report.EncodeOptions{
					Precision: cfg.Eval.FloatPrecision,
					Indent:    true,
				})
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Store.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return report.Encode(cmd.OutOrStdout(), rep, report.EncodeOptions{
					Precision: a.Config.Eval.FloatPrecision,
					Indent:    true,
				})
			})
		},
	})
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [run_id]",
		Short: "Show or replay progress events from the event log",
		Long: `Read the JSON-lines event log configured as bus.event_log. With --replay
the events are republished on the configured bus, e.g. to feed a Kafka
topic after the fact.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			replay, _ := cmd.Flags().GetBool("replay")

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Bus.EventLog == "" {
				return fmt.Errorf("no event log configured (bus.event_log)")
			}
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}

			if replay {
				// Publish on the bare bus so replayed events are not logged twice.
				busCfg := cfg.Bus
				busCfg.EventLog = ""
				b, err := bus.NewBus(busCfg, log)
				if err != nil {
					return err
				}
				defer b.Close()

				n, err := bus.Replay(cmd.Context(), cfg.Bus.EventLog, runID, b)
				fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d events\n", n)
				return err
			}

			events, err := bus.ReadEvents(cfg.Bus.EventLog, runID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRUN\tTOPIC\tTYPE")
			for _, le := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					le.Timestamp.Format(time.RFC3339), le.Event.RunID, le.Topic, le.Event.Type)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "maximum events to show (0 = all)")
	cmd.Flags().Bool("replay", false, "republish the events on the configured bus")
	return cmd
}
