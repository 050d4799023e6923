// Package main provides the docbench CLI: evaluate extraction engines
// against a ground-truth dataset, inspect engines and serve results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/client"
	"github.com/docfold/docbench/internal/config"
	"github.com/docfold/docbench/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docbench",
		Short: "docbench - document extraction benchmark",
		Long: `docbench scores document extraction engines against a ground-truth dataset.

Each annotated document is extracted with every selected engine and scored
for character and word error rate, table and heading F1 and reading order.

Run 'docbench evaluate <dataset>' to produce a report.
Run 'docbench --help' for available commands.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("server", "", "docbench server URL; evaluate, runs and engines use it instead of running locally")

	rootCmd.AddCommand(
		evaluateCmd(),
		enginesCmd(),
		convertCmd(),
		compareCmd(),
		diffCmd(),
		runsCmd(),
		eventsCmd(),
		serveCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

// withApp loads configuration, builds the services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close services", "error", err)
		}
	}()
	return fn(ctx, a)
}

// remoteClient returns a client for --server, or nil when running locally.
func remoteClient(cmd *cobra.Command) *client.Client {
	url, _ := cmd.Flags().GetString("server")
	if url == "" {
		return nil
	}
	return client.New(client.Config{BaseURL: url})
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docbench %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
