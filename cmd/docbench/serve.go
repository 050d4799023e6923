package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/engine/grpcengine"
	"github.com/docfold/docbench/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluations and run history over HTTP",
		Long: `Start the HTTP API:
  POST /v1/evaluation/run        run an evaluation and return its report
  GET  /v1/evaluation/runs       list past runs
  GET  /v1/evaluation/runs/{id}  fetch a past report
  GET  /v1/engines               list engines
  GET  /healthz                  liveness
  GET  /metrics                  Prometheus metrics (when enabled)

With server.grpc_port set, the local engines are also exposed as a gRPC
extraction service that other docbench instances can use as a remote engine.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "HTTP host (overrides config)")
	cmd.Flags().IntP("port", "p", 0, "HTTP port (overrides config)")
	cmd.Flags().Int("grpc-port", 0, "gRPC extraction service port (overrides config, 0 = config)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
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

	deps := server.Deps{
		Evaluator: a,
		Store:     a.Store,
		Engines:   a.Registry,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = a.Metrics.Handler()
	}
	srv := server.New(server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Version:     version,
		DatasetRoot: cfg.Server.DatasetRoot,
		MetricsPath: cfg.Observability.MetricsPath,
		Precision:   cfg.Eval.FloatPrecision,
		RateLimit:   cfg.Server.RateLimit,
	}, deps, log)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpcengine.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpcengine.NewServer(grpcengine.ServerConfig{
			Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort),
		}, log, a.Registry)
		go func() {
			if err := grpcSrv.Start(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	log.Info("docbench server ready",
		"version", version,
		"http", srv.Addr(),
		"grpc_port", cfg.Server.GRPCPort,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
		log.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	if err := srv.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
