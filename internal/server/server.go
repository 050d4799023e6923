// Package server exposes evaluation runs and their history over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/pkg/logger"
	"github.com/docfold/docbench/internal/pkg/middleware"
	"github.com/docfold/docbench/internal/report"
	"github.com/docfold/docbench/internal/store"
)

// Evaluator runs one evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req app.Request) (*report.Report, error)
}

// EngineLister describes the registered extraction engines.
type EngineLister interface {
	List() []engine.Info
}

// Server is the HTTP front end of docbench.
type Server struct {
	cfg        Config
	deps       Deps
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler
	limiter    *middleware.RateLimiter

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is reported by /healthz.
	Version string

	// DatasetRoot, when set, confines request dataset paths to relative
	// paths below it.
	DatasetRoot string

	// MetricsPath serves Prometheus metrics when Deps.Metrics is set.
	MetricsPath string

	// Precision is the number of decimals in report JSON.
	Precision int

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit int

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout bounds a whole response, evaluation included.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		MetricsPath:     "/metrics",
		Precision:       report.DefaultPrecision,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Deps are the services behind the routes.
type Deps struct {
	Evaluator Evaluator
	Store     store.Store
	Engines   EngineLister
	Metrics   http.Handler // nil disables the metrics route
}

// New creates a server. Zero config fields fall back to DefaultConfig.
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = def.MetricsPath
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{cfg: cfg, deps: deps, log: log}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Start listens and serves until Stop is called. It returns
// http.ErrServerClosed after a graceful stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("starting http server", "addr", srv.Addr)
	return srv.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if !s.started {
		return nil
	}

	s.log.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.log.Error("http shutdown error", "error", err)
	}
	s.started = false
	return err
}

// Health reports whether the server is serving.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// setupRoutes registers the routes and wraps them in rate limiting and
// request logging.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	h := &evaluationHandler{
		evaluator:   s.deps.Evaluator,
		store:       s.deps.Store,
		engines:     s.deps.Engines,
		datasetRoot: s.cfg.DatasetRoot,
		precision:   s.cfg.Precision,
		log:         s.log,
	}
	mux.HandleFunc("POST /v1/evaluation/run", h.handleRun)
	mux.HandleFunc("GET /v1/evaluation/runs", h.handleListRuns)
	mux.HandleFunc("GET /v1/evaluation/runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /v1/engines", h.handleEngines)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.deps.Metrics)
	}

	var handler http.Handler = mux
	if s.cfg.RateLimit > 0 {
		rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(s.cfg.RateLimit),
			Burst:             s.cfg.RateLimit * 2,
			CleanupInterval:   time.Minute,
		})
		s.limiter = rl
		handler = rl.Middleware(handler)
		s.log.Info("rate limiting enabled", "requests_per_second", s.cfg.RateLimit)
	}
	return requestLogging(handler, s.log)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}
