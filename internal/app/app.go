// Package app assembles the evaluation services from configuration and runs
// evaluations on behalf of the CLI and the HTTP server.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/docfold/docbench/internal/bus"
	"github.com/docfold/docbench/internal/config"
	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/engine/cache"
	"github.com/docfold/docbench/internal/engine/grpcengine"
	"github.com/docfold/docbench/internal/engine/ocr"
	"github.com/docfold/docbench/internal/engine/plaintext"
	"github.com/docfold/docbench/internal/engine/remote"
	"github.com/docfold/docbench/internal/evaluation"
	"github.com/docfold/docbench/internal/groundtruth"
	"github.com/docfold/docbench/internal/metrics"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
	"github.com/docfold/docbench/internal/report"
	"github.com/docfold/docbench/internal/store"
	"github.com/docfold/docbench/internal/textdiff"
)

// App holds the long-lived services of one process.
type App struct {
	Config   *config.Config
	Registry *engine.Registry
	Store    store.Store
	Bus      bus.Bus
	Metrics  *metrics.Recorder

	log     *logger.Logger
	now     func() time.Time
	closers []func() error
}

// New wires engines, cache, bus, history store and metrics from cfg.
// Everything opened so far is closed again when a later step fails.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Discard()
	}
	a := &App{
		Config:  cfg,
		Metrics: metrics.NewRecorder(),
		log:     log,
		now:     time.Now,
	}

	if err := a.initEngines(); err != nil {
		_ = a.Close()
		return nil, err
	}

	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("event bus: %w", err)
	}
	a.Bus = bus.NewInstrumentedBus(b, a.Metrics)
	a.closers = append(a.closers, b.Close)

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("run history: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	log.Info("services initialized",
		"engines", strings.Join(a.Registry.AvailableNames(), ","),
		"cache", cfg.Cache.Type,
		"bus", cfg.Bus.Type,
		"store", storeName(cfg.Store.Driver),
	)
	return a, nil
}

func storeName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

// initEngines registers the local and remote backends, each wrapped in the
// configured timeout, rate limit and cache decorators.
func (a *App) initEngines() error {
	cfg := a.Config
	a.Registry = engine.NewRegistry(
		engine.WithDefault(cfg.Engines.Default),
		engine.WithAllowed(cfg.EnabledEngines()),
		engine.WithLogger(a.log),
	)

	var cacheStore cache.Store
	switch cfg.Cache.Type {
	case "memory":
		cacheStore = cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)
	case "redis":
		r, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("extraction cache: %w", err)
		}
		cacheStore = r
	}
	if cacheStore != nil {
		a.closers = append(a.closers, cacheStore.Close)
	}

	decorate := func(e engine.Engine) engine.Engine {
		e = engine.WithTimeout(e, cfg.Eval.ExtractTimeout)
		e = engine.RateLimited(e, cfg.Engines.RateLimit, cfg.Engines.RateBurst)
		return cache.Cached(e, cacheStore,
			cache.WithLogger(a.log),
			cache.WithHitRecorder(a.Metrics.RecordCacheLookup),
		)
	}

	ocrCfg := ocr.Config{
		Pdftotext:     cfg.Engines.Pdftotext,
		Pdftoppm:      cfg.Engines.Pdftoppm,
		Tesseract:     cfg.Engines.Tesseract,
		TesseractLang: cfg.Engines.TesseractLang,
		DPI:           cfg.Engines.DPI,
	}
	a.Registry.Register(decorate(ocr.NewPDFText(ocrCfg, a.log)))
	a.Registry.Register(decorate(ocr.NewTesseract(ocrCfg, a.log)))
	a.Registry.Register(decorate(plaintext.New()))

	for _, rc := range cfg.Engines.Remote {
		switch rc.Protocol {
		case "grpc":
			e, err := grpcengine.Dial(grpcengine.Config{
				Name:       rc.Name,
				Address:    rc.Endpoint,
				Timeout:    rc.Timeout,
				Extensions: rc.Extensions,
			})
			if err != nil {
				return fmt.Errorf("engine %s: %w", rc.Name, err)
			}
			a.closers = append(a.closers, e.Close)
			a.Registry.Register(decorate(e))
		default:
			a.Registry.Register(decorate(remote.New(remote.Config{
				Name:       rc.Name,
				Endpoint:   rc.Endpoint,
				APIKey:     rc.APIKey,
				Timeout:    rc.Timeout,
				Extensions: rc.Extensions,
			})))
		}
	}
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *logger.Logger { return a.log }

// Close releases every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// Request describes one evaluation run.
type Request struct {
	DatasetPath string   `json:"dataset_path"`
	Engines     []string `json:"engines,omitempty"`    // empty = every available engine
	Categories  []string `json:"categories,omitempty"` // empty = no filter
	Concurrency int      `json:"concurrency,omitempty"`

	// Observer receives progress in addition to the bus and metrics.
	Observer evaluation.Observer `json:"-"`
}

// Evaluate loads the dataset, runs every selected record against every
// resolved engine, builds the report and records it in the run history.
//
// When ctx is cancelled mid-run the partial report is returned together
// with the context error and nothing is persisted.
func (a *App) Evaluate(ctx context.Context, req Request) (*report.Report, error) {
	ds, err := groundtruth.Load(ctx, req.DatasetPath, a.log)
	if err != nil {
		return nil, err
	}

	records := ds.Filter(req.Categories)
	if len(records) == 0 {
		return nil, errors.ValidationError("no ground-truth records to evaluate").
			WithDetail("path", req.DatasetPath).
			WithDetail("categories", strings.Join(req.Categories, ","))
	}

	backends, err := a.ResolveEngines(req.Engines)
	if err != nil {
		return nil, err
	}

	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = a.Config.Eval.Concurrency
	}

	runID := report.NewRunID()
	log := a.log.WithRun(runID)
	pub := bus.NewPublisher(a.Bus, a.Config.Bus.Topic, runID, log)

	runner := evaluation.NewRunner(a.Registry, evaluation.RunnerConfig{
		Concurrency: concurrency,
		ErrorRate: evaluation.ErrorRateOptions{
			Clamp:    a.Config.Eval.ClampErrorRates,
			FoldCase: a.Config.Eval.WERFoldCase,
		},
	},
		evaluation.WithObserver(evaluation.Observers{pub, a.Metrics, progressLogger(log), req.Observer}),
		evaluation.WithLogger(log),
	)

	scores, runErr := runner.Run(ctx, records, backends)
	rep := report.Build(scores, report.Metadata{
		RunID:       runID,
		DatasetPath: req.DatasetPath,
		Categories:  req.Categories,
		Timestamp:   a.now(),
	})
	a.Metrics.RunFinished(rep, runErr)
	if runErr != nil {
		return rep, runErr
	}

	if err := a.Store.SaveReport(ctx, rep); err != nil {
		log.Error("failed to save run", "error", err)
	}
	pub.RunCompleted(runCompleted{
		RunID:       runID,
		DatasetPath: req.DatasetPath,
		Scores:      len(rep.Scores),
		Backends:    backends,
	})
	return rep, nil
}

type runCompleted struct {
	RunID       string   `json:"run_id"`
	DatasetPath string   `json:"dataset_path"`
	Scores      int      `json:"scores"`
	Backends    []string `json:"backends"`
}

// ResolveEngines validates an explicit engine list, or falls back to every
// available engine when names is empty.
func (a *App) ResolveEngines(names []string) ([]string, error) {
	if len(names) == 0 {
		avail := a.Registry.AvailableNames()
		if len(avail) == 0 {
			return nil, errors.UnavailableError("extraction engines")
		}
		return avail, nil
	}

	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		e, ok := a.Registry.Get(name)
		if !ok {
			return nil, errors.NotFoundError(fmt.Sprintf("engine %q", name))
		}
		if !e.Available() {
			return nil, errors.UnavailableError("engine " + name)
		}
		out = append(out, name)
	}
	return out, nil
}

// Convert extracts a single document with the named engine, or the engine
// the registry selects when name is empty.
func (a *App) Convert(ctx context.Context, path, name string) (*engine.Outcome, error) {
	return a.Registry.Extract(ctx, path, name)
}

// DocumentDiff compares one document's extraction with its annotation.
type DocumentDiff struct {
	DocumentID string          `json:"document_id"`
	Engine     string          `json:"engine"`
	CER        float64         `json:"cer"`
	WER        float64         `json:"wer"`
	Diff       textdiff.Result `json:"diff"`
}

// Diff extracts the annotated document documentID with the named engine and
// diffs the extracted text against the reference full text.
func (a *App) Diff(ctx context.Context, datasetPath, documentID, name string, opts textdiff.Options) (*DocumentDiff, error) {
	ds, err := groundtruth.Load(ctx, datasetPath, a.log)
	if err != nil {
		return nil, err
	}
	rec, ok := ds.Get(documentID)
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("document %q", documentID))
	}

	out, err := a.Registry.Extract(ctx, rec.DocumentPath, name)
	if err != nil {
		return nil, err
	}

	rateOpts := evaluation.ErrorRateOptions{
		Clamp:    a.Config.Eval.ClampErrorRates,
		FoldCase: a.Config.Eval.WERFoldCase,
	}
	if opts.RefLabel == "" {
		opts.RefLabel = documentID + " (ground truth)"
	}
	if opts.HypLabel == "" {
		opts.HypLabel = documentID + " (" + out.EngineName + ")"
	}
	return &DocumentDiff{
		DocumentID: documentID,
		Engine:     out.EngineName,
		CER:        evaluation.CER(out.Content, rec.FullText, rateOpts),
		WER:        evaluation.WER(out.Content, rec.FullText, rateOpts),
		Diff:       textdiff.Lines(rec.FullText, out.Content, opts),
	}, nil
}

func progressLogger(log *logger.Logger) evaluation.Observer {
	return evaluation.ObserverFunc(func(p evaluation.Progress) {
		l := log.WithDocument(p.DocumentID).WithEngine(p.BackendName)
		switch p.Status {
		case evaluation.StatusFailed:
			l.Warn("pair failed", "error", p.Error, "progress", fmt.Sprintf("%d/%d", p.Current, p.Total))
		case evaluation.StatusStarted:
			l.Debug("pair started", "progress", fmt.Sprintf("%d/%d", p.Current, p.Total))
		default:
			l.Debug("pair "+string(p.Status), "duration_ms", p.Duration.Milliseconds())
		}
	})
}
