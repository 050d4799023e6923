package evaluation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/groundtruth"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// DefaultConcurrency bounds in-flight extraction calls when none is configured.
const DefaultConcurrency = 4

// Extractor produces an extraction outcome for a document using a named backend.
type Extractor interface {
	Extract(ctx context.Context, documentPath, backend string) (*engine.Outcome, error)
}

// RunnerConfig holds run-level settings.
type RunnerConfig struct {
	Concurrency int
	ErrorRate   ErrorRateOptions
}

// Runner evaluates every record against every backend.
type Runner struct {
	extractor Extractor
	cfg       RunnerConfig
	observer  Observer
	log       *logger.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver attaches a progress observer.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the runner logger.
func WithLogger(log *logger.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a runner.
func NewRunner(extractor Extractor, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	r := &Runner{
		extractor: extractor,
		cfg:       cfg,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates records × backends with at most Concurrency extraction calls
// in flight. Scores come back in record order, then backend order, whatever
// the completion order. An extraction failure yields a score carrying only
// the error. If ctx is cancelled, in-flight pairs are discarded and the
// completed scores are returned with ctx.Err().
func (r *Runner) Run(ctx context.Context, records []groundtruth.Record, backends []string) ([]DocumentScore, error) {
	if len(records) == 0 || len(backends) == 0 {
		return nil, ErrNothingToEvaluate
	}

	total := len(records) * len(backends)
	results := make([]DocumentScore, total)
	done := make([]bool, total)

	r.log.Info("evaluation started",
		"records", len(records),
		"backends", len(backends),
		"concurrency", r.cfg.Concurrency,
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i := 0; i < total; i++ {
		if gctx.Err() != nil {
			break
		}
		rec := &records[i/len(backends)]
		backend := backends[i%len(backends)]
		idx := i

		g.Go(func() error {
			score, ok := r.evaluatePair(gctx, rec, backend, idx+1, total)
			if ok {
				results[idx] = score
				done[idx] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	scores := make([]DocumentScore, 0, total)
	for i, ok := range done {
		if ok {
			scores = append(scores, results[i])
		}
	}

	if err := ctx.Err(); err != nil {
		r.log.Warn("evaluation cancelled",
			"completed", len(scores),
			"total", total,
		)
		return scores, err
	}

	r.log.Info("evaluation finished",
		"scores", len(scores),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return scores, nil
}

// evaluatePair runs one extraction and scores it. ok is false when the pair
// was cancelled and its result must be discarded.
func (r *Runner) evaluatePair(ctx context.Context, rec *groundtruth.Record, backend string, current, total int) (DocumentScore, bool) {
	p := Progress{
		DocumentID:  rec.DocumentID,
		BackendName: backend,
		Current:     current,
		Total:       total,
	}

	if ctx.Err() != nil {
		p.Status = StatusCancelled
		r.emit(p)
		return DocumentScore{}, false
	}

	p.Status = StatusStarted
	r.emit(p)

	start := time.Now()
	out, err := r.extractor.Extract(ctx, rec.DocumentPath, backend)
	p.Duration = time.Since(start)

	if ctx.Err() != nil {
		p.Status = StatusCancelled
		r.emit(p)
		return DocumentScore{}, false
	}

	score := DocumentScore{
		DocumentID:  rec.DocumentID,
		Category:    rec.Category,
		BackendName: backend,
	}

	if err == nil && out == nil {
		err = fmt.Errorf("backend returned no outcome")
	}
	if err != nil {
		kind := ErrorKindExtraction
		if errors.IsTimeout(err) {
			kind = ErrorKindTimeout
		}
		score.Error = &ScoreError{Kind: kind, Message: err.Error()}
		score.ProcessingTimeMS = p.Duration.Milliseconds()

		r.log.WithDocument(rec.DocumentID).WithEngine(backend).WithError(err).Warn("extraction failed")
		p.Status = StatusFailed
		p.Error = err.Error()
		r.emit(p)
		return score, true
	}

	r.scoreOutcome(&score, rec, out)
	score.ProcessingTimeMS = out.ProcessingTimeMS

	p.Status = StatusCompleted
	r.emit(p)
	return score, true
}

// scoreOutcome fills in every metric the ground truth supports.
func (r *Runner) scoreOutcome(score *DocumentScore, rec *groundtruth.Record, out *engine.Outcome) {
	opts := r.cfg.ErrorRate

	score.CER = r.metric("cer", rec, func() (float64, bool) {
		return CER(out.Content, rec.FullText, opts), true
	})
	score.WER = r.metric("wer", rec, func() (float64, bool) {
		return WER(out.Content, rec.FullText, opts), true
	})

	if rec.HasTables() {
		score.TableF1 = r.metric("table_f1", rec, func() (float64, bool) {
			return TableF1(out.Tables, rec.Tables), true
		})
	} else {
		score.MissingFields++
	}
	if rec.HasHeadings() {
		score.HeadingF1 = r.metric("heading_f1", rec, func() (float64, bool) {
			return HeadingF1(hypothesisHeadings(out), rec.Headings), true
		})
	} else {
		score.MissingFields++
	}
	if rec.HasReadingOrder() {
		score.ReadingOrderScore = r.metric("reading_order_score", rec, func() (float64, bool) {
			return ReadingOrderScore(hypothesisReadingOrder(out), rec.ReadingOrder)
		})
	} else {
		score.MissingFields++
	}
}

// metric runs compute and returns nil when the value is undefined or the
// computation panics.
func (r *Runner) metric(name string, rec *groundtruth.Record, compute func() (float64, bool)) (v *float64) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithDocument(rec.DocumentID).WithError(errors.MetricError(name, p)).Error("metric computation failed")
			v = nil
		}
	}()

	value, ok := compute()
	if !ok {
		return nil
	}
	return &value
}

func (r *Runner) emit(p Progress) {
	if r.observer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("progress observer panicked", "panic", fmt.Sprint(rec))
		}
	}()
	r.observer.Observe(p)
}
