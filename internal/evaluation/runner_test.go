package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/groundtruth"
	apperrors "github.com/docfold/docbench/internal/pkg/errors"
)

// stubExtractor returns canned outcomes keyed by "path|backend".
type stubExtractor struct {
	outcomes map[string]*engine.Outcome
	failures map[string]error
	delay    func(path, backend string) time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (s *stubExtractor) Extract(ctx context.Context, path, backend string) (*engine.Outcome, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if s.delay != nil {
		select {
		case <-time.After(s.delay(path, backend)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key := path + "|" + backend
	if err, ok := s.failures[key]; ok {
		return nil, err
	}
	if out, ok := s.outcomes[key]; ok {
		return out, nil
	}
	return &engine.Outcome{Content: "", EngineName: backend}, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Progress
}

func (o *recordingObserver) Observe(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, p)
}

func (o *recordingObserver) count(status Status) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.Status == status {
			n++
		}
	}
	return n
}

func testRecords() []groundtruth.Record {
	return []groundtruth.Record{
		{
			DocumentID:   "doc-1",
			Category:     "invoices",
			DocumentPath: "doc-1.pdf",
			FullText:     "Invoice 123. Total: $50.",
			Tables:       [][][]string{{{"Item", "Qty"}, {"Widget", "10"}}},
		},
		{
			DocumentID:   "doc-2",
			Category:     "papers",
			DocumentPath: "doc-2.pdf",
			FullText:     "Intro text",
			Headings:     []string{"Intro"},
			ReadingOrder: []string{"Intro", "Body", "End"},
		},
		{
			DocumentID:   "doc-3",
			Category:     "papers",
			DocumentPath: "doc-3.pdf",
			FullText:     "plain",
		},
	}
}

func TestRun_CrossProductWithFailure(t *testing.T) {
	ex := &stubExtractor{
		outcomes: map[string]*engine.Outcome{
			"doc-1.pdf|alpha": {
				Content: "Invoice 124. Total: $50.",
				Tables:  [][][]string{{{"item", "qty"}, {"Widget", "10"}}},
			},
			"doc-2.pdf|alpha": {
				Content:      "# Intro\ntext",
				ReadingOrder: []string{"End", "Body", "Intro"},
			},
		},
		failures: map[string]error{
			"doc-2.pdf|beta": apperrors.ExtractionError("beta", errors.New("service unavailable")),
		},
	}
	obs := &recordingObserver{}
	r := NewRunner(ex, RunnerConfig{Concurrency: 3}, WithObserver(obs))

	scores, err := r.Run(context.Background(), testRecords(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(scores) != 6 {
		t.Fatalf("len(scores) = %d, want 6", len(scores))
	}

	wantOrder := []string{"doc-1/alpha", "doc-1/beta", "doc-2/alpha", "doc-2/beta", "doc-3/alpha", "doc-3/beta"}
	for i, s := range scores {
		if got := s.DocumentID + "/" + s.BackendName; got != wantOrder[i] {
			t.Errorf("scores[%d] = %s, want %s", i, got, wantOrder[i])
		}
	}

	failed := 0
	for _, s := range scores {
		if s.Failed() {
			failed++
			if s.CER != nil || s.WER != nil || s.TableF1 != nil {
				t.Errorf("failed score %s/%s carries metrics", s.DocumentID, s.BackendName)
			}
			if s.Error.Kind != ErrorKindExtraction {
				t.Errorf("Error.Kind = %s, want %s", s.Error.Kind, ErrorKindExtraction)
			}
			continue
		}
		if s.CER == nil || s.WER == nil {
			t.Errorf("score %s/%s missing CER/WER", s.DocumentID, s.BackendName)
		}
	}
	if failed != 1 || !scores[3].Failed() {
		t.Errorf("failed = %d, want exactly scores[3] to fail", failed)
	}

	d1 := scores[0]
	if !approx(*d1.CER, 1.0/24) {
		t.Errorf("doc-1 CER = %v, want %v", *d1.CER, 1.0/24)
	}
	if d1.TableF1 == nil || *d1.TableF1 != 1 {
		t.Errorf("doc-1 TableF1 = %v, want 1", d1.TableF1)
	}
	if d1.HeadingF1 != nil || d1.ReadingOrderScore != nil {
		t.Error("doc-1 has no heading/reading order ground truth; metrics must be absent")
	}

	d2 := scores[2]
	if d2.HeadingF1 == nil || *d2.HeadingF1 != 1 {
		t.Errorf("doc-2 HeadingF1 = %v, want 1 (markdown fallback)", d2.HeadingF1)
	}
	if d2.ReadingOrderScore == nil || !approx(*d2.ReadingOrderScore, -1) {
		t.Errorf("doc-2 ReadingOrderScore = %v, want -1", d2.ReadingOrderScore)
	}
	if d2.TableF1 != nil {
		t.Error("doc-2 has no table ground truth; TableF1 must be absent")
	}

	if got := obs.count(StatusStarted); got != 6 {
		t.Errorf("started events = %d, want 6", got)
	}
	if got := obs.count(StatusCompleted); got != 5 {
		t.Errorf("completed events = %d, want 5", got)
	}
	if got := obs.count(StatusFailed); got != 1 {
		t.Errorf("failed events = %d, want 1", got)
	}
}

func TestRun_MissingFieldsTrackGroundTruthOnly(t *testing.T) {
	records := []groundtruth.Record{
		{
			DocumentID:   "full",
			DocumentPath: "full.pdf",
			FullText:     "A B",
			Tables:       [][][]string{{{"x"}}},
			Headings:     []string{"A"},
			ReadingOrder: []string{"A", "B"},
		},
		{DocumentID: "bare", DocumentPath: "bare.pdf", FullText: "A B"},
	}
	ex := &stubExtractor{
		outcomes: map[string]*engine.Outcome{
			"full.pdf|alpha": {
				Content:      "# A\nB",
				Tables:       [][][]string{{{"x"}}},
				ReadingOrder: []string{"A", "Z"},
			},
		},
	}

	scores, err := NewRunner(ex, RunnerConfig{}).Run(context.Background(), records, []string{"alpha"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	full := scores[0]
	if full.ReadingOrderScore != nil {
		t.Errorf("ReadingOrderScore = %v, want nil with one shared element", *full.ReadingOrderScore)
	}
	if full.MissingFields != 0 || full.MissingOptional() {
		t.Errorf("MissingFields = %d, want 0: every structural field is in the ground truth", full.MissingFields)
	}
	if bare := scores[1]; bare.MissingFields != 3 || !bare.MissingOptional() {
		t.Errorf("bare MissingFields = %d, want 3", bare.MissingFields)
	}
}

func TestRun_OrderIndependentOfCompletion(t *testing.T) {
	var records []groundtruth.Record
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("doc-%d", i)
		records = append(records, groundtruth.Record{DocumentID: id, DocumentPath: id, FullText: "x"})
	}
	backends := []string{"a", "b", "c"}

	// Earlier pairs finish last.
	ex := &stubExtractor{delay: func(path, backend string) time.Duration {
		var i int
		fmt.Sscanf(path, "doc-%d", &i)
		return time.Duration(8-i) * 2 * time.Millisecond
	}}

	scores, err := NewRunner(ex, RunnerConfig{Concurrency: 5}).Run(context.Background(), records, backends)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, s := range scores {
		wantDoc := records[i/len(backends)].DocumentID
		wantBackend := backends[i%len(backends)]
		if s.DocumentID != wantDoc || s.BackendName != wantBackend {
			t.Errorf("scores[%d] = %s/%s, want %s/%s", i, s.DocumentID, s.BackendName, wantDoc, wantBackend)
		}
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var records []groundtruth.Record
	for i := 0; i < 10; i++ {
		records = append(records, groundtruth.Record{DocumentID: fmt.Sprint(i), FullText: "x"})
	}
	ex := &stubExtractor{delay: func(string, string) time.Duration { return 5 * time.Millisecond }}

	if _, err := NewRunner(ex, RunnerConfig{Concurrency: 2}).Run(context.Background(), records, []string{"a", "b"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := ex.maxInFlight.Load(); got > 2 {
		t.Errorf("max in-flight = %d, want <= 2", got)
	}
	if got := ex.calls.Load(); got != 20 {
		t.Errorf("calls = %d, want 20", got)
	}
}

func TestRun_Cancellation(t *testing.T) {
	var records []groundtruth.Record
	for i := 0; i < 6; i++ {
		records = append(records, groundtruth.Record{DocumentID: fmt.Sprint(i), DocumentPath: fmt.Sprint(i), FullText: "x"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := &stubExtractor{delay: func(path, _ string) time.Duration {
		if path == "0" {
			return 0
		}
		return time.Hour
	}}
	obs := ObserverFunc(func(p Progress) {
		if p.DocumentID == "0" && p.Status == StatusCompleted {
			cancel()
		}
	})

	scores, err := NewRunner(ex, RunnerConfig{Concurrency: 1}, WithObserver(obs)).Run(ctx, records, []string{"only"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(scores) != 1 || scores[0].DocumentID != "0" {
		t.Errorf("scores = %+v, want only the completed doc 0", scores)
	}
}

func TestRun_NothingToEvaluate(t *testing.T) {
	r := NewRunner(&stubExtractor{}, RunnerConfig{})

	if _, err := r.Run(context.Background(), nil, []string{"a"}); !errors.Is(err, ErrNothingToEvaluate) {
		t.Errorf("Run(no records) error = %v, want ErrNothingToEvaluate", err)
	}
	if _, err := r.Run(context.Background(), testRecords(), nil); !errors.Is(err, ErrNothingToEvaluate) {
		t.Errorf("Run(no backends) error = %v, want ErrNothingToEvaluate", err)
	}
}

func TestRun_TimeoutKind(t *testing.T) {
	ex := &stubExtractor{failures: map[string]error{
		"doc-3.pdf|slow": apperrors.ExtractionError("slow", apperrors.TimeoutError("extraction")),
	}}
	records := testRecords()[2:]

	scores, err := NewRunner(ex, RunnerConfig{}).Run(context.Background(), records, []string{"slow"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if scores[0].Error == nil || scores[0].Error.Kind != ErrorKindTimeout {
		t.Errorf("Error = %+v, want kind %s", scores[0].Error, ErrorKindTimeout)
	}
}

func TestRun_PanickingObserverIsIsolated(t *testing.T) {
	obs := ObserverFunc(func(Progress) { panic("observer bug") })

	scores, err := NewRunner(&stubExtractor{}, RunnerConfig{}, WithObserver(obs)).
		Run(context.Background(), testRecords(), []string{"a"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(scores) != 3 {
		t.Errorf("len(scores) = %d, want 3", len(scores))
	}
}

func TestMetric_RecoversPanic(t *testing.T) {
	r := NewRunner(&stubExtractor{}, RunnerConfig{})
	rec := &testRecords()[0]

	got := r.metric("table_f1", rec, func() (float64, bool) {
		var cells [][]string
		return float64(len(cells[3])), true
	})
	if got != nil {
		t.Errorf("metric() = %v, want nil after panic", *got)
	}
}
