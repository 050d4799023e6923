// Package report aggregates document scores into per-backend summaries and
// serializes them deterministically.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/docfold/docbench/internal/evaluation"
)

// EngineSummary aggregates one backend's scores.
type EngineSummary struct {
	BackendName          string
	AvgCER               *float64
	AvgWER               *float64
	AvgTableF1           *float64
	AvgHeadingF1         *float64
	AvgReadingOrderScore *float64
	AvgProcessingTimeMS  *float64

	// ScoredCount counts scores without an extraction error.
	ScoredCount int
	// SkippedMissingFieldCount counts scored documents whose ground truth
	// lacked at least one structural field.
	SkippedMissingFieldCount int
	// SkippedErrorCount counts extraction failures.
	SkippedErrorCount int
}

// Metadata describes the run a report belongs to.
type Metadata struct {
	RunID       string
	DatasetPath string
	Categories  []string // nil when no filter was applied
	Timestamp   time.Time
}

// Report is the result of one evaluation run.
type Report struct {
	RunID            string
	DatasetPath      string
	Categories       []string
	Timestamp        time.Time
	Scores           []evaluation.DocumentScore
	BackendSummaries []EngineSummary // first-appearance order of backends in Scores
}

// Summary returns the summary for backend.
func (r *Report) Summary(backend string) (EngineSummary, bool) {
	for _, s := range r.BackendSummaries {
		if s.BackendName == backend {
			return s, true
		}
	}
	return EngineSummary{}, false
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

type accumulator struct {
	summary                         EngineSummary
	cer, wer, table, heading, order mean
	timeMS                          mean
}

// Build groups scores by backend and averages every metric over the
// documents where it is present. Scores are kept in the order given.
func Build(scores []evaluation.DocumentScore, meta Metadata) *Report {
	if meta.RunID == "" {
		meta.RunID = NewRunID()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}

	var order []string
	acc := make(map[string]*accumulator)

	for i := range scores {
		s := &scores[i]
		a, ok := acc[s.BackendName]
		if !ok {
			a = &accumulator{summary: EngineSummary{BackendName: s.BackendName}}
			acc[s.BackendName] = a
			order = append(order, s.BackendName)
		}

		if s.Failed() {
			a.summary.SkippedErrorCount++
			continue
		}

		a.summary.ScoredCount++
		if s.MissingOptional() {
			a.summary.SkippedMissingFieldCount++
		}
		a.cer.add(s.CER)
		a.wer.add(s.WER)
		a.table.add(s.TableF1)
		a.heading.add(s.HeadingF1)
		a.order.add(s.ReadingOrderScore)
		ms := float64(s.ProcessingTimeMS)
		a.timeMS.add(&ms)
	}

	summaries := make([]EngineSummary, 0, len(order))
	for _, name := range order {
		a := acc[name]
		sum := a.summary
		sum.AvgCER = a.cer.value()
		sum.AvgWER = a.wer.value()
		sum.AvgTableF1 = a.table.value()
		sum.AvgHeadingF1 = a.heading.value()
		sum.AvgReadingOrderScore = a.order.value()
		sum.AvgProcessingTimeMS = a.timeMS.value()
		summaries = append(summaries, sum)
	}

	out := make([]evaluation.DocumentScore, len(scores))
	copy(out, scores)

	var categories []string
	if meta.Categories != nil {
		categories = append([]string{}, meta.Categories...)
	}

	return &Report{
		RunID:            meta.RunID,
		DatasetPath:      meta.DatasetPath,
		Categories:       categories,
		Timestamp:        meta.Timestamp.UTC().Truncate(time.Second),
		Scores:           out,
		BackendSummaries: summaries,
	}
}
