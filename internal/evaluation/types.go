// Package evaluation scores extraction output against ground truth and runs
// the document × backend cross product.
package evaluation

import (
	"errors"
)

// ErrNothingToEvaluate is returned when a run has no records or no backends.
var ErrNothingToEvaluate = errors.New("nothing to evaluate: no records or no backends")

// Error kinds carried on DocumentScore.Error.
const (
	ErrorKindExtraction = "extraction"
	ErrorKindTimeout    = "timeout"
)

// ScoreError records why a document/backend pair produced no metrics.
type ScoreError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DocumentScore holds the metrics of one document/backend evaluation.
// Nil metrics are absent, not zero.
type DocumentScore struct {
	DocumentID        string      `json:"document_id"`
	Category          string      `json:"category"`
	BackendName       string      `json:"backend_name"`
	CER               *float64    `json:"cer"`
	WER               *float64    `json:"wer"`
	TableF1           *float64    `json:"table_f1"`
	HeadingF1         *float64    `json:"heading_f1"`
	ReadingOrderScore *float64    `json:"reading_order_score"`
	ProcessingTimeMS  int64       `json:"processing_time_ms"`
	Error             *ScoreError `json:"error"`

	// MissingFields counts the structural fields (tables, headings,
	// reading order) the ground truth did not provide.
	MissingFields int `json:"-"`
}

// Failed reports whether extraction failed for this pair.
func (s *DocumentScore) Failed() bool { return s.Error != nil }

// MissingOptional reports whether the ground truth lacked at least one
// structural field. Metrics that were undefined or failed do not count.
func (s *DocumentScore) MissingOptional() bool {
	return s.MissingFields > 0
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
