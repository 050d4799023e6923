package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docfold/docbench/internal/evaluation"
)

// DefaultPrecision is the number of decimals floats are rendered with.
const DefaultPrecision = 6

// EncodeOptions controls JSON rendering.
type EncodeOptions struct {
	Precision int // decimals; zero or negative means DefaultPrecision
	Indent    bool
}

type wireScore struct {
	DocumentID        string                 `json:"document_id"`
	Category          string                 `json:"category"`
	BackendName       string                 `json:"backend_name"`
	CER               *json.Number           `json:"cer"`
	WER               *json.Number           `json:"wer"`
	TableF1           *json.Number           `json:"table_f1"`
	HeadingF1         *json.Number           `json:"heading_f1"`
	ReadingOrderScore *json.Number           `json:"reading_order_score"`
	ProcessingTimeMS  int64                  `json:"processing_time_ms"`
	Error             *evaluation.ScoreError `json:"error"`
}

type wireSummary struct {
	AvgCER                   *json.Number `json:"avg_cer"`
	AvgWER                   *json.Number `json:"avg_wer"`
	AvgTableF1               *json.Number `json:"avg_table_f1"`
	AvgHeadingF1             *json.Number `json:"avg_heading_f1"`
	AvgReadingOrderScore     *json.Number `json:"avg_reading_order_score"`
	AvgProcessingTimeMS      *json.Number `json:"avg_processing_time_ms"`
	ScoredCount              int          `json:"scored_count"`
	SkippedMissingFieldCount int          `json:"skipped_missing_field_count"`
	SkippedErrorCount        int          `json:"skipped_error_count"`
}

type namedSummary struct {
	name    string
	summary wireSummary
}

// orderedSummaries is a JSON object whose keys keep insertion order.
type orderedSummaries []namedSummary

func (o orderedSummaries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.summary)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *orderedSummaries) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("backend_summaries: expected object, got %v", tok)
	}

	var out orderedSummaries
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("backend_summaries: expected key, got %v", tok)
		}
		var s wireSummary
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("backend_summaries[%s]: %w", name, err)
		}
		out = append(out, namedSummary{name: name, summary: s})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

type wireReport struct {
	RunID            string           `json:"run_id"`
	Timestamp        string           `json:"timestamp"`
	DatasetPath      string           `json:"dataset_path"`
	Categories       []string         `json:"categories"`
	Scores           []wireScore      `json:"scores"`
	BackendSummaries orderedSummaries `json:"backend_summaries"`
}

type codec struct {
	precision int
}

func (c codec) num(v *float64) *json.Number {
	if v == nil {
		return nil
	}
	n := json.Number(strconv.FormatFloat(*v, 'f', c.precision, 64))
	return &n
}

func parseNum(n *json.Number) (*float64, error) {
	if n == nil {
		return nil, nil
	}
	v, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c codec) toWire(r *Report) wireReport {
	w := wireReport{
		RunID:       r.RunID,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		DatasetPath: r.DatasetPath,
		Categories:  r.Categories,
		Scores:      make([]wireScore, 0, len(r.Scores)),
	}
	for _, s := range r.Scores {
		w.Scores = append(w.Scores, wireScore{
			DocumentID:        s.DocumentID,
			Category:          s.Category,
			BackendName:       s.BackendName,
			CER:               c.num(s.CER),
			WER:               c.num(s.WER),
			TableF1:           c.num(s.TableF1),
			HeadingF1:         c.num(s.HeadingF1),
			ReadingOrderScore: c.num(s.ReadingOrderScore),
			ProcessingTimeMS:  s.ProcessingTimeMS,
			Error:             s.Error,
		})
	}
	w.BackendSummaries = make(orderedSummaries, 0, len(r.BackendSummaries))
	for _, s := range r.BackendSummaries {
		w.BackendSummaries = append(w.BackendSummaries, namedSummary{
			name: s.BackendName,
			summary: wireSummary{
				AvgCER:                   c.num(s.AvgCER),
				AvgWER:                   c.num(s.AvgWER),
				AvgTableF1:               c.num(s.AvgTableF1),
				AvgHeadingF1:             c.num(s.AvgHeadingF1),
				AvgReadingOrderScore:     c.num(s.AvgReadingOrderScore),
				AvgProcessingTimeMS:      c.num(s.AvgProcessingTimeMS),
				ScoredCount:              s.ScoredCount,
				SkippedMissingFieldCount: s.SkippedMissingFieldCount,
				SkippedErrorCount:        s.SkippedErrorCount,
			},
		})
	}
	return w
}

// Encode writes r as JSON. Keys appear in a fixed order, absent metrics are
// null and floats carry exactly opts.Precision decimals.
func Encode(w io.Writer, r *Report, opts EncodeOptions) error {
	if opts.Precision <= 0 {
		opts.Precision = DefaultPrecision
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if opts.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(codec{precision: opts.Precision}.toWire(r))
}

// Marshal is Encode into a byte slice.
func Marshal(r *Report, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a report written by Encode.
func Decode(rd io.Reader) (*Report, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()

	var w wireReport
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	r := &Report{
		RunID:       w.RunID,
		DatasetPath: w.DatasetPath,
		Categories:  w.Categories,
		Scores:      make([]evaluation.DocumentScore, 0, len(w.Scores)),
	}
	if w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode report timestamp: %w", err)
		}
		r.Timestamp = ts
	}

	var err error
	for i, ws := range w.Scores {
		s := evaluation.DocumentScore{
			DocumentID:       ws.DocumentID,
			Category:         ws.Category,
			BackendName:      ws.BackendName,
			ProcessingTimeMS: ws.ProcessingTimeMS,
			Error:            ws.Error,
		}
		for _, f := range []struct {
			dst **float64
			src *json.Number
		}{
			{&s.CER, ws.CER},
			{&s.WER, ws.WER},
			{&s.TableF1, ws.TableF1},
			{&s.HeadingF1, ws.HeadingF1},
			{&s.ReadingOrderScore, ws.ReadingOrderScore},
		} {
			if *f.dst, err = parseNum(f.src); err != nil {
				return nil, fmt.Errorf("decode scores[%d]: %w", i, err)
			}
		}
		r.Scores = append(r.Scores, s)
	}

	for _, ns := range w.BackendSummaries {
		s := EngineSummary{
			BackendName:              ns.name,
			ScoredCount:              ns.summary.ScoredCount,
			SkippedMissingFieldCount: ns.summary.SkippedMissingFieldCount,
			SkippedErrorCount:        ns.summary.SkippedErrorCount,
		}
		for _, f := range []struct {
			dst **float64
			src *json.Number
		}{
			{&s.AvgCER, ns.summary.AvgCER},
			{&s.AvgWER, ns.summary.AvgWER},
			{&s.AvgTableF1, ns.summary.AvgTableF1},
			{&s.AvgHeadingF1, ns.summary.AvgHeadingF1},
			{&s.AvgReadingOrderScore, ns.summary.AvgReadingOrderScore},
			{&s.AvgProcessingTimeMS, ns.summary.AvgProcessingTimeMS},
		} {
			if *f.dst, err = parseNum(f.src); err != nil {
				return nil, fmt.Errorf("decode backend_summaries[%s]: %w", ns.name, err)
			}
		}
		r.BackendSummaries = append(r.BackendSummaries, s)
	}
	return r, nil
}
