// Package groundtruth loads and validates human-curated reference annotations.
package groundtruth

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/docfold/docbench/internal/pkg/errors"
)

// AnnotationSuffix marks annotation files inside a dataset directory.
const AnnotationSuffix = ".ground_truth.json"

// Record is the reference annotation for one document.
//
// Optional fields distinguish absent (nil) from present-but-empty (non-nil,
// zero length). Metrics are computed only for present fields.
type Record struct {
	DocumentID   string
	Category     string
	Source       string
	DocumentPath string

	FullText     string
	Headings     []string
	Tables       [][][]string
	ReadingOrder []string
}

// HasHeadings reports whether the annotation carries headings.
func (r *Record) HasHeadings() bool { return r.Headings != nil }

// HasTables reports whether the annotation carries tables.
func (r *Record) HasTables() bool { return r.Tables != nil }

// HasReadingOrder reports whether the annotation carries a reading order.
func (r *Record) HasReadingOrder() bool { return r.ReadingOrder != nil }

type fileRecord struct {
	DocumentID  string `json:"document_id"`
	Category    string `json:"category"`
	Source      string `json:"source,omitempty"`
	GroundTruth struct {
		FullText     *string      `json:"full_text"`
		Headings     []string     `json:"headings"`
		Tables       [][][]string `json:"tables"`
		ReadingOrder []string     `json:"reading_order"`
	} `json:"ground_truth"`
}

// Parse decodes and validates a single annotation document.
// Every failure is a validation error.
func Parse(data []byte) (Record, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Record{}, errors.Wrap(errors.CodeValidation, "invalid JSON", err)
	}
	if err := validateSchema(raw); err != nil {
		return Record{}, errors.Wrap(errors.CodeValidation, "annotation does not match schema", err)
	}

	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return Record{}, errors.Wrap(errors.CodeValidation, "invalid annotation", err)
	}
	if fr.GroundTruth.FullText == nil {
		return Record{}, errors.ValidationError("ground_truth.full_text is required")
	}

	return Record{
		DocumentID:   fr.DocumentID,
		Category:     fr.Category,
		Source:       fr.Source,
		FullText:     *fr.GroundTruth.FullText,
		Headings:     fr.GroundTruth.Headings,
		Tables:       fr.GroundTruth.Tables,
		ReadingOrder: fr.GroundTruth.ReadingOrder,
	}, nil
}

// RecordError is a per-file load failure. The file is excluded from the dataset.
type RecordError struct {
	Path string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
