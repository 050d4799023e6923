package groundtruth

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// Dataset is a validated, ordered set of ground-truth records.
type Dataset struct {
	Root    string
	Records []Record       // discovery order
	Errors  []*RecordError // files that failed to load

	byID map[string]int
}

// Get returns the record with the given document ID.
func (d *Dataset) Get(documentID string) (Record, bool) {
	i, ok := d.byID[documentID]
	if !ok {
		return Record{}, false
	}
	return d.Records[i], true
}

// Len returns the number of valid records.
func (d *Dataset) Len() int { return len(d.Records) }

// Filter returns the records whose category is in categories, preserving
// order. An empty filter keeps every record.
func (d *Dataset) Filter(categories []string) []Record {
	if len(categories) == 0 {
		out := make([]Record, len(d.Records))
		copy(out, d.Records)
		return out
	}

	keep := make(map[string]bool, len(categories))
	for _, c := range categories {
		keep[c] = true
	}

	var out []Record
	for _, r := range d.Records {
		if keep[r.Category] {
			out = append(out, r)
		}
	}
	return out
}

// Categories returns the distinct categories in first-appearance order.
func (d *Dataset) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range d.Records {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

// Load walks root in lexical order and loads every annotation file it finds.
//
// Invalid annotations, annotations without a paired document, duplicate
// document IDs and unreadable subdirectories are logged and collected in
// Dataset.Errors. Load fails only when root cannot be read or the context is
// cancelled.
func Load(ctx context.Context, root string, log *logger.Logger) (*Dataset, error) {
	if log == nil {
		log = logger.Discard()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(errors.CodeNotFound, "dataset not found", err).WithDetail("path", root)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError("dataset path is not a directory").WithDetail("path", root)
	}

	ds := &Dataset{Root: root, byID: make(map[string]int)}
	listings := make(map[string][]os.DirEntry)

	reject := func(path string, err error) {
		log.Warn("skipping ground truth", "path", path, "error", err)
		ds.Errors = append(ds.Errors, &RecordError{Path: path, Err: err})
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			reject(path, errors.Wrap(errors.CodeValidation, "unreadable path", err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), AnnotationSuffix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			reject(path, errors.Wrap(errors.CodeValidation, "unreadable annotation", err))
			return nil
		}

		rec, err := Parse(data)
		if err != nil {
			reject(path, err)
			return nil
		}

		dir := filepath.Dir(path)
		entries, ok := listings[dir]
		if !ok {
			entries, err = os.ReadDir(dir)
			if err != nil {
				reject(path, errors.Wrap(errors.CodeValidation, "unreadable directory", err))
				return nil
			}
			listings[dir] = entries
		}

		docPath := pairedDocument(dir, d.Name(), entries)
		if docPath == "" {
			reject(path, errors.ValidationError("no document file paired with annotation"))
			return nil
		}
		rec.DocumentPath = docPath

		if _, dup := ds.byID[rec.DocumentID]; dup {
			reject(path, errors.ValidationError("duplicate document_id").WithDetail("document_id", rec.DocumentID))
			return nil
		}

		ds.byID[rec.DocumentID] = len(ds.Records)
		ds.Records = append(ds.Records, rec)
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.CodeInternal, "reading dataset", walkErr).WithDetail("path", root)
	}

	log.Info("loaded ground truth",
		"path", root,
		"records", len(ds.Records),
		"rejected", len(ds.Errors),
	)
	return ds, nil
}

// pairedDocument finds the sibling file sharing the annotation's stem,
// e.g. invoice_01.pdf for invoice_01.ground_truth.json.
func pairedDocument(dir, annotation string, entries []os.DirEntry) string {
	stem := strings.TrimSuffix(annotation, AnnotationSuffix)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == annotation || strings.Contains(name, ".ground_truth") {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == stem {
			return filepath.Join(dir, name)
		}
	}
	return ""
}
