// Package engine defines the extraction backend capability and the registry
// that selects and invokes backends.
package engine

import (
	"context"
	"path/filepath"
	"strings"
)

// Format is the representation of Outcome.Content.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatText     Format = "text"
)

// Layout block types carried in BoundingBox.Type.
const (
	BlockTitle     = "title"
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
	BlockText      = "text"
	BlockTable     = "table"
	BlockList      = "list"
	BlockFigure    = "figure"
)

// BoundingBox is a layout element reported by a backend.
type BoundingBox struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	Page int       `json:"page,omitempty"`
	BBox []float64 `json:"bbox,omitempty"` // x0, y0, x1, y1
}

// Outcome is the unified result every backend produces.
type Outcome struct {
	Content          string         `json:"content"`
	Format           Format         `json:"format"`
	EngineName       string         `json:"engine_name"`
	Pages            int            `json:"pages,omitempty"`
	Headings         []string       `json:"headings,omitempty"`
	Tables           [][][]string   `json:"tables,omitempty"`
	ReadingOrder     []string       `json:"reading_order,omitempty"`
	BoundingBoxes    []BoundingBox  `json:"bounding_boxes,omitempty"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// Engine is an extraction backend.
type Engine interface {
	// Name is the unique, lowercase identifier.
	Name() string

	// Extensions lists supported file extensions without dots.
	Extensions() []string

	// Available reports whether the backend's dependencies are ready.
	Available() bool

	// Extract processes the document at path.
	Extract(ctx context.Context, path string) (*Outcome, error)
}

// Ext returns the lowercase extension of path without the dot.
func Ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Supports reports whether e lists ext. An empty ext matches every engine.
func Supports(e Engine, ext string) bool {
	if ext == "" {
		return true
	}
	for _, x := range e.Extensions() {
		if x == ext {
			return true
		}
	}
	return false
}
