// Package ocr provides extraction backends built on poppler-utils and tesseract.
package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// Config holds binary locations and OCR settings.
type Config struct {
	Pdftotext     string // default "pdftotext"
	Pdftoppm      string // default "pdftoppm"
	Tesseract     string // default "tesseract"
	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for PDFs, default 300
	MaxPages      int    // 0 = no limit
	TSVConfidence bool   // run a second tesseract pass for word confidence
}

func (c *Config) setDefaults() {
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
}

type base struct {
	cfg      Config
	runner   Runner
	lookPath func(string) (string, error)
	log      *logger.Logger
}

// Option configures an OCR engine.
type Option func(*base)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(b *base) { b.runner = r }
}

// WithLookPath replaces binary discovery used by Available.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(b *base) { b.lookPath = fn }
}

func newBase(cfg Config, log *logger.Logger, opts []Option) base {
	cfg.setDefaults()
	if log == nil {
		log = logger.Discard()
	}
	b := base{cfg: cfg, runner: execRunner{log: log}, lookPath: exec.LookPath, log: log}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) has(bins ...string) bool {
	for _, bin := range bins {
		if _, err := b.lookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// PDFText extracts the embedded text layer of a PDF with pdftotext.
type PDFText struct {
	base
}

// NewPDFText creates the pdftotext engine.
func NewPDFText(cfg Config, log *logger.Logger, opts ...Option) *PDFText {
	return &PDFText{base: newBase(cfg, log, opts)}
}

func (e *PDFText) Name() string         { return "pdftotext" }
func (e *PDFText) Extensions() []string { return []string{"pdf"} }
func (e *PDFText) Available() bool      { return e.has(e.cfg.Pdftotext) }

// Extract runs pdftotext -layout and splits pages on form feeds.
func (e *PDFText) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}

	text := strings.TrimRight(string(out), "\f\n")
	pages := 1 + strings.Count(text, "\f")
	return &engine.Outcome{
		Content:    normalizeText(text),
		Format:     engine.FormatText,
		EngineName: e.Name(),
		Pages:      pages,
		Metadata:   map[string]any{"method": "pdf-text"},
	}, nil
}

var imageExtensions = []string{"png", "jpg", "jpeg", "tif", "tiff", "bmp", "webp"}

// Tesseract OCRs images directly and PDFs after rasterizing them with pdftoppm.
type Tesseract struct {
	base
}

// NewTesseract creates the tesseract engine.
func NewTesseract(cfg Config, log *logger.Logger, opts ...Option) *Tesseract {
	return &Tesseract{base: newBase(cfg, log, opts)}
}

func (e *Tesseract) Name() string { return "tesseract" }

func (e *Tesseract) Extensions() []string {
	return append([]string{"pdf"}, imageExtensions...)
}

func (e *Tesseract) Available() bool { return e.has(e.cfg.Tesseract) }

// Extract OCRs the document page by page.
func (e *Tesseract) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	images := []string{path}
	if engine.Ext(path) == "pdf" {
		if !e.has(e.cfg.Pdftoppm) {
			return nil, fmt.Errorf("%s not found: required to OCR PDFs", e.cfg.Pdftoppm)
		}
		tmpDir, err := os.MkdirTemp("", "docbench-ocr-*")
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := os.RemoveAll(tmpDir); err != nil {
				e.log.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
			}
		}()

		images, err = e.rasterize(ctx, path, tmpDir)
		if err != nil {
			return nil, err
		}
	}

	var pages []string
	var confSum float64
	var confN int
	for _, img := range images {
		out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, img, "stdout", "-l", e.cfg.TesseractLang)
		if err != nil {
			return nil, fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
		}
		pages = append(pages, normalizeText(string(out)))

		if e.cfg.TSVConfidence {
			if c, ok := e.confidence(ctx, img); ok {
				confSum += c
				confN++
			}
		}
	}

	outcome := &engine.Outcome{
		Content:    strings.Join(pages, "\n\n"),
		Format:     engine.FormatText,
		EngineName: e.Name(),
		Pages:      len(pages),
		Metadata:   map[string]any{"method": "ocr", "lang": e.cfg.TesseractLang},
	}
	if confN > 0 {
		c := confSum / float64(confN)
		outcome.Confidence = &c
	}
	return outcome, nil
}

// rasterize renders each PDF page to a PNG in dir.
func (e *Tesseract) rasterize(ctx context.Context, path, dir string) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages")
	}
	return matches, nil
}

// confidence returns the mean word confidence (0..1) from tesseract TSV output.
func (e *Tesseract) confidence(ctx context.Context, img string) (float64, bool) {
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, img, "stdout", "-l", e.cfg.TesseractLang, "tsv")
	if err != nil {
		e.log.Debug("tesseract tsv failed", "path", img, "error", err)
		return 0, false
	}
	return parseTSVConfidence(string(out))
}

func parseTSVConfidence(tsv string) (float64, bool) {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		conf := cols[10]
		if conf == "" || strings.HasPrefix(conf, "-1") {
			continue
		}
		if v, err := strconv.ParseFloat(conf, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / n / 100, true
}

// normalizeText trims trailing spaces per line and collapses runs of blank lines.
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t\f")
		if ln == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
