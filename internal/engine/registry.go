package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
)

var imagePriority = []string{"tesseract"}

// defaultPriority orders built-in backends per extension. Backends not listed
// are still reachable through the any-candidate fallback.
var defaultPriority = map[string][]string{
	"pdf":  {"pdftotext", "tesseract"},
	"png":  imagePriority,
	"jpg":  imagePriority,
	"jpeg": imagePriority,
	"tif":  imagePriority,
	"tiff": imagePriority,
	"bmp":  imagePriority,
	"webp": imagePriority,
	"txt":  {"plaintext"},
	"md":   {"plaintext"},
	"html": {"plaintext"},
	"htm":  {"plaintext"},
}

// Info describes a registered engine.
type Info struct {
	Name       string   `json:"name"`
	Available  bool     `json:"available"`
	Extensions []string `json:"extensions"`
}

// Registry holds engines in registration order and chooses one per document.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	order   []string
	allowed map[string]bool

	defaultName string
	priority    map[string][]string
	log         *logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefault sets the engine tried before extension priority.
func WithDefault(name string) RegistryOption {
	return func(r *Registry) { r.defaultName = name }
}

// WithAllowed restricts automatic selection to names. Explicit hints bypass it.
func WithAllowed(names []string) RegistryOption {
	return func(r *Registry) {
		if len(names) == 0 {
			return
		}
		r.allowed = make(map[string]bool, len(names))
		for _, n := range names {
			r.allowed[n] = true
		}
	}
}

// WithPriority overrides the per-extension priority chains.
func WithPriority(p map[string][]string) RegistryOption {
	return func(r *Registry) { r.priority = p }
}

// WithLogger sets the registry logger.
func WithLogger(log *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		engines:  make(map[string]Engine),
		priority: defaultPriority,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds e, replacing any engine with the same name.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := e.Name()
	if _, exists := r.engines[name]; !exists {
		r.order = append(r.order, name)
	}
	r.engines[name] = e
	r.log.Debug("registered engine", "engine", name, "available", e.Available())
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// List describes every registered engine in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		e := r.engines[name]
		exts := append([]string(nil), e.Extensions()...)
		sort.Strings(exts)
		out = append(out, Info{Name: name, Available: e.Available(), Extensions: exts})
	}
	return out
}

// AvailableNames returns the names of available engines that pass the
// allow-list, in registration order.
func (r *Registry) AvailableNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		e := r.engines[name]
		if e.Available() && (r.allowed == nil || r.allowed[name]) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) candidate(e Engine, ext string) bool {
	if !e.Available() {
		return false
	}
	if r.allowed != nil && !r.allowed[e.Name()] {
		return false
	}
	return Supports(e, ext)
}

// Select chooses an engine for path: the explicit hint, then the configured
// default, then the extension priority chain, then any available candidate.
func (r *Registry) Select(path, hint string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := Ext(path)

	if hint != "" {
		e, ok := r.engines[hint]
		if !ok {
			return nil, errors.NotFoundError(fmt.Sprintf("engine %q", hint)).
				WithDetail("available", strings.Join(r.order, ", "))
		}
		if !e.Available() {
			return nil, errors.UnavailableError("engine " + hint)
		}
		if !Supports(e, ext) {
			r.log.Warn("engine does not list extension, proceeding anyway", "engine", hint, "ext", ext)
		}
		return e, nil
	}

	if r.defaultName != "" {
		if e, ok := r.engines[r.defaultName]; ok && r.candidate(e, ext) {
			return e, nil
		}
	}

	for _, name := range r.priority[ext] {
		if e, ok := r.engines[name]; ok && r.candidate(e, ext) {
			return e, nil
		}
	}

	for _, name := range r.order {
		if e := r.engines[name]; r.candidate(e, ext) {
			return e, nil
		}
	}

	return nil, errors.New(errors.CodeUnavailable, fmt.Sprintf("no available engine supports .%s", ext))
}

// Extract selects an engine for path (backend acts as the hint) and runs it.
// Failures are returned as extraction errors.
func (r *Registry) Extract(ctx context.Context, path, backend string) (*Outcome, error) {
	e, err := r.Select(path, backend)
	if err != nil {
		return nil, errors.ExtractionError(backend, err)
	}

	start := time.Now()
	out, err := e.Extract(ctx, path)
	if err != nil {
		return nil, errors.ExtractionError(e.Name(), err)
	}
	if out == nil {
		return nil, errors.ExtractionError(e.Name(), fmt.Errorf("empty outcome"))
	}
	if out.EngineName == "" {
		out.EngineName = e.Name()
	}
	if out.ProcessingTimeMS == 0 {
		out.ProcessingTimeMS = time.Since(start).Milliseconds()
	}
	return out, nil
}
