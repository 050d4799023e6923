// Package cache memoizes extraction outcomes by engine and document content.
package cache

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/pkg/hash"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// Store persists encoded outcomes under a key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// HitRecorder is told about every lookup.
type HitRecorder func(engineName string, hit bool)

// Option configures Cached.
type Option func(*cachedEngine)

// WithLogger sets the logger used for store failures.
func WithLogger(log *logger.Logger) Option {
	return func(c *cachedEngine) { c.log = log }
}

// WithHitRecorder registers a lookup callback.
func WithHitRecorder(fn HitRecorder) Option {
	return func(c *cachedEngine) { c.record = fn }
}

type cachedEngine struct {
	engine.Engine
	store  Store
	log    *logger.Logger
	record HitRecorder
}

// Cached wraps e so that repeated extraction of identical bytes is served
// from store. Store failures degrade to a direct call.
func Cached(e engine.Engine, store Store, opts ...Option) engine.Engine {
	if store == nil {
		return e
	}
	c := &cachedEngine{Engine: e, store: store, log: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *cachedEngine) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	sum, err := hash.File(path)
	if err != nil {
		return c.Engine.Extract(ctx, path)
	}
	key := hash.ExtractionKey(c.Name(), sum)
	log := c.log.WithEngine(c.Name())

	if data, ok, err := c.store.Get(ctx, key); err != nil {
		log.Warn("cache lookup failed", "key", key, "error", err)
	} else if ok {
		var out engine.Outcome
		if err := json.Unmarshal(data, &out); err == nil {
			c.hit(true)
			out.Metadata = maps.Clone(out.Metadata)
			if out.Metadata == nil {
				out.Metadata = map[string]any{}
			}
			out.Metadata["cache_hit"] = true
			return &out, nil
		}
		log.Warn("discarding undecodable cache entry", "key", key)
	}
	c.hit(false)

	start := time.Now()
	out, err := c.Engine.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if out.ProcessingTimeMS == 0 {
		out.ProcessingTimeMS = time.Since(start).Milliseconds()
	}

	if data, err := json.Marshal(out); err == nil {
		if err := c.store.Set(ctx, key, data); err != nil {
			log.Warn("cache store failed", "key", key, "error", err)
		}
	}
	return out, nil
}

func (c *cachedEngine) hit(ok bool) {
	if c.record != nil {
		c.record(c.Name(), ok)
	}
}
