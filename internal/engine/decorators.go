package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/docfold/docbench/internal/pkg/errors"
)

type timeoutEngine struct {
	Engine
	timeout time.Duration
}

// WithTimeout bounds every Extract call on e. A non-positive timeout returns e unchanged.
func WithTimeout(e Engine, timeout time.Duration) Engine {
	if timeout <= 0 {
		return e
	}
	return &timeoutEngine{Engine: e, timeout: timeout}
}

func (t *timeoutEngine) Extract(ctx context.Context, path string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.Engine.Extract(ctx, path)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Wrap(errors.CodeTimeout, "extraction timed out", err).
			WithDetail("timeout", t.timeout.String())
	}
	return out, err
}

type rateLimitedEngine struct {
	Engine
	limiter *rate.Limiter
}

// RateLimited throttles Extract calls on e to perSecond with the given burst.
// A non-positive rate returns e unchanged.
func RateLimited(e Engine, perSecond float64, burst int) Engine {
	if perSecond <= 0 {
		return e
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedEngine{Engine: e, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimitedEngine) Extract(ctx context.Context, path string) (*Outcome, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Engine.Extract(ctx, path)
}
