// Package middleware provides HTTP middleware for the docbench server.
//
// Available middleware:
//   - RateLimiter: per-client rate limiting using a token bucket
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Stop()
//	handler = rl.Middleware(handler)
package middleware
