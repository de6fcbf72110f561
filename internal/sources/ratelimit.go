package sources

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token-bucket limiter shared by all requests of one
// source adapter. It is safe for concurrent use because the underlying
// rate.Limiter is goroutine-safe for all operations.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter sustaining perSecond requests with the
// given burst ceiling. NCBI and arXiv ask for at most 3 req/s; the
// OpenAlex polite pool allows 10.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Wait blocks until the next request is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed immediately, consuming a
// token when it does.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate adjusts the sustained rate, keeping the burst ceiling. Useful
// when an upstream grants a higher quota after authentication.
func (r *RateLimiter) SetRate(perSecond float64) {
	r.limiter.SetLimit(rate.Limit(perSecond))
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
