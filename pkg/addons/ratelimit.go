package addons

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimitAddon throttles outgoing requests with a token bucket. The
// pre-request hook blocks until a token is available or the context is
// cancelled, so slow-down happens before any cost is estimated or spent.
type RateLimitAddon struct {
	NopAddon

	limiter *rate.Limiter
	waited  int64
}

// NewRateLimitAddon allows requestsPerSecond sustained with the given burst.
func NewRateLimitAddon(requestsPerSecond float64, burst int) *RateLimitAddon {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitAddon{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (r *RateLimitAddon) Name() string { return "rate_limit" }

func (r *RateLimitAddon) Description() string {
	return "throttles request rate with a token bucket"
}

// PreRequest blocks until the limiter admits the request.
func (r *RateLimitAddon) PreRequest(ctx context.Context, prompt string, rc *Context) (PreRequestOutcome, error) {
	if r.limiter.Tokens() < 1 {
		atomic.AddInt64(&r.waited, 1)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return Unchanged(), err
	}
	return Unchanged(), nil
}

// Stats reports how many requests had to wait for a token.
func (r *RateLimitAddon) Stats() map[string]any {
	return map[string]any{
		"limit": float64(r.limiter.Limit()),
		"burst": r.limiter.Burst(),
		"waits": atomic.LoadInt64(&r.waited),
	}
}
