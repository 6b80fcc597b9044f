package addons

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/modelpipe/sessionkit/pkg/types"
)

const keyRetryBackoff = "retry_backoff"

// RetryAddon votes to retry transient provider failures with exponential
// backoff and jitter. The vote only covers errors that are retryable per the
// provider error taxonomy; budget and validation failures never qualify.
//
// The addon stores the computed delay in the request context under
// KeyRetryDelay; the orchestrator owns the actual sleep so it stays
// cancellable at the call boundary.
type RetryAddon struct {
	NopAddon

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration

	attempts int64
}

// NewRetryAddon creates a retry addon allowing up to maxRetries additional
// attempts per request.
func NewRetryAddon(maxRetries int, initialDelay, maxDelay time.Duration) *RetryAddon {
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RetryAddon{maxRetries: maxRetries, initialDelay: initialDelay, maxDelay: maxDelay}
}

func (r *RetryAddon) Name() string { return "retry" }

func (r *RetryAddon) Description() string {
	return "retries transient provider failures with exponential backoff"
}

// OnError votes to retry when the failure is transient and the attempt budget
// for this request is not exhausted. Each retry vote increments the request's
// retry_count and records the backoff delay for the orchestrator to honor.
func (r *RetryAddon) OnError(ctx context.Context, cause error, rc *Context) (bool, error) {
	if !isTransient(cause) {
		return false, nil
	}
	count := rc.GetInt(KeyRetryCount)
	if count >= r.maxRetries {
		return false, nil
	}

	bo, ok := rc.Custom[keyRetryBackoff].(*backoff.ExponentialBackOff)
	if !ok {
		bo = backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(r.initialDelay),
			backoff.WithMaxInterval(r.maxDelay),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0.2),
			backoff.WithMaxElapsedTime(0),
		)
		rc.Custom[keyRetryBackoff] = bo
	}
	delay := bo.NextBackOff()

	// A provider rate-limit hint overrides the computed delay.
	var perr *types.ProviderError
	if errors.As(cause, &perr) && perr.RetryAfter > 0 {
		delay = perr.RetryAfter
	}

	rc.Custom[KeyRetryCount] = count + 1
	rc.Custom[KeyRetryDelay] = delay
	rc.Custom[KeyRetryReason] = cause.Error()
	atomic.AddInt64(&r.attempts, 1)
	return true, nil
}

func isTransient(cause error) bool {
	var berr *types.BudgetExceededError
	if errors.As(cause, &berr) {
		return false
	}
	var perr *types.ProviderError
	if errors.As(cause, &perr) {
		return perr.IsRetryable()
	}
	return false
}

// Stats reports the total retry votes cast across requests.
func (r *RetryAddon) Stats() map[string]any {
	return map[string]any{
		"max_retries":   r.maxRetries,
		"retry_votes":   atomic.LoadInt64(&r.attempts),
		"initial_delay": r.initialDelay.String(),
		"max_delay":     r.maxDelay.String(),
	}
}
