package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelpipe/sessionkit/pkg/monitoring"
)

// CostSink receives every recorded cost, for persistence outside the session.
// Sink failures are logged and never fail the request.
type CostSink interface {
	Append(ctx context.Context, sessionID string, rec monitoring.CostRecord) error
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithBudget sets the session spend ceiling in USD. Zero or negative disables
// budget enforcement.
func WithBudget(usd float64) Option {
	return func(s *Session) { s.budget = usd }
}

// WithStrictBudget makes the budget hold under concurrent requests by
// reserving estimated cost before each provider call. Without it the check
// is advisory and parallel requests may overshoot between check and record.
func WithStrictBudget() Option {
	return func(s *Session) { s.strictBudget = true }
}

// WithDryRun makes every chat call synthesize a stub response instead of
// calling the provider. Usage is still recorded with estimated figures.
func WithDryRun() Option {
	return func(s *Session) { s.dryRun = true }
}

// WithLogger sets the session logger. Default is a disabled logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetadata attaches session-level metadata, included in exports.
func WithMetadata(md map[string]any) Option {
	return func(s *Session) {
		for k, v := range md {
			s.metadata[k] = v
		}
	}
}

// WithMaxRetries caps provider call attempts per chat call beyond the first.
// The retry addon may vote to retry fewer times; this is the hard ceiling.
func WithMaxRetries(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBaseDelay sets the fallback backoff base used when no addon
// supplies a delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.retryBaseDelay = d
		}
	}
}

// WithUsageLog mirrors every cost record to sink.
func WithUsageLog(sink CostSink) Option {
	return func(s *Session) { s.sink = sink }
}

// ChatOption configures a single chat call.
type ChatOption func(*chatSettings)

type chatSettings struct {
	temperature     float64
	maxTokens       int
	systemMessage   string
	metadata        map[string]any
	extra           map[string]any
	skipBudgetCheck bool
}

func defaultChatSettings() chatSettings {
	return chatSettings{temperature: 0.7}
}

// WithTemperature sets the sampling temperature (default 0.7).
func WithTemperature(t float64) ChatOption {
	return func(c *chatSettings) { c.temperature = t }
}

// WithMaxTokens caps the response length and feeds the output cost estimate.
func WithMaxTokens(n int) ChatOption {
	return func(c *chatSettings) { c.maxTokens = n }
}

// WithSystemMessage prepends a system message to the request.
func WithSystemMessage(msg string) ChatOption {
	return func(c *chatSettings) { c.systemMessage = msg }
}

// WithRequestMetadata attaches metadata to this call's request context.
func WithRequestMetadata(md map[string]any) ChatOption {
	return func(c *chatSettings) {
		if c.metadata == nil {
			c.metadata = make(map[string]any)
		}
		for k, v := range md {
			c.metadata[k] = v
		}
	}
}

// WithoutBudgetCheck disables the pre-call budget gate for this call. The
// actual cost is still recorded afterwards, so the session total may end up
// over budget.
func WithoutBudgetCheck() ChatOption {
	return func(c *chatSettings) { c.skipBudgetCheck = true }
}

// WithExtra passes provider-specific parameters through verbatim.
func WithExtra(extra map[string]any) ChatOption {
	return func(c *chatSettings) {
		if c.extra == nil {
			c.extra = make(map[string]any)
		}
		for k, v := range extra {
			c.extra[k] = v
		}
	}
}
