package types

import "context"

// Provider is the narrow capability the session layer consumes. Implementations
// wrap a concrete LLM HTTP API; the orchestrator treats them as opaque.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai")
	Name() string

	// ValidateConnection checks that the provider is reachable and the
	// credentials are usable. It returns an error rather than panicking so
	// callers can decide whether a dead provider is fatal.
	ValidateConnection(ctx context.Context) error

	// Chat sends a chat completion request and returns the normalized response.
	// Failures are returned as *ProviderError with a categorized code.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// CountTokens counts tokens in text for the given model
	CountTokens(ctx context.Context, text, model string) (int, error)

	// EstimateCost projects the cost of a request before making it.
	// maxTokens <= 0 means "no output estimate requested".
	EstimateCost(ctx context.Context, prompt, model string, maxTokens int) (CostEstimate, error)

	// CalculateCost computes the actual cost of a completed request.
	// Pure; returns 0 for unknown models rather than erroring.
	CalculateCost(inputTokens, outputTokens int, model string) float64
}

// ModelLister is an optional provider capability for model discovery.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
	GetModelInfo(ctx context.Context, name string) (*Model, error)
}
