// Package types defines the core types and interfaces for sessionkit.
// It includes the chat request/response formats, the Provider interface that
// session orchestration consumes, and the shared error taxonomy.
package types

import (
	"encoding/json"
)

// Message roles used when building chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message in a chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic chat completion request
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`

	// Metadata is caller-supplied context, never sent to the provider
	Metadata map[string]any `json:"metadata,omitempty"`

	// Extra holds provider-specific parameters passed through verbatim
	Extra map[string]any `json:"extra,omitempty"`
}

// ChatResponse is the normalized provider reply
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	FinishReason string `json:"finish_reason,omitempty"`

	// Raw is the unparsed provider response body, if available
	Raw json.RawMessage `json:"raw_response,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (r *ChatResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// CostEstimate is a pre-flight cost projection for a request
type CostEstimate struct {
	InputCost   float64 `json:"input_cost"`
	OutputCost  float64 `json:"output_cost"`
	TotalCost   float64 `json:"total_cost"`
	InputTokens int     `json:"input_tokens"`
}

// Model describes a model exposed by a provider
type Model struct {
	Name             string   `json:"name"`
	ContextWindow    int      `json:"context_window"`
	InputPricePer1M  float64  `json:"input_price_per_1m"`
	OutputPricePer1M float64  `json:"output_price_per_1m"`
	Capabilities     []string `json:"capabilities,omitempty"`
	Description      string   `json:"description,omitempty"`
}
