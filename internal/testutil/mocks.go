// Package testutil provides shared testing utilities and mocks for the
// sessionkit test suite.
package testutil

import (
	"context"
	"sync"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// MockProvider is a Provider implementation with scriptable behavior. Tests
// configure per-call errors, canned responses, and pricing, and can inspect
// call counts and received prompts afterwards.
type MockProvider struct {
	mu sync.Mutex

	name    string
	content string

	inputPricePer1M  float64
	outputPricePer1M float64
	outputTokens     int

	validateError error

	// chatErrors are consumed one per Chat call before chatError applies.
	chatErrors []error
	chatError  error

	chatFn func(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error)

	chatCalls     int
	validateCalls int
	prompts       []string
}

// NewMockProvider creates a mock named "mock" answering with fixed content
// and simple linear pricing.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		content:          "mock response",
		inputPricePer1M:  1.0,
		outputPricePer1M: 2.0,
		outputTokens:     10,
	}
}

// SetName overrides the provider name.
func (m *MockProvider) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
}

// SetContent sets the content returned by Chat.
func (m *MockProvider) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
}

// SetOutputTokens sets the output token count reported by Chat responses.
func (m *MockProvider) SetOutputTokens(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputTokens = n
}

// SetPricing sets per-million-token prices used by cost methods.
func (m *MockProvider) SetPricing(inputPer1M, outputPer1M float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputPricePer1M = inputPer1M
	m.outputPricePer1M = outputPer1M
}

// SetChatError makes every Chat call fail with err.
func (m *MockProvider) SetChatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatError = err
}

// QueueChatErrors makes the next len(errs) Chat calls fail in order; a nil
// entry means that call succeeds.
func (m *MockProvider) QueueChatErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatErrors = append(m.chatErrors, errs...)
}

// SetChatFunc replaces Chat behavior entirely.
func (m *MockProvider) SetChatFunc(fn func(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatFn = fn
}

// SetValidateError makes ValidateConnection fail with err.
func (m *MockProvider) SetValidateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateError = err
}

// ChatCalls returns how many times Chat was invoked.
func (m *MockProvider) ChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatCalls
}

// Prompts returns the user-message text of every Chat call in order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Name implements types.Provider.
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// ValidateConnection implements types.Provider.
func (m *MockProvider) ValidateConnection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateCalls++
	return m.validateError
}

// Chat implements types.Provider.
func (m *MockProvider) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.chatCalls++
	prompt := lastUserMessage(req)
	m.prompts = append(m.prompts, prompt)

	var err error
	if len(m.chatErrors) > 0 {
		err = m.chatErrors[0]
		m.chatErrors = m.chatErrors[1:]
	} else {
		err = m.chatError
	}
	content := m.content
	outputTokens := m.outputTokens
	fn := m.chatFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &types.ChatResponse{
		Content:      content,
		Model:        req.Model,
		InputTokens:  heuristicTokens(prompt),
		OutputTokens: outputTokens,
		FinishReason: "stop",
	}, nil
}

// CountTokens implements types.Provider using the characters/4 heuristic.
func (m *MockProvider) CountTokens(ctx context.Context, text, model string) (int, error) {
	return heuristicTokens(text), nil
}

// EstimateCost implements types.Provider.
func (m *MockProvider) EstimateCost(ctx context.Context, prompt, model string, maxTokens int) (types.CostEstimate, error) {
	inputTokens := heuristicTokens(prompt)
	outputTokens := maxTokens
	if outputTokens <= 0 {
		outputTokens = 0
	}
	m.mu.Lock()
	in := m.inputPricePer1M
	out := m.outputPricePer1M
	m.mu.Unlock()

	est := types.CostEstimate{
		InputCost:   float64(inputTokens) * in / 1e6,
		OutputCost:  float64(outputTokens) * out / 1e6,
		InputTokens: inputTokens,
	}
	est.TotalCost = est.InputCost + est.OutputCost
	return est, nil
}

// CalculateCost implements types.Provider.
func (m *MockProvider) CalculateCost(inputTokens, outputTokens int, model string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(inputTokens)*m.inputPricePer1M/1e6 + float64(outputTokens)*m.outputPricePer1M/1e6
}

func lastUserMessage(req types.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == types.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func heuristicTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// FixedCostProvider wraps MockProvider so every request costs exactly the
// given amount, which keeps budget arithmetic in tests readable.
type FixedCostProvider struct {
	*MockProvider
	cost float64
}

// NewFixedCostProvider creates a provider whose estimates and actuals both
// equal costUSD.
func NewFixedCostProvider(costUSD float64) *FixedCostProvider {
	return &FixedCostProvider{MockProvider: NewMockProvider(), cost: costUSD}
}

// EstimateCost returns the fixed cost.
func (f *FixedCostProvider) EstimateCost(ctx context.Context, prompt, model string, maxTokens int) (types.CostEstimate, error) {
	return types.CostEstimate{
		TotalCost:   f.cost,
		InputCost:   f.cost,
		InputTokens: heuristicTokens(prompt),
	}, nil
}

// CalculateCost returns the fixed cost regardless of token counts.
func (f *FixedCostProvider) CalculateCost(inputTokens, outputTokens int, model string) float64 {
	return f.cost
}
