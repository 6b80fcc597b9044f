package monitoring

import "sync"

// TokenUsage is the running token total for one model.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Requests     int `json:"requests"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// TokenMonitor accumulates token usage partitioned by model.
type TokenMonitor struct {
	mu       sync.Mutex
	perModel map[string]TokenUsage
	total    TokenUsage
}

// NewTokenMonitor creates an empty monitor.
func NewTokenMonitor() *TokenMonitor {
	return &TokenMonitor{perModel: make(map[string]TokenUsage)}
}

// RecordUsage adds one request's token counts for the given model.
func (m *TokenMonitor) RecordUsage(model string, inputTokens, outputTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.perModel[model]
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.Requests++
	m.perModel[model] = u

	m.total.InputTokens += inputTokens
	m.total.OutputTokens += outputTokens
	m.total.Requests++
}

// TotalUsage returns the aggregate across all models.
func (m *TokenMonitor) TotalUsage() TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// UsageByModel returns a copy of the per-model totals.
func (m *TokenMonitor) UsageByModel() map[string]TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]TokenUsage, len(m.perModel))
	for k, v := range m.perModel {
		out[k] = v
	}
	return out
}

// Reset clears all usage.
func (m *TokenMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perModel = make(map[string]TokenUsage)
	m.total = TokenUsage{}
}
