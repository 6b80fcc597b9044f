// Package monitoring tracks spend and token usage for chat sessions and fires
// budget alerts. All trackers are safe for concurrent use.
package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// CostRecord is one recorded request cost. Records are immutable once stored.
type CostRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	RequestID    string    `json:"request_id"`
}

// CostTracker accumulates request costs against an optional budget ceiling.
//
// CheckBudgetAvailable is advisory: between the check and the later
// RecordCost another request may spend the same headroom. Callers that need
// the ceiling to hold under concurrency use CheckAndReserve instead.
type CostTracker struct {
	mu       sync.Mutex
	budget   float64 // 0 = no budget
	total    float64
	reserved float64
	perModel map[string]float64
	records  []CostRecord
}

// NewCostTracker creates a tracker. budget <= 0 disables enforcement.
func NewCostTracker(budget float64) *CostTracker {
	if budget < 0 {
		budget = 0
	}
	return &CostTracker{budget: budget, perModel: make(map[string]float64)}
}

// Budget returns the configured ceiling (0 if none).
func (t *CostTracker) Budget() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget
}

// CheckBudgetAvailable reports whether an estimated spend fits. It fails only
// when recorded total plus the estimate strictly exceeds the budget; landing
// exactly on the ceiling is allowed. No budget means always available.
func (t *CostTracker) CheckBudgetAvailable(estimated float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(estimated, t.total)
}

func (t *CostTracker) checkLocked(estimated, base float64) error {
	if t.budget <= 0 {
		return nil
	}
	projected := base + estimated
	if projected > t.budget {
		return &types.BudgetExceededError{
			Budget:        t.budget,
			ProjectedCost: projected,
			CurrentCost:   t.total,
			EstimatedCost: estimated,
		}
	}
	return nil
}

// Reservation holds budget headroom claimed by an in-flight request.
// Exactly one of Commit or Release must be called; both are idempotent.
type Reservation struct {
	tracker *CostTracker
	amount  float64
	done    bool
}

// CheckAndReserve atomically checks the estimate against recorded spend plus
// all outstanding reservations and claims the headroom on success. This
// closes the check-then-record race for concurrent callers.
func (t *CostTracker) CheckAndReserve(estimated float64) (*Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkLocked(estimated, t.total+t.reserved); err != nil {
		return nil, err
	}
	t.reserved += estimated
	return &Reservation{tracker: t, amount: estimated}, nil
}

// Commit converts the reservation into recorded spend at the actual cost.
func (r *Reservation) Commit(rec CostRecord) {
	if r == nil || r.done {
		return
	}
	r.done = true
	t := r.tracker
	t.mu.Lock()
	t.reserved -= r.amount
	t.recordLocked(rec)
	t.mu.Unlock()
}

// Release frees the reservation without recording spend.
func (r *Reservation) Release() {
	if r == nil || r.done {
		return
	}
	r.done = true
	t := r.tracker
	t.mu.Lock()
	t.reserved -= r.amount
	t.mu.Unlock()
}

// RecordCost appends a cost record. It never re-validates the budget; actuals
// land even when they overshoot, and the overshoot shows up in TotalCost.
func (t *CostTracker) RecordCost(rec CostRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(rec)
}

func (t *CostTracker) recordLocked(rec CostRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	t.total += rec.CostUSD
	t.perModel[rec.Model] += rec.CostUSD
	t.records = append(t.records, rec)
}

// TotalCost returns the recorded spend so far.
func (t *CostTracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// RemainingBudget returns budget minus recorded spend, clamped at 0.
// Without a budget it returns 0.
func (t *CostTracker) RemainingBudget() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget <= 0 {
		return 0
	}
	if remaining := t.budget - t.total; remaining > 0 {
		return remaining
	}
	return 0
}

// UsageFraction returns recorded spend as a fraction of budget (0 without one).
func (t *CostTracker) UsageFraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget <= 0 {
		return 0
	}
	return t.total / t.budget
}

// RequestCount returns the number of recorded requests.
func (t *CostTracker) RequestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Records returns a copy of all cost records in recording order.
func (t *CostTracker) Records() []CostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CostRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Breakdown returns recorded spend per model.
func (t *CostTracker) Breakdown() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.perModel))
	for k, v := range t.perModel {
		out[k] = v
	}
	return out
}

// CostStatistics summarizes per-request costs.
type CostStatistics struct {
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Statistics computes min/max/mean/median over recorded request costs.
func (t *CostTracker) Statistics() CostStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.records)
	if n == 0 {
		return CostStatistics{}
	}
	costs := make([]float64, n)
	for i, rec := range t.records {
		costs[i] = rec.CostUSD
	}
	sort.Float64s(costs)

	median := costs[n/2]
	if n%2 == 0 {
		median = (costs[n/2-1] + costs[n/2]) / 2
	}
	return CostStatistics{
		Count:  n,
		Total:  t.total,
		Min:    costs[0],
		Max:    costs[n-1],
		Mean:   t.total / float64(n),
		Median: median,
	}
}

// Reset clears all recorded spend and records. The budget and any outstanding
// reservations are kept.
func (t *CostTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.perModel = make(map[string]float64)
	t.records = nil
}
