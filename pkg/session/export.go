package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/modelpipe/sessionkit/pkg/monitoring"
)

// ExportSchemaVersion identifies the SessionExport layout. Bump on any
// incompatible field change.
const ExportSchemaVersion = 1

// SessionExport is a point-in-time snapshot of a session's accounting.
type SessionExport struct {
	SchemaVersion int       `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"created_at"`
	ExportedAt    time.Time `json:"exported_at"`
	DryRun        bool      `json:"dry_run,omitempty"`

	RequestCount    int     `json:"request_count"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	BudgetUSD       float64 `json:"budget_usd,omitempty"`
	RemainingBudget float64 `json:"remaining_budget_usd,omitempty"`

	CostByModel    map[string]float64               `json:"cost_by_model"`
	CostStatistics monitoring.CostStatistics        `json:"cost_statistics"`
	TokenUsage     monitoring.TokenUsage            `json:"token_usage"`
	TokensByModel  map[string]monitoring.TokenUsage `json:"tokens_by_model"`
	CostRecords    []monitoring.CostRecord          `json:"cost_records"`

	AddonStats map[string]map[string]any `json:"addon_stats,omitempty"`
	Metadata   map[string]any            `json:"metadata,omitempty"`
}

// Export snapshots the session.
func (s *Session) Export() SessionExport {
	return SessionExport{
		SchemaVersion:   ExportSchemaVersion,
		SessionID:       s.id,
		Provider:        s.provider.Name(),
		Model:           s.model,
		CreatedAt:       s.createdAt,
		ExportedAt:      time.Now(),
		DryRun:          s.dryRun,
		RequestCount:    s.tracker.RequestCount(),
		TotalCostUSD:    s.tracker.TotalCost(),
		BudgetUSD:       s.budget,
		RemainingBudget: s.tracker.RemainingBudget(),
		CostByModel:     s.tracker.Breakdown(),
		CostStatistics:  s.tracker.Statistics(),
		TokenUsage:      s.tokens.TotalUsage(),
		TokensByModel:   s.tokens.UsageByModel(),
		CostRecords:     s.tracker.Records(),
		AddonStats:      s.pipe.Stats(),
		Metadata:        s.metadata,
	}
}

// ExportJSON writes the snapshot to path as indented JSON.
func (s *Session) ExportJSON(path string) error {
	data, err := json.MarshalIndent(s.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session export: %w", err)
	}
	return nil
}
