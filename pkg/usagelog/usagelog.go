// Package usagelog persists cost records to SQLite so spend survives process
// restarts. It is an optional mirror of the in-memory tracker: sessions write
// through it via the CostSink hook and reporting tools query it later.
package usagelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modelpipe/sessionkit/pkg/monitoring"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL,
	request_id     TEXT NOT NULL,
	recorded_at    TIMESTAMP NOT NULL,
	model          TEXT NOT NULL,
	provider       TEXT NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	cost_usd       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);
`

// Store is an append-only usage log backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the usage log at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage log: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores one cost record. It implements the session CostSink hook.
func (s *Store) Append(ctx context.Context, sessionID string, rec monitoring.CostRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(session_id, request_id, recorded_at, model, provider, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.RequestID, ts.UTC(), rec.Model, rec.Provider,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// Totals aggregates one session's persisted usage.
type Totals struct {
	Requests     int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// SessionTotals sums the persisted records for a session.
func (s *Store) SessionTotals(ctx context.Context, sessionID string) (Totals, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM usage_records WHERE session_id = ?`, sessionID)

	var t Totals
	if err := row.Scan(&t.Requests, &t.InputTokens, &t.OutputTokens, &t.CostUSD); err != nil {
		return Totals{}, fmt.Errorf("query session totals: %w", err)
	}
	return t, nil
}

// Records returns one session's persisted records in insertion order.
func (s *Store) Records(ctx context.Context, sessionID string) ([]monitoring.CostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, model, provider, input_tokens, output_tokens, cost_usd, request_id
		FROM usage_records WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []monitoring.CostRecord
	for rows.Next() {
		var rec monitoring.CostRecord
		if err := rows.Scan(&rec.Timestamp, &rec.Model, &rec.Provider,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.RequestID); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
