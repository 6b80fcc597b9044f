package usagelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpipe/sessionkit/pkg/monitoring"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndTotals(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	recs := []monitoring.CostRecord{
		{Model: "gpt-4o", Provider: "openai", InputTokens: 100, OutputTokens: 50, CostUSD: 0.01, RequestID: "s1_1"},
		{Model: "gpt-4o", Provider: "openai", InputTokens: 200, OutputTokens: 80, CostUSD: 0.02, RequestID: "s1_2"},
	}
	for _, rec := range recs {
		require.NoError(t, store.Append(ctx, "s1", rec))
	}
	require.NoError(t, store.Append(ctx, "s2", monitoring.CostRecord{
		Model: "gpt-4o-mini", Provider: "openai", InputTokens: 5, OutputTokens: 5, CostUSD: 0.001, RequestID: "s2_1",
	}))

	totals, err := store.SessionTotals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Requests)
	assert.Equal(t, 300, totals.InputTokens)
	assert.Equal(t, 130, totals.OutputTokens)
	assert.InDelta(t, 0.03, totals.CostUSD, 1e-9)

	empty, err := store.SessionTotals(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, Totals{}, empty)
}

func TestRecordsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, "s1", monitoring.CostRecord{
		Timestamp: ts, Model: "gpt-4o", Provider: "openai",
		InputTokens: 10, OutputTokens: 4, CostUSD: 0.002, RequestID: "s1_1",
	}))

	recs, err := store.Records(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "gpt-4o", recs[0].Model)
	assert.Equal(t, "s1_1", recs[0].RequestID)
	assert.Equal(t, 10, recs[0].InputTokens)
	assert.True(t, recs[0].Timestamp.Equal(ts))
}
