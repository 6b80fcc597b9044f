package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpipe/sessionkit/internal/testutil"
	"github.com/modelpipe/sessionkit/pkg/addons"
	"github.com/modelpipe/sessionkit/pkg/types"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil, "gpt-4o")
	require.Error(t, err)

	_, err = New(testutil.NewMockProvider(), "")
	require.Error(t, err)

	s, err := New(testutil.NewMockProvider(), "gpt-4o")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "gpt-4o", s.Model())
}

func TestChatSuccess(t *testing.T) {
	p := testutil.NewMockProvider()
	p.SetContent("hello back")
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)

	resp, err := s.Chat(context.Background(), "hello", WithSystemMessage("be brief"))
	require.NoError(t, err)

	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.True(t, strings.HasPrefix(resp.RequestID, s.ID()+"_"))
	assert.Greater(t, resp.InputTokens, 0)
	assert.Greater(t, resp.OutputTokens, 0)
	assert.Greater(t, resp.CostUSD, 0.0)
	assert.Equal(t, resp.CostUSD, s.TotalCost())
}

func TestBudgetAllowsTwoOfThree(t *testing.T) {
	p := testutil.NewFixedCostProvider(0.04)
	s, err := New(p, "gpt-4o", WithBudget(0.10))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Chat(ctx, "one")
	require.NoError(t, err)
	_, err = s.Chat(ctx, "two")
	require.NoError(t, err)

	_, err = s.Chat(ctx, "three")
	var berr *types.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.InDelta(t, 0.08, berr.CurrentCost, 1e-9)
	assert.InDelta(t, 0.12, berr.ProjectedCost, 1e-9)

	// The rejected call spent nothing and never reached the provider.
	assert.InDelta(t, 0.08, s.TotalCost(), 1e-9)
	assert.Equal(t, 2, p.ChatCalls())
}

func TestBudgetErrorsNeverRetried(t *testing.T) {
	p := testutil.NewFixedCostProvider(1.0)
	s, err := New(p, "gpt-4o", WithBudget(0.5), WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err)
	s.AddAddon(addons.NewRetryAddon(5, time.Millisecond, time.Millisecond))

	_, err = s.Chat(context.Background(), "too expensive")
	var berr *types.BudgetExceededError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 0, p.ChatCalls())
}

func TestRetryLoopRecoversTransientFailures(t *testing.T) {
	p := testutil.NewMockProvider()
	p.QueueChatErrors(
		types.NewConnectionError("mock", "reset"),
		types.NewRateLimitError("mock", time.Millisecond),
	)
	s, err := New(p, "gpt-4o", WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err)
	s.AddAddon(addons.NewRetryAddon(3, time.Millisecond, 5*time.Millisecond))

	resp, err := s.Chat(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, 3, p.ChatCalls())
}

func TestRetryExhaustionPropagatesError(t *testing.T) {
	p := testutil.NewMockProvider()
	p.SetChatError(types.NewConnectionError("mock", "down"))
	s, err := New(p, "gpt-4o", WithMaxRetries(2), WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err)
	s.AddAddon(addons.NewRetryAddon(10, time.Millisecond, 5*time.Millisecond))

	_, err = s.Chat(context.Background(), "doomed")
	var perr *types.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrCodeConnection, perr.Code)
	assert.Equal(t, 3, p.ChatCalls())
}

func TestNoRetryWithoutRetryAddon(t *testing.T) {
	p := testutil.NewMockProvider()
	p.SetChatError(types.NewConnectionError("mock", "down"))
	s, err := New(p, "gpt-4o", WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = s.Chat(context.Background(), "fails once")
	require.Error(t, err)
	assert.Equal(t, 1, p.ChatCalls())
}

func TestCacheShortCircuit(t *testing.T) {
	p := testutil.NewMockProvider()
	p.SetContent("computed answer")
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)
	s.AddAddon(addons.NewCacheAddon(10, 0))
	ctx := context.Background()

	first, err := s.Chat(ctx, "what is go")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Greater(t, first.CostUSD, 0.0)

	second, err := s.Chat(ctx, "what is go")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "computed answer", second.Content)
	assert.Equal(t, 0.0, second.CostUSD)
	assert.Equal(t, 1, p.ChatCalls())

	// Both logical calls are accounted for.
	assert.Equal(t, 2, s.Export().RequestCount)
}

func TestMinimizerBeforeCacheSharesEntries(t *testing.T) {
	p := testutil.NewMockProvider()
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)
	s.AddAddon(addons.NewWhitespaceMinimizerAddon(2))
	s.AddAddon(addons.NewCacheAddon(10, 0))
	ctx := context.Background()

	_, err = s.Chat(ctx, "hello    world")
	require.NoError(t, err)
	resp, err := s.Chat(ctx, "hello world")
	require.NoError(t, err)

	// Different raw prompts, same minimized key.
	assert.True(t, resp.CacheHit)
	require.Equal(t, 1, p.ChatCalls())
	assert.Equal(t, "hello world", p.Prompts()[0])
}

func TestDryRunAddonShortCircuits(t *testing.T) {
	p := testutil.NewMockProvider()
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)
	s.AddAddon(addons.NewDryRunAddon("stub"))

	resp, err := s.Chat(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.Equal(t, "stub", resp.Content)
	assert.Equal(t, 0.0, resp.CostUSD)
	assert.Equal(t, 0, p.ChatCalls())
}

func TestSessionDryRunMode(t *testing.T) {
	p := testutil.NewFixedCostProvider(0.02)
	s, err := New(p, "gpt-4o", WithDryRun(), WithBudget(1.0))
	require.NoError(t, err)

	resp, err := s.Chat(context.Background(), "rehearse this", WithMaxTokens(100))
	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.Contains(t, resp.Content, "[DRY RUN]")
	assert.Contains(t, resp.Content, "rehearse this")
	assert.InDelta(t, 0.02, resp.CostUSD, 1e-9)
	assert.Equal(t, 0, p.ChatCalls())
	assert.InDelta(t, 0.02, s.TotalCost(), 1e-9)
}

func TestAlertsFireOnThresholdCrossing(t *testing.T) {
	p := testutil.NewFixedCostProvider(0.03)
	s, err := New(p, "gpt-4o", WithBudget(0.10))
	require.NoError(t, err)

	var fired int32
	require.NoError(t, s.SetAlert(0.5, func(cost, budget float64) {
		atomic.AddInt32(&fired, 1)
	}))
	ctx := context.Background()

	_, err = s.Chat(ctx, "one") // 0.03, 30%
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	_, err = s.Chat(ctx, "two") // 0.06, 60%
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	_, err = s.Chat(ctx, "three") // stays above threshold, no refire
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestValidationAutoRetryRerunsOnce(t *testing.T) {
	p := testutil.NewMockProvider()
	var calls int32
	p.SetChatFunc(func(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &types.ChatResponse{Model: req.Model, Content: ""}, nil
		}
		return &types.ChatResponse{Model: req.Model, Content: "better", InputTokens: 4, OutputTokens: 2}, nil
	})
	s, err := New(p, "gpt-4o", WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err)
	s.AddAddon(addons.NewValidatorAddon(addons.ValidationAutoRetry, addons.NonEmpty()))

	resp, err := s.Chat(context.Background(), "try hard")
	require.NoError(t, err)
	assert.Equal(t, "better", resp.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChatContextCancelled(t *testing.T) {
	p := testutil.NewMockProvider()
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Chat(ctx, "never sent")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.ChatCalls())
}

func TestBatchGeneratePreservesOrderAndIsolatesFailures(t *testing.T) {
	p := testutil.NewMockProvider()
	p.SetChatFunc(func(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		if prompt == "bad" {
			return nil, types.NewProviderError("mock", types.ErrCodeInvalid, "rejected")
		}
		return &types.ChatResponse{Model: req.Model, Content: "ok:" + prompt, InputTokens: 1, OutputTokens: 1}, nil
	})
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)

	prompts := []string{"a", "bad", "c", "d"}
	results := s.BatchGenerate(context.Background(), prompts, true, 2)
	require.Len(t, results, 4)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.True(t, results[0].Success)
	assert.Equal(t, "ok:a", results[0].Response.Content)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "rejected")
	assert.True(t, results[2].Success)
	assert.True(t, results[3].Success)
}

func TestBatchGenerateRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	p := testutil.NewMockProvider()
	p.SetChatFunc(func(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &types.ChatResponse{Model: req.Model, Content: "ok", InputTokens: 1, OutputTokens: 1}, nil
	})
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)

	prompts := make([]string, 10)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("p%d", i)
	}
	results := s.BatchGenerate(context.Background(), prompts, true, 3)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestStrictBudgetHoldsUnderConcurrency(t *testing.T) {
	p := testutil.NewFixedCostProvider(0.04)
	s, err := New(p, "gpt-4o", WithBudget(0.10), WithStrictBudget())
	require.NoError(t, err)

	prompts := make([]string, 8)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("p%d", i)
	}
	results := s.BatchGenerate(context.Background(), prompts, true, 8)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			var berr *types.BudgetExceededError
			assert.True(t, errors.As(r.Err, &berr))
		}
	}
	assert.Equal(t, 2, succeeded)
	assert.InDelta(t, 0.08, s.TotalCost(), 1e-9)
}

func TestSessionMetadataReachesRequestContext(t *testing.T) {
	p := testutil.NewMockProvider()
	s, err := New(p, "gpt-4o", WithMetadata(map[string]any{"team": "research", "env": "dev"}))
	require.NoError(t, err)

	capture := &metadataCaptureAddon{}
	s.AddAddon(capture)

	_, err = s.Chat(context.Background(), "hello",
		WithRequestMetadata(map[string]any{"env": "prod"}))
	require.NoError(t, err)

	// Session metadata is visible to addons; call-site keys override.
	assert.Equal(t, "research", capture.seen["team"])
	assert.Equal(t, "prod", capture.seen["env"])
}

func TestBatchWithoutPerItemBudgetCheckOvershoots(t *testing.T) {
	p := testutil.NewFixedCostProvider(0.04)
	s, err := New(p, "gpt-4o", WithBudget(0.10))
	require.NoError(t, err)

	prompts := []string{"a", "b", "c", "d"}
	results := s.BatchGenerate(context.Background(), prompts, false, 1)

	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Equal(t, 4, p.ChatCalls())
	// Costs are still recorded, so the session ends up over budget.
	assert.InDelta(t, 0.16, s.TotalCost(), 1e-9)
}

func TestSessionDryRunDefaultsOutputEstimate(t *testing.T) {
	p := testutil.NewMockProvider()
	s, err := New(p, "gpt-4o", WithDryRun())
	require.NoError(t, err)

	resp, err := s.Chat(context.Background(), "rehearse without a cap")
	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.Equal(t, 100, resp.OutputTokens)
	assert.Greater(t, resp.CostUSD, 0.0)
}

func TestExportSnapshot(t *testing.T) {
	p := testutil.NewFixedCostProvider(0.01)
	s, err := New(p, "gpt-4o", WithBudget(1.0), WithMetadata(map[string]any{"team": "research"}))
	require.NoError(t, err)
	s.AddAddon(addons.NewCacheAddon(10, 0))
	ctx := context.Background()

	_, err = s.Chat(ctx, "one")
	require.NoError(t, err)
	_, err = s.Chat(ctx, "one") // cache hit
	require.NoError(t, err)

	exp := s.Export()
	assert.Equal(t, ExportSchemaVersion, exp.SchemaVersion)
	assert.Equal(t, s.ID(), exp.SessionID)
	assert.Equal(t, "mock", exp.Provider)
	assert.Equal(t, 2, exp.RequestCount)
	assert.InDelta(t, 0.01, exp.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.99, exp.RemainingBudget, 1e-9)
	assert.Equal(t, "research", exp.Metadata["team"])
	require.Contains(t, exp.AddonStats, "cache")
	assert.Equal(t, int64(1), exp.AddonStats["cache"]["hits"])

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, s.ExportJSON(path))
}

func TestAddonErrorsDoNotFailRequests(t *testing.T) {
	p := testutil.NewMockProvider()
	s, err := New(p, "gpt-4o")
	require.NoError(t, err)
	s.AddAddon(&explodingAddon{})

	resp, err := s.Chat(context.Background(), "resilient")
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
}

type metadataCaptureAddon struct {
	addons.NopAddon
	seen map[string]any
}

func (c *metadataCaptureAddon) Name() string        { return "metadata-capture" }
func (c *metadataCaptureAddon) Description() string { return "snapshots request metadata" }

func (c *metadataCaptureAddon) PreRequest(ctx context.Context, prompt string, rc *addons.Context) (addons.PreRequestOutcome, error) {
	c.seen = make(map[string]any, len(rc.Metadata))
	for k, v := range rc.Metadata {
		c.seen[k] = v
	}
	return addons.Unchanged(), nil
}

type explodingAddon struct {
	addons.NopAddon
}

func (e *explodingAddon) Name() string        { return "exploding" }
func (e *explodingAddon) Description() string { return "fails every hook" }

func (e *explodingAddon) PreRequest(ctx context.Context, prompt string, rc *addons.Context) (addons.PreRequestOutcome, error) {
	return addons.Unchanged(), errors.New("pre boom")
}

func (e *explodingAddon) PostRequest(ctx context.Context, resp *types.ChatResponse, rc *addons.Context) (*types.ChatResponse, error) {
	return nil, errors.New("post boom")
}
