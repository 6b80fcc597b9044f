// Package session orchestrates chat calls against a provider: it runs the
// addon pipeline, enforces the budget, retries transient failures, and keeps
// cost and token accounting.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modelpipe/sessionkit/pkg/addons"
	"github.com/modelpipe/sessionkit/pkg/monitoring"
	"github.com/modelpipe/sessionkit/pkg/types"
)

// Response is the result of a single chat call.
type Response struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	RequestID    string  `json:"request_id"`
	FinishReason string  `json:"finish_reason,omitempty"`
	DryRun       bool    `json:"dry_run,omitempty"`
	CacheHit     bool    `json:"cache_hit,omitempty"`
}

// Session drives chat calls for one provider/model pair. It is safe for
// concurrent use; budget strictness under concurrency is opt-in via
// WithStrictBudget.
type Session struct {
	id       string
	provider types.Provider
	model    string

	budget         float64
	strictBudget   bool
	dryRun         bool
	maxRetries     int
	retryBaseDelay time.Duration
	metadata       map[string]any
	logger         zerolog.Logger
	sink           CostSink

	tracker *monitoring.CostTracker
	tokens  *monitoring.TokenMonitor
	alerts  *monitoring.AlertManager
	pipe    *addons.Manager

	createdAt    time.Time
	requestCount int64
}

// New creates a session for the given provider and model.
func New(provider types.Provider, model string, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, &types.ConfigurationError{Message: "provider is required"}
	}
	if model == "" {
		return nil, &types.ConfigurationError{Message: "model is required"}
	}

	s := &Session{
		id:             uuid.NewString(),
		provider:       provider,
		model:          model,
		maxRetries:     3,
		retryBaseDelay: time.Second,
		metadata:       make(map[string]any),
		logger:         zerolog.Nop(),
		tokens:         monitoring.NewTokenMonitor(),
		createdAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("session_id", s.id).Logger()
	s.tracker = monitoring.NewCostTracker(s.budget)
	s.alerts = monitoring.NewAlertManager(s.logger)
	s.pipe = addons.NewManager(s.logger)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Provider returns the underlying provider.
func (s *Session) Provider() types.Provider { return s.provider }

// Model returns the session's model name.
func (s *Session) Model() string { return s.model }

// Addons returns the addon pipeline for registration and inspection.
func (s *Session) Addons() *addons.Manager { return s.pipe }

// AddAddon appends an addon to the pipeline.
func (s *Session) AddAddon(a addons.Addon) { s.pipe.Register(a) }

// SetAlert registers a budget alert at a fractional threshold in [0, 1].
func (s *Session) SetAlert(threshold float64, cb monitoring.AlertCallback) error {
	return s.alerts.AddAlert(threshold, cb)
}

// TotalCost returns recorded session spend in USD.
func (s *Session) TotalCost() float64 { return s.tracker.TotalCost() }

// RemainingBudget returns remaining budget in USD (0 without a budget).
func (s *Session) RemainingBudget() float64 { return s.tracker.RemainingBudget() }

// Chat sends one prompt and returns the orchestrated response.
func (s *Session) Chat(ctx context.Context, prompt string, opts ...ChatOption) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings := defaultChatSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	requestID := fmt.Sprintf("%s_%d", s.id, atomic.AddInt64(&s.requestCount, 1))
	rc := addons.NewContext(requestID, prompt, s.model, s.provider.Name())
	rc.StartTime = time.Now()
	// Session metadata first, so call-site keys win on collision.
	for k, v := range s.metadata {
		rc.Metadata[k] = v
	}
	for k, v := range settings.metadata {
		rc.Metadata[k] = v
	}

	logger := s.logger.With().Str("request_id", requestID).Logger()

	if s.dryRun {
		return s.dryRunResponse(ctx, rc, settings, logger)
	}

	if content, final := s.pipe.ExecutePreRequest(ctx, rc); final {
		return s.finishShortCircuit(ctx, rc, content, logger)
	}

	var reservation *monitoring.Reservation
	if !settings.skipBudgetCheck {
		// Budget gate on the prompt as rewritten by the pipeline.
		estimate, err := s.provider.EstimateCost(ctx, rc.Prompt, s.model, settings.maxTokens)
		if err != nil {
			logger.Warn().Err(err).Msg("cost estimation failed, gating on zero")
		}

		if s.strictBudget {
			reservation, err = s.tracker.CheckAndReserve(estimate.TotalCost)
		} else {
			err = s.tracker.CheckBudgetAvailable(estimate.TotalCost)
		}
		if err != nil {
			// Addons observe the rejection; budget errors are never retried.
			rc.Err = err
			s.pipe.ExecuteOnError(ctx, err, rc)
			logger.Warn().Err(err).Msg("request rejected by budget")
			return nil, err
		}
	}

	resp, err := s.callWithRetries(ctx, rc, settings, logger)
	if err != nil {
		reservation.Release()
		return nil, err
	}

	rc.Response = resp
	rc.EndTime = time.Now()
	resp = s.pipe.ExecutePostRequest(ctx, resp, rc)

	if rc.GetBool(addons.KeyValidationRetry) {
		resp, err = s.validationRerun(ctx, rc, settings, resp, logger)
		if err != nil {
			reservation.Release()
			return nil, err
		}
	}

	cost := s.provider.CalculateCost(resp.InputTokens, resp.OutputTokens, resp.Model)
	rec := monitoring.CostRecord{
		Timestamp:    time.Now(),
		Model:        resp.Model,
		Provider:     s.provider.Name(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		RequestID:    requestID,
	}
	if reservation != nil {
		reservation.Commit(rec)
	} else {
		s.tracker.RecordCost(rec)
	}
	s.recordUsage(ctx, rec, logger)

	logger.Info().
		Float64("cost_usd", cost).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Int("retries", rc.GetInt(addons.KeyRetryCount)).
		Msg("chat completed")

	return &Response{
		Content:      resp.Content,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		RequestID:    requestID,
		FinishReason: resp.FinishReason,
	}, nil
}

// callWithRetries runs the provider call inside the bounded retry loop. The
// on-error pipeline votes on each failure; the loop also enforces the
// session's hard retry ceiling and honors context cancellation during waits.
func (s *Session) callWithRetries(ctx context.Context, rc *addons.Context, settings chatSettings, logger zerolog.Logger) (*types.ChatResponse, error) {
	req := s.buildRequest(rc.Prompt, settings)

	for attempt := 0; ; attempt++ {
		resp, err := s.provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		rc.Err = err

		var berr *types.BudgetExceededError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &berr) {
			return nil, err
		}

		retry := s.pipe.ExecuteOnError(ctx, err, rc)
		if !retry || attempt >= s.maxRetries {
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("chat failed")
			return nil, err
		}

		delay, ok := rc.Custom[addons.KeyRetryDelay].(time.Duration)
		if !ok || delay <= 0 {
			delay = s.retryBaseDelay * (1 << uint(attempt))
		}
		logger.Warn().Err(err).Dur("delay", delay).Int("attempt", attempt+1).Msg("retrying chat")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// validationRerun re-calls the provider once when a validator requested it.
// The rerun response passes through the post-request pipeline again.
func (s *Session) validationRerun(ctx context.Context, rc *addons.Context, settings chatSettings, fallback *types.ChatResponse, logger zerolog.Logger) (*types.ChatResponse, error) {
	delete(rc.Custom, addons.KeyValidationRetry)
	logger.Warn().Msg("validation requested rerun")

	resp, err := s.callWithRetries(ctx, rc, settings, logger)
	if err != nil {
		return nil, err
	}
	rc.Response = resp
	resp = s.pipe.ExecutePostRequest(ctx, resp, rc)
	// A second validation failure stands; no further reruns.
	delete(rc.Custom, addons.KeyValidationRetry)
	if resp == nil {
		return fallback, nil
	}
	return resp, nil
}

// finishShortCircuit completes a call answered by the pipeline (cache hit or
// dry-run addon). No provider call happened, so cost is zero, but the call is
// still accounted for.
func (s *Session) finishShortCircuit(ctx context.Context, rc *addons.Context, content string, logger zerolog.Logger) (*Response, error) {
	rc.EndTime = time.Now()

	inputTokens, err := s.provider.CountTokens(ctx, rc.Prompt, s.model)
	if err != nil {
		inputTokens = 0
	}
	resp := &types.ChatResponse{
		Content:     content,
		Model:       s.model,
		InputTokens: inputTokens,
	}
	rc.Response = resp
	resp = s.pipe.ExecutePostRequest(ctx, resp, rc)

	rec := monitoring.CostRecord{
		Timestamp:   time.Now(),
		Model:       s.model,
		Provider:    s.provider.Name(),
		InputTokens: resp.InputTokens,
		RequestID:   rc.RequestID,
	}
	s.tracker.RecordCost(rec)
	s.recordUsage(ctx, rec, logger)

	logger.Info().Bool("cache_hit", rc.GetBool(addons.KeyCacheHit)).Msg("chat answered by pipeline")

	return &Response{
		Content:     resp.Content,
		Model:       s.model,
		InputTokens: resp.InputTokens,
		RequestID:   rc.RequestID,
		DryRun:      rc.GetBool(addons.KeyDryRun),
		CacheHit:    rc.GetBool(addons.KeyCacheHit),
	}, nil
}

// dryRunResponse synthesizes a response for session-level dry-run mode.
// Estimated figures are recorded so budget rehearsals see realistic totals.
func (s *Session) dryRunResponse(ctx context.Context, rc *addons.Context, settings chatSettings, logger zerolog.Logger) (*Response, error) {
	rc.Custom[addons.KeyDryRun] = true

	inputTokens, err := s.provider.CountTokens(ctx, rc.Prompt, s.model)
	if err != nil {
		inputTokens = 0
	}
	// Without a max_tokens cap, assume a 100-token reply so the rehearsal
	// still produces a nonzero output estimate.
	outputTokens := settings.maxTokens
	if outputTokens <= 0 {
		outputTokens = 100
	}
	estimate, err := s.provider.EstimateCost(ctx, rc.Prompt, s.model, outputTokens)
	if err != nil {
		logger.Warn().Err(err).Msg("dry-run cost estimation failed")
	}

	preview := rc.Prompt
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	rc.EndTime = time.Now()

	rec := monitoring.CostRecord{
		Timestamp:    time.Now(),
		Model:        s.model,
		Provider:     s.provider.Name(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      estimate.TotalCost,
		RequestID:    rc.RequestID,
	}
	s.tracker.RecordCost(rec)
	s.recordUsage(ctx, rec, logger)

	logger.Info().Float64("estimated_cost", estimate.TotalCost).Msg("dry-run chat")

	return &Response{
		Content:      fmt.Sprintf("[DRY RUN] Would have sent: %s", preview),
		Model:        s.model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      estimate.TotalCost,
		RequestID:    rc.RequestID,
		DryRun:       true,
	}, nil
}

// recordUsage updates token totals, mirrors the record to the sink, and
// checks alerts. Sink failures are logged only.
func (s *Session) recordUsage(ctx context.Context, rec monitoring.CostRecord, logger zerolog.Logger) {
	s.tokens.RecordUsage(rec.Model, rec.InputTokens, rec.OutputTokens)
	if s.sink != nil {
		if err := s.sink.Append(ctx, s.id, rec); err != nil {
			logger.Warn().Err(err).Msg("usage sink append failed")
		}
	}
	if s.budget > 0 {
		s.alerts.CheckAlerts(s.tracker.TotalCost(), s.budget)
	}
}

func (s *Session) buildRequest(prompt string, settings chatSettings) types.ChatRequest {
	var messages []types.ChatMessage
	if settings.systemMessage != "" {
		messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: settings.systemMessage})
	}
	messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: prompt})
	return types.ChatRequest{
		Messages:    messages,
		Model:       s.model,
		Temperature: settings.temperature,
		MaxTokens:   settings.maxTokens,
		Metadata:    settings.metadata,
		Extra:       settings.extra,
	}
}
