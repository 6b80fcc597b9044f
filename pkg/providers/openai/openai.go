// Package openai implements the Provider interface against OpenAI-compatible
// chat completion APIs. Any endpoint speaking the /chat/completions wire
// format works by overriding BaseURL.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"

	"github.com/modelpipe/sessionkit/internal/httpclient"
	"github.com/modelpipe/sessionkit/internal/tokenizer"
	"github.com/modelpipe/sessionkit/pkg/types"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures the provider.
type Config struct {
	// APIKey authenticates requests. Ignored when TokenSource is set.
	APIKey string

	// TokenSource supplies OAuth bearer tokens instead of a static key,
	// for gateways fronting the API with short-lived credentials.
	TokenSource oauth2.TokenSource

	// BaseURL overrides the API endpoint (default api.openai.com/v1).
	BaseURL string

	// Timeout bounds each HTTP request (default 120s; completions are slow).
	Timeout time.Duration

	// MaxRetries bounds transport-level retries inside the HTTP client.
	MaxRetries int
}

// Provider talks to an OpenAI-compatible API.
type Provider struct {
	config  Config
	client  *httpclient.Client
	counter *tokenizer.Counter
}

// New creates a provider.
func New(config Config) (*Provider, error) {
	if config.APIKey == "" && config.TokenSource == nil {
		return nil, &types.ConfigurationError{Message: "openai: api key or token source is required"}
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	auth := func(ctx context.Context) (string, error) {
		if config.TokenSource != nil {
			tok, err := config.TokenSource.Token()
			if err != nil {
				return "", fmt.Errorf("fetch oauth token: %w", err)
			}
			return "Bearer " + tok.AccessToken, nil
		}
		return "Bearer " + config.APIKey, nil
	}

	return &Provider{
		config: config,
		client: httpclient.New(httpclient.Config{
			Timeout:       config.Timeout,
			MaxRetries:    config.MaxRetries,
			Authorization: auth,
		}),
		counter: tokenizer.NewCounter(),
	}, nil
}

// Name implements types.Provider.
func (p *Provider) Name() string { return "openai" }

// ValidateConnection implements types.Provider by listing models.
func (p *Provider) ValidateConnection(ctx context.Context) error {
	raw, status, err := p.client.GetJSON(ctx, p.config.BaseURL+"/models")
	if err != nil {
		return types.NewConnectionError("openai", err.Error())
	}
	if status != http.StatusOK {
		return p.apiError(status, raw)
	}
	return nil
}

// Chat implements types.Provider.
func (p *Provider) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	body, err := p.buildBody(req)
	if err != nil {
		return nil, err
	}

	raw, status, err := p.client.PostJSON(ctx, p.config.BaseURL+"/chat/completions", json.RawMessage(body))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewConnectionError("openai", err.Error())
	}
	if status != http.StatusOK {
		return nil, p.apiError(status, raw)
	}

	parsed := gjson.ParseBytes(raw)
	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return nil, types.NewProviderError("openai", types.ErrCodeUnknown, "response has no message content")
	}

	resp := &types.ChatResponse{
		Content:      content.String(),
		Model:        parsed.Get("model").String(),
		InputTokens:  int(parsed.Get("usage.prompt_tokens").Int()),
		OutputTokens: int(parsed.Get("usage.completion_tokens").Int()),
		FinishReason: parsed.Get("choices.0.finish_reason").String(),
		Raw:          json.RawMessage(raw),
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

// buildBody serializes the request and splices Extra parameters in verbatim,
// so provider-specific knobs need no struct fields here.
func (p *Provider) buildBody(req types.ChatRequest) ([]byte, error) {
	payload := struct {
		Model       string              `json:"model"`
		Messages    []types.ChatMessage `json:"messages"`
		Temperature float64             `json:"temperature,omitempty"`
		MaxTokens   int                 `json:"max_tokens,omitempty"`
	}{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	for key, value := range req.Extra {
		body, err = sjson.SetBytes(body, key, value)
		if err != nil {
			return nil, fmt.Errorf("set extra parameter %q: %w", key, err)
		}
	}
	return body, nil
}

func (p *Provider) apiError(status int, raw []byte) *types.ProviderError {
	message := gjson.GetBytes(raw, "error.message").String()
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}
	return &types.ProviderError{
		Provider:   "openai",
		Code:       types.ClassifyHTTPStatus(status),
		Message:    message,
		StatusCode: status,
	}
}

// CountTokens implements types.Provider.
func (p *Provider) CountTokens(ctx context.Context, text, model string) (int, error) {
	return p.counter.Count(text, model), nil
}

// EstimateCost implements types.Provider. Output cost assumes the response
// uses all of maxTokens; with maxTokens <= 0 only input cost is estimated.
func (p *Provider) EstimateCost(ctx context.Context, prompt, model string, maxTokens int) (types.CostEstimate, error) {
	inputTokens := p.counter.Count(prompt, model)
	pricing := pricingFor(model)

	est := types.CostEstimate{
		InputCost:   float64(inputTokens) * pricing.inputPer1M / 1e6,
		InputTokens: inputTokens,
	}
	if maxTokens > 0 {
		est.OutputCost = float64(maxTokens) * pricing.outputPer1M / 1e6
	}
	est.TotalCost = est.InputCost + est.OutputCost
	return est, nil
}

// CalculateCost implements types.Provider. Unknown models cost 0.
func (p *Provider) CalculateCost(inputTokens, outputTokens int, model string) float64 {
	pricing := pricingFor(model)
	return float64(inputTokens)*pricing.inputPer1M/1e6 + float64(outputTokens)*pricing.outputPer1M/1e6
}

// ListModels implements types.ModelLister.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	raw, status, err := p.client.GetJSON(ctx, p.config.BaseURL+"/models")
	if err != nil {
		return nil, types.NewConnectionError("openai", err.Error())
	}
	if status != http.StatusOK {
		return nil, p.apiError(status, raw)
	}

	var models []types.Model
	for _, entry := range gjson.GetBytes(raw, "data.#.id").Array() {
		name := entry.String()
		pricing := pricingFor(name)
		models = append(models, types.Model{
			Name:             name,
			ContextWindow:    pricing.contextWindow,
			InputPricePer1M:  pricing.inputPer1M,
			OutputPricePer1M: pricing.outputPer1M,
		})
	}
	return models, nil
}

// GetModelInfo implements types.ModelLister.
func (p *Provider) GetModelInfo(ctx context.Context, name string) (*types.Model, error) {
	models, err := p.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].Name == name {
			return &models[i], nil
		}
	}
	return nil, types.NewModelNotFoundError("openai", name)
}
