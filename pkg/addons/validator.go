package addons

import (
	"context"
	"sync"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// ValidationMode selects how the validator addon reacts to a failing response.
type ValidationMode string

const (
	// ValidationStrict surfaces the failure as a hook error; the response
	// still flows to the caller with validation_failed set in the context.
	ValidationStrict ValidationMode = "strict"

	// ValidationWarn records the failure and otherwise lets it pass.
	ValidationWarn ValidationMode = "warn"

	// ValidationAutoRetry asks the orchestrator to re-run the provider call
	// by setting validation_retry in the context.
	ValidationAutoRetry ValidationMode = "auto_retry"
)

// ResponseValidator checks one property of a response's content and returns
// an error describing the failure, or nil.
type ResponseValidator func(content string) error

// ValidatorAddon runs caller-supplied content checks after each response.
type ValidatorAddon struct {
	NopAddon

	mode       ValidationMode
	validators []ResponseValidator

	mu       sync.Mutex
	checked  int64
	failures int64
}

// NewValidatorAddon creates a validator with the given mode and checks.
func NewValidatorAddon(mode ValidationMode, validators ...ResponseValidator) *ValidatorAddon {
	if mode == "" {
		mode = ValidationWarn
	}
	return &ValidatorAddon{mode: mode, validators: validators}
}

func (v *ValidatorAddon) Name() string { return "validator" }

func (v *ValidatorAddon) Description() string {
	return "runs content checks against responses"
}

// AddValidator appends another check.
func (v *ValidatorAddon) AddValidator(fn ResponseValidator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validators = append(v.validators, fn)
}

// PostRequest applies every validator to the response content. All failures
// are collected into validation_errors before the mode decides the reaction.
func (v *ValidatorAddon) PostRequest(ctx context.Context, resp *types.ChatResponse, rc *Context) (*types.ChatResponse, error) {
	if resp == nil {
		return resp, nil
	}

	v.mu.Lock()
	checks := make([]ResponseValidator, len(v.validators))
	copy(checks, v.validators)
	v.checked++
	v.mu.Unlock()

	var msgs []string
	for _, check := range checks {
		if err := check(resp.Content); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return resp, nil
	}

	v.mu.Lock()
	v.failures++
	v.mu.Unlock()

	rc.Custom[KeyValidationFailed] = true
	rc.Custom[KeyValidationErrors] = msgs

	switch v.mode {
	case ValidationStrict:
		return resp, types.NewValidationError("response validation failed", msgs...)
	case ValidationAutoRetry:
		rc.Custom[KeyValidationRetry] = true
		return resp, nil
	default:
		return resp, nil
	}
}

// MinLength returns a validator requiring at least n characters of content.
func MinLength(n int) ResponseValidator {
	return func(content string) error {
		if len(content) < n {
			return types.NewValidationError("content shorter than minimum length")
		}
		return nil
	}
}

// NonEmpty returns a validator rejecting blank content.
func NonEmpty() ResponseValidator {
	return MinLength(1)
}

// Stats reports check and failure counters.
func (v *ValidatorAddon) Stats() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return map[string]any{
		"mode":     string(v.mode),
		"checked":  v.checked,
		"failures": v.failures,
	}
}
