// Package addons provides the middleware pipeline for chat requests. Addons
// hook into three lifecycle stages (pre-request, post-request, on-error) and
// communicate exclusively through the per-request Context's Custom map.
package addons

import (
	"time"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// Keys addons use in Context.Custom. Keys are addon-namespaced strings; no
// addon may assume another specific addon ran.
const (
	KeyAddonErrors      = "addon_errors"
	KeyCacheHit         = "cache_hit"
	KeyCacheKey         = "cache_key"
	KeyDryRun           = "dry_run"
	KeyRetryCount       = "retry_count"
	KeyRetryDelay       = "retry_delay"
	KeyRetryReason      = "retry_reason"
	KeyValidationFailed = "validation_failed"
	KeyValidationRetry  = "validation_retry"
	KeyValidationErrors = "validation_errors"
)

// Context is the mutable per-request scratch record threaded through the
// pipeline. One is created per logical chat call and discarded after the call
// returns; it is only ever touched from the goroutine driving that call.
type Context struct {
	RequestID string

	// Prompt is the text being processed. The pipeline rewrites it in place
	// as Continue outcomes thread through pre-request hooks.
	Prompt string

	// OriginalPrompt is the caller-supplied prompt, never modified.
	OriginalPrompt string

	Model    string
	Provider string
	Metadata map[string]any

	StartTime time.Time
	EndTime   time.Time

	// Err is set once if the provider call fails.
	Err error

	// Response is set once the provider reply is known.
	Response *types.ChatResponse

	// Custom is the sole side channel between addons and the orchestrator.
	Custom map[string]any
}

// NewContext creates a request context.
func NewContext(requestID, prompt, model, provider string) *Context {
	return &Context{
		RequestID:      requestID,
		Prompt:         prompt,
		OriginalPrompt: prompt,
		Model:          model,
		Provider:       provider,
		Metadata:       make(map[string]any),
		Custom:         make(map[string]any),
	}
}

// Duration returns how long the request took, or 0 if not finished.
func (c *Context) Duration() time.Duration {
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return 0
	}
	return c.EndTime.Sub(c.StartTime)
}

// GetBool reads a boolean from Custom, treating absence or other types as false.
func (c *Context) GetBool(key string) bool {
	v, _ := c.Custom[key].(bool)
	return v
}

// GetInt reads an integer from Custom, treating absence or other types as 0.
func (c *Context) GetInt(key string) int {
	v, _ := c.Custom[key].(int)
	return v
}

// GetString reads a string from Custom, treating absence or other types as "".
func (c *Context) GetString(key string) string {
	v, _ := c.Custom[key].(string)
	return v
}

// HookError is one entry in the addon_errors list.
type HookError struct {
	Addon string `json:"addon"`
	Hook  string `json:"hook"`
	Error string `json:"error"`
}

// recordHookError appends a structured entry to Custom["addon_errors"],
// creating the list on first use.
func (c *Context) recordHookError(addon, hook string, err error) {
	list, _ := c.Custom[KeyAddonErrors].([]HookError)
	c.Custom[KeyAddonErrors] = append(list, HookError{
		Addon: addon,
		Hook:  hook,
		Error: err.Error(),
	})
}

// HookErrors returns the addon errors recorded so far.
func (c *Context) HookErrors() []HookError {
	list, _ := c.Custom[KeyAddonErrors].([]HookError)
	return list
}
