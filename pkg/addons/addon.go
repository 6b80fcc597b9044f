package addons

import (
	"context"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// PreRequestOutcome is the tagged result of a pre-request hook. It replaces
// the single string|null return channel: a hook either lets the request pass
// untouched, rewrites the prompt for the rest of the chain, or supplies the
// final response content and short-circuits the pipeline.
type PreRequestOutcome struct {
	kind  outcomeKind
	value string
}

type outcomeKind int

const (
	outcomeUnchanged outcomeKind = iota
	outcomeContinue
	outcomeFinal
)

// Unchanged lets the request continue with the current prompt.
func Unchanged() PreRequestOutcome {
	return PreRequestOutcome{kind: outcomeUnchanged}
}

// Continue rewrites the prompt; later addons and the provider see the new text.
func Continue(prompt string) PreRequestOutcome {
	return PreRequestOutcome{kind: outcomeContinue, value: prompt}
}

// Final supplies the response content and stops pre-request iteration.
func Final(content string) PreRequestOutcome {
	return PreRequestOutcome{kind: outcomeFinal, value: content}
}

// Final returns the final response content and true if this outcome
// short-circuits the pipeline.
func (o PreRequestOutcome) Final() (string, bool) {
	return o.value, o.kind == outcomeFinal
}

// ModifiedPrompt returns the rewritten prompt and true if the hook changed it.
func (o PreRequestOutcome) ModifiedPrompt() (string, bool) {
	return o.value, o.kind == outcomeContinue
}

// Addon is a configured, stateful middleware instance. Addon lifetime is the
// lifetime of the pipeline that holds it, not per-request, so implementations
// own their statistics and must guard them if requests run concurrently.
type Addon interface {
	// Name returns the addon identifier used in logs and error records.
	Name() string

	// Description returns a human-readable summary of what the addon does.
	Description() string

	// Enabled reports whether hooks should run. Checked on every hook
	// invocation, never cached.
	Enabled() bool

	// PreRequest runs before the provider call.
	PreRequest(ctx context.Context, prompt string, rc *Context) (PreRequestOutcome, error)

	// PostRequest runs after a successful call (including short-circuited
	// ones) and may transform, validate, or observe the response.
	PostRequest(ctx context.Context, resp *types.ChatResponse, rc *Context) (*types.ChatResponse, error)

	// OnError votes on whether a failed provider call should be retried.
	OnError(ctx context.Context, cause error, rc *Context) (bool, error)
}

// StatsReporter is an optional addon capability surfacing counters for
// session export.
type StatsReporter interface {
	Stats() map[string]any
}

// NopAddon provides no-op hook defaults and the enable/disable switch.
// Embed it and override only the hooks the addon cares about.
type NopAddon struct {
	disabled bool
}

// Enabled reports whether the addon is active.
func (a *NopAddon) Enabled() bool { return !a.disabled }

// Enable activates the addon.
func (a *NopAddon) Enable() { a.disabled = false }

// Disable deactivates the addon; its hooks are skipped while disabled.
func (a *NopAddon) Disable() { a.disabled = true }

// PreRequest lets the request continue unmodified.
func (a *NopAddon) PreRequest(ctx context.Context, prompt string, rc *Context) (PreRequestOutcome, error) {
	return Unchanged(), nil
}

// PostRequest returns the response unmodified.
func (a *NopAddon) PostRequest(ctx context.Context, resp *types.ChatResponse, rc *Context) (*types.ChatResponse, error) {
	return resp, nil
}

// OnError votes against retrying.
func (a *NopAddon) OnError(ctx context.Context, cause error, rc *Context) (bool, error) {
	return false, nil
}
