package addons

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// Manager runs an ordered list of addons through the three lifecycle hooks.
// Registration order is execution order for pre-request and post-request;
// on-error also runs in registration order and ORs the votes.
//
// Hook failures never abort the pipeline. They are logged, wrapped as
// AddonError in the log entry, and appended to the request context's
// addon_errors list; the remaining addons still run.
type Manager struct {
	mu     sync.RWMutex
	addons []Addon
	logger zerolog.Logger
}

// NewManager creates an empty pipeline.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "addons").Logger()}
}

// Register appends an addon to the end of the pipeline.
func (m *Manager) Register(a Addon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addons = append(m.addons, a)
	m.logger.Debug().Str("addon", a.Name()).Int("position", len(m.addons)-1).Msg("addon registered")
}

// Unregister removes the first addon with the given name and reports whether
// one was found.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.addons {
		if a.Name() == name {
			m.addons = append(m.addons[:i], m.addons[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the first registered addon with the given name.
func (m *Manager) Get(name string) (Addon, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.addons {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// List returns the registered addons in execution order.
func (m *Manager) List() []Addon {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Addon, len(m.addons))
	copy(out, m.addons)
	return out
}

// Len returns the number of registered addons.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.addons)
}

// Stats collects counters from every addon that reports them, keyed by
// addon name.
func (m *Manager) Stats() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, a := range m.List() {
		if r, ok := a.(StatsReporter); ok {
			out[a.Name()] = r.Stats()
		}
	}
	return out
}

// ExecutePreRequest runs pre-request hooks in order. A Continue outcome
// rewrites rc.Prompt so later addons see the new text; a Final outcome stops
// iteration and returns the supplied content with ok=true. Disabled addons
// are skipped; failing hooks are recorded and skipped.
func (m *Manager) ExecutePreRequest(ctx context.Context, rc *Context) (finalContent string, final bool) {
	for _, a := range m.List() {
		if !a.Enabled() {
			continue
		}
		outcome, err := a.PreRequest(ctx, rc.Prompt, rc)
		if err != nil {
			m.recordFailure(rc, a.Name(), "pre_request", err)
			continue
		}
		if content, ok := outcome.Final(); ok {
			m.logger.Debug().
				Str("request_id", rc.RequestID).
				Str("addon", a.Name()).
				Msg("pre-request short-circuit")
			return content, true
		}
		if prompt, ok := outcome.ModifiedPrompt(); ok {
			rc.Prompt = prompt
		}
	}
	return "", false
}

// ExecutePostRequest runs post-request hooks in order, threading the response
// through each. A hook returning a nil response without error keeps the
// previous response.
func (m *Manager) ExecutePostRequest(ctx context.Context, resp *types.ChatResponse, rc *Context) *types.ChatResponse {
	current := resp
	for _, a := range m.List() {
		if !a.Enabled() {
			continue
		}
		next, err := a.PostRequest(ctx, current, rc)
		if err != nil {
			m.recordFailure(rc, a.Name(), "post_request", err)
			continue
		}
		if next != nil {
			current = next
		}
	}
	return current
}

// ExecuteOnError runs on-error hooks in order and reports whether any addon
// voted to retry. All hooks run even after a retry vote so each addon sees
// every failure.
func (m *Manager) ExecuteOnError(ctx context.Context, cause error, rc *Context) bool {
	retry := false
	for _, a := range m.List() {
		if !a.Enabled() {
			continue
		}
		vote, err := a.OnError(ctx, cause, rc)
		if err != nil {
			m.recordFailure(rc, a.Name(), "on_error", err)
			continue
		}
		if vote {
			retry = true
		}
	}
	return retry
}

func (m *Manager) recordFailure(rc *Context, addon, hook string, err error) {
	werr := &types.AddonError{Addon: addon, Hook: hook, Err: err}
	m.logger.Warn().
		Str("request_id", rc.RequestID).
		Str("addon", addon).
		Str("hook", hook).
		Err(werr).
		Msg("addon hook failed")
	rc.recordHookError(addon, hook, err)
}
