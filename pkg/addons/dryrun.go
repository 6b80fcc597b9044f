package addons

import (
	"context"
	"fmt"
	"sync/atomic"
)

// DryRunAddon short-circuits every request with a canned response so flows
// can be exercised without provider calls or spend. The session layer checks
// the dry_run flag and skips budget enforcement and usage recording.
type DryRunAddon struct {
	NopAddon

	responseText string
	intercepted  int64
}

// NewDryRunAddon creates a dry-run addon. An empty responseText selects a
// default message that echoes a prompt preview.
func NewDryRunAddon(responseText string) *DryRunAddon {
	return &DryRunAddon{responseText: responseText}
}

func (d *DryRunAddon) Name() string { return "dry_run" }

func (d *DryRunAddon) Description() string {
	return "intercepts requests and returns canned responses without provider calls"
}

// PreRequest intercepts the request and returns the canned content.
func (d *DryRunAddon) PreRequest(ctx context.Context, prompt string, rc *Context) (PreRequestOutcome, error) {
	rc.Custom[KeyDryRun] = true
	atomic.AddInt64(&d.intercepted, 1)
	if d.responseText != "" {
		return Final(d.responseText), nil
	}
	preview := prompt
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	return Final(fmt.Sprintf("[DRY RUN] Would have sent: %s", preview)), nil
}

// Stats reports how many requests were intercepted.
func (d *DryRunAddon) Stats() map[string]any {
	return map[string]any{"intercepted": atomic.LoadInt64(&d.intercepted)}
}
