// Package backend defines the interface to the agent process. The agent is
// an external black box: it accepts session-mutating commands and emits the
// chat event stream consumed by the session router. Implementations wrap a
// CLI subprocess or a local server; this package only fixes the contract.
package backend

import (
	"context"

	"github.com/agentdesk/agentdesk/pkg/types"
)

// SendOptions carries the per-send context the backend needs to run a turn.
type SendOptions struct {
	Model         string
	ExecutionMode types.ExecutionMode
	ThinkingLevel types.ThinkingLevel
	Attachments   []string
}

// Client is the command surface of the backend agent. All methods are
// asynchronous from the session state machine's point of view: they enqueue
// work and return; results arrive as chat events.
type Client interface {
	// Send starts a run for the session with the given user content.
	Send(ctx context.Context, sessionID string, content string, opts SendOptions) error

	// Cancel requests cooperative cancellation of the active run. The
	// backend may still deliver partial output before the cancelled event.
	Cancel(ctx context.Context, sessionID string) error

	// GenerateDigest produces a short recap of the session's last run.
	// Best-effort; used only for sessions finishing off screen.
	GenerateDigest(ctx context.Context, sessionID string, model string) (*types.Digest, error)
}
