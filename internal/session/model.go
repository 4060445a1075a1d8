package session

import (
	"strings"

	"github.com/agentdesk/agentdesk/pkg/types"
)

// model is the authoritative in-memory state of one session. It is owned by
// the session's actor goroutine and never shared; everything the rest of the
// process sees goes through the cache as copies.
type model struct {
	meta  types.Session
	state types.SessionState

	// run holds streaming state for the active run, nil when no run is in
	// flight. Created on the sending event, consumed and cleared atomically
	// at termination.
	run *runState

	// pendingSend is staged by a local SendMessage and consumed by the next
	// run, so error/cancel handling can restore exactly what was sent.
	pendingSend *outbound

	// queue holds messages the user submitted while a run was active.
	queue []outbound

	pendingDenials []types.PendingDenial
	retry          *types.RetrySnapshot

	compacting     bool
	compactTrigger string
}

// outbound is a staged user send.
type outbound struct {
	content       string
	attachments   []string
	userMessageID string
}

// runState is the transient streaming state of one run. Append-only until
// termination snapshots and clears it.
type runState struct {
	content   strings.Builder
	blocks    []types.ContentBlock
	toolCalls []types.ToolCall

	// sent mirrors model.pendingSend when the run was started locally.
	sent *outbound
}

// runSnapshot is the immutable capture taken at run termination, before the
// transient state is cleared.
type runSnapshot struct {
	content   string
	blocks    []types.ContentBlock
	toolCalls []types.ToolCall
	sent      *outbound
}

// snapshot captures the run's accumulated state.
func (r *runState) snapshot() runSnapshot {
	return runSnapshot{
		content:   r.content.String(),
		blocks:    append([]types.ContentBlock(nil), r.blocks...),
		toolCalls: append([]types.ToolCall(nil), r.toolCalls...),
		sent:      r.sent,
	}
}

// toolCall returns a pointer into the run's tool call list, or nil.
func (r *runState) toolCall(id string) *types.ToolCall {
	for i := range r.toolCalls {
		if r.toolCalls[i].ID == id {
			return &r.toolCalls[i]
		}
	}
	return nil
}

// unansweredBlocking classifies the blocking condition of a finished run.
// Questions take precedence over plans: a session waiting on both is
// reported as waiting on the question.
func (s runSnapshot) unansweredBlocking() types.WaitingType {
	hasPlan := false
	for i := range s.toolCalls {
		tc := &s.toolCalls[i]
		if !tc.Blocking() || tc.Answered {
			continue
		}
		if tc.Name == types.ToolAskUserQuestion {
			return types.WaitingQuestion
		}
		hasPlan = true
	}
	if hasPlan {
		return types.WaitingPlan
	}
	return types.WaitingNone
}

// pendingPlanCall returns the unanswered plan tool call, if any.
func (s runSnapshot) pendingPlanCall() *types.ToolCall {
	for i := range s.toolCalls {
		tc := &s.toolCalls[i]
		if tc.Name == types.ToolExitPlanMode && !tc.Answered {
			return tc
		}
	}
	return nil
}

// meaningful reports whether the run produced content worth keeping across a
// cancellation: any tool call, or accumulated text above the threshold.
func (s runSnapshot) meaningful(minChars int) bool {
	if len(s.toolCalls) > 0 {
		return true
	}
	return len(s.content) > minChars
}

// removeDenial drops a pending denial by tool use id, reporting whether one
// was present.
func (m *model) removeDenial(toolUseID string) bool {
	for i, d := range m.pendingDenials {
		if d.ToolUseID == toolUseID {
			m.pendingDenials = append(m.pendingDenials[:i], m.pendingDenials[i+1:]...)
			return true
		}
	}
	return false
}
