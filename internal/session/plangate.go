package session

import (
	"context"
	"fmt"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// ApproveOptions shapes a plan approval.
type ApproveOptions struct {
	// Mode is the execution mode to continue in. Defaults to ModeBuild.
	Mode types.ExecutionMode
	// EditedPlan carries the user's edits to the plan body; when set the
	// continuation instructs the agent to follow the edited plan.
	EditedPlan string
}

// ApprovePlan approves a pending plan and resumes the session in an
// execution mode. The approval is recorded durably before the continuation
// is handed to the backend: if the client dies in between, a restart sees an
// approved plan with no continuation, which the user can resend, rather
// than an executing agent whose plan still looks unapproved.
func (c *Coordinator) ApprovePlan(ctx context.Context, sessionID, messageID string, opts ApproveOptions) error {
	mode := opts.Mode
	if mode == "" {
		mode = types.ModeBuild
	}

	var approveErr error
	c.do(sessionID, func(m *model) {
		if m.state.PendingPlanMessageID != "" && m.state.PendingPlanMessageID != messageID {
			approveErr = fmt.Errorf("plan message %s is not pending approval", messageID)
			return
		}

		// Optimistic: flip the message flag and clear the waiting state so
		// every surface stops showing the approval prompt immediately.
		c.cache.MarkPlanApproved(sessionID, messageID)
		m.state.WaitingForInput = false
		m.state.WaitingForInputType = types.WaitingNone
		m.state.PendingPlanMessageID = ""
		m.state.PlanFilePath = ""
		m.state.ApprovedPlanIDs = append(m.state.ApprovedPlanIDs, messageID)
		m.meta.ExecutionMode = mode
		c.cache.SetSessionState(&m.state)

		if err := c.db.MarkPlanApproved(ctx, sessionID, messageID); err != nil {
			approveErr = fmt.Errorf("record plan approval: %w", err)
			return
		}
		c.gate.commit(ctx, &m.state)

		approveErr = c.startSend(ctx, m, outbound{content: continuationText(opts)})
	})
	return approveErr
}

// continuationText builds the synthesized user turn that resumes execution
// after an approval.
func continuationText(opts ApproveOptions) string {
	if opts.EditedPlan != "" {
		return "The plan has been approved with edits. Execute this revised plan:\n\n" + opts.EditedPlan
	}
	return "The plan has been approved. Execute it."
}

// AnswerQuestion answers a blocking question by sending the answer as the
// next user turn. The send path clears the waiting state when the run
// starts.
func (c *Coordinator) AnswerQuestion(ctx context.Context, sessionID, answer string) error {
	return c.SendMessage(ctx, sessionID, answer, nil)
}

// RetryAfterDenial resends the context captured when the backend denied a
// tool, clearing the recorded denials.
func (c *Coordinator) RetryAfterDenial(ctx context.Context, sessionID string) error {
	var retryErr error
	c.do(sessionID, func(m *model) {
		if m.retry == nil {
			retryErr = fmt.Errorf("session %s has no denial to retry", sessionID)
			return
		}
		snap := *m.retry
		m.retry = nil
		m.pendingDenials = nil

		m.meta.Model = snap.Model
		m.meta.ExecutionMode = snap.ExecutionMode
		m.meta.ThinkingLevel = snap.ThinkingLevel
		retryErr = c.startSend(ctx, m, outbound{content: snap.LastUserMessage})
	})
	return retryErr
}

// OpenSession records that this client is now viewing a session: the review
// flag clears, last-opened is stamped, and observers refresh.
func (c *Coordinator) OpenSession(ctx context.Context, sessionID string) {
	c.cache.SetActiveSession(sessionID)

	c.do(sessionID, func(m *model) {
		if err := c.db.SetLastOpened(ctx, sessionID); err != nil {
			c.log.Debug().Err(err).Str("session_id", sessionID).Msg("set last opened failed")
		}
		if !m.state.IsReviewing {
			return
		}
		m.state.IsReviewing = false
		c.cache.SetSessionState(&m.state)
		c.gate.commit(ctx, &m.state)
	})

	c.bus.Publish(event.Event{
		Type: event.SessionListChanged,
		Data: event.SessionListChangedData{SessionID: sessionID},
	})
}
