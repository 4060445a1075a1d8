package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// onDone settles a normally finished run. Order matters throughout: the
// assistant message is inserted before the transient run state is cleared so
// there is never a render frame with neither the streaming run nor the
// finished message, and the durable commit resolves before observers are
// told to refetch.
func (c *Coordinator) onDone(ctx context.Context, m *model, data event.DoneData) {
	run := c.requireRun(m, "done")
	if run == nil {
		return
	}
	snap := run.snapshot()
	viewing := c.cache.Viewing(m.meta.ID)
	wasReviewing := m.state.IsReviewing
	compactTrigger := m.compactTrigger

	msg := c.appendAssistantMessage(ctx, m, snap, false)
	m.run = nil
	m.compacting = false
	m.compactTrigger = ""

	waiting := snap.unansweredBlocking()
	if waiting == types.WaitingNone && data.WaitingForPlan && !viewing {
		// Out-of-band plan signal from backends without a native plan tool.
		waiting = types.WaitingPlan
	}
	if waiting == types.WaitingPlan && len(m.queue) > 0 {
		// A queued message is about to answer the plan; the session is not
		// actually blocked on the user.
		waiting = types.WaitingNone
	}

	switch waiting {
	case types.WaitingNone:
		m.state.LastRunStatus = types.StatusCompleted
		m.state.WaitingForInput = false
		m.state.WaitingForInputType = types.WaitingNone
		m.state.IsReviewing = !viewing
	default:
		m.state.LastRunStatus = types.StatusResumable
		m.state.WaitingForInput = true
		m.state.WaitingForInputType = waiting
		m.state.IsReviewing = false
		if waiting == types.WaitingPlan && msg != nil {
			m.state.PendingPlanMessageID = msg.ID
			if plan := snap.pendingPlanCall(); plan != nil {
				m.state.PlanFilePath = planFilePath(plan.Input)
			}
		}
	}

	c.cache.SetSessionState(&m.state)
	c.gate.commit(ctx, &m.state)

	c.effects.runSettled(m.meta.ID, settleInfo{
		status:         m.state.LastRunStatus,
		waiting:        waiting,
		viewing:        viewing,
		wasReviewing:   wasReviewing,
		worktreeID:     m.meta.WorktreeID,
		worktreePath:   m.meta.WorktreePath,
		model:          m.meta.Model,
		compactTrigger: compactTrigger,
	})

	c.drainQueue(ctx, m)
}

// onError settles a crashed run. The failed send is taken back: its
// optimistic user message comes out of the cache and, if the input is still
// empty, the text goes back into the draft so the user can resend it.
func (c *Coordinator) onError(ctx context.Context, m *model, data event.ErrorData) {
	c.log.Warn().
		Str("session_id", m.meta.ID).
		Str("error", data.Error).
		Msg("run failed")

	snap := c.takeRun(m)
	if snap.content != "" || len(snap.toolCalls) > 0 {
		c.appendAssistantMessage(ctx, m, snap, false)
	}
	if snap.sent != nil {
		c.removeUserMessage(m, snap.sent.userMessageID)
		c.restoreDraft(ctx, m, snap.sent)
	}

	m.state.LastRunStatus = types.StatusCrashed
	m.state.WaitingForInput = false
	m.state.WaitingForInputType = types.WaitingNone
	m.state.IsReviewing = false

	c.cache.SetSessionState(&m.state)
	c.gate.commit(ctx, &m.state)
}

// onCancelled settles a cancelled run. An instant cancellation, or one that
// produced nothing of substance, is undone entirely: the optimistic user
// message is removed and its text restored to the draft. A cancellation with
// substance keeps the partial output, flagged as cancelled. Undo never fires
// while messages are queued: the queue proves the user moved on. A cancel
// landing before the backend acknowledged the send undoes the staged send
// the same way.
func (c *Coordinator) onCancelled(ctx context.Context, m *model, data event.CancelledData) {
	if m.run == nil && m.pendingSend == nil {
		c.log.Debug().Str("session_id", m.meta.ID).Msg("dropping cancelled with no run or staged send")
		return
	}
	snap := c.takeRun(m)

	undo := (data.UndoSend || !snap.meaningful(c.cfg.UndoSendMaxChars)) && len(m.queue) == 0
	if undo {
		if snap.sent != nil {
			c.removeUserMessage(m, snap.sent.userMessageID)
			c.restoreDraft(ctx, m, snap.sent)
		}
	} else if snap.content != "" || len(snap.toolCalls) > 0 {
		c.appendAssistantMessage(ctx, m, snap, true)
	}

	m.state.LastRunStatus = types.StatusCancelled
	m.state.WaitingForInput = false
	m.state.WaitingForInputType = types.WaitingNone
	m.state.IsReviewing = false

	c.cache.SetSessionState(&m.state)
	c.gate.commit(ctx, &m.state)

	c.drainQueue(ctx, m)
}

// takeRun consumes the session's transient run state. When no run ever
// started it falls back to the staged send: the backend can die or be
// interrupted before it acknowledges the send with a sending event, and the
// optimistic user message still has to be taken back.
func (c *Coordinator) takeRun(m *model) runSnapshot {
	var snap runSnapshot
	if m.run != nil {
		snap = m.run.snapshot()
	} else {
		snap = runSnapshot{sent: m.pendingSend}
	}
	m.run = nil
	m.pendingSend = nil
	m.compacting = false
	m.compactTrigger = ""
	return snap
}

// appendAssistantMessage materializes the run snapshot as a message and
// inserts it optimistically: cache first, then the append notification, then
// the durable message write.
func (c *Coordinator) appendAssistantMessage(ctx context.Context, m *model, snap runSnapshot, cancelled bool) *types.Message {
	msg := &types.Message{
		ID:            generateID(),
		SessionID:     m.meta.ID,
		Role:          types.RoleAssistant,
		Content:       snap.content,
		ContentBlocks: snap.blocks,
		ToolCalls:     snap.toolCalls,
		Time:          types.MessageTime{Created: time.Now().UnixMilli()},
		Cancelled:     cancelled,
	}

	c.cache.AppendMessage(msg)
	c.bus.Publish(event.Event{
		Type: event.MessageAppended,
		Data: event.MessageAppendedData{SessionID: m.meta.ID, Message: msg},
	})
	if err := c.storage.Put(ctx, []string{"message", m.meta.ID, msg.ID}, msg); err != nil {
		c.log.Error().Err(err).Str("session_id", m.meta.ID).Msg("persist assistant message failed")
	}
	return msg
}

// removeUserMessage takes an optimistic user message back out of the cache
// and announces the removal.
func (c *Coordinator) removeUserMessage(m *model, messageID string) {
	if messageID == "" {
		return
	}
	if c.cache.RemoveMessage(m.meta.ID, messageID) {
		c.bus.Publish(event.Event{
			Type: event.MessageRemoved,
			Data: event.MessageRemovedData{SessionID: m.meta.ID, MessageID: messageID},
		})
	}
	if err := c.storage.Delete(context.Background(), []string{"message", m.meta.ID, messageID}); err != nil {
		c.log.Debug().Err(err).Str("session_id", m.meta.ID).Msg("delete optimistic message failed")
	}
}

// drainQueue sends the oldest queued message once the session has settled.
// Must run on the session's actor.
func (c *Coordinator) drainQueue(ctx context.Context, m *model) {
	if len(m.queue) == 0 || m.state.LastRunStatus == types.StatusRunning {
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if err := c.startSend(ctx, m, next); err != nil {
		c.log.Error().Err(err).Str("session_id", m.meta.ID).Msg("queued send failed")
	}
}

// planFilePath extracts the plan file path from an ExitPlanMode input, when
// the backend supplies one.
func planFilePath(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var in struct {
		PlanFilePath string `json:"plan_file_path"`
		Path         string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ""
	}
	if in.PlanFilePath != "" {
		return in.PlanFilePath
	}
	return in.Path
}
