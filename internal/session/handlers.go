package session

import (
	"context"
	"time"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// onSending marks the session as actively running and starts a fresh
// transient run state. The broadcast to session-list observers lets other
// clients refresh their metadata; it deliberately does not carry messages,
// because a remote full-message refetch would race this client's own
// optimistic edits.
func (c *Coordinator) onSending(ctx context.Context, m *model, data event.SendingData) {
	if data.WorktreeID != "" {
		m.meta.WorktreeID = data.WorktreeID
		m.state.WorktreeID = data.WorktreeID
	}

	m.run = &runState{sent: m.pendingSend}
	m.pendingSend = nil

	m.state.LastRunStatus = types.StatusRunning
	m.state.WaitingForInput = false
	m.state.WaitingForInputType = types.WaitingNone
	m.state.IsReviewing = false
	// Any plan still awaiting approval is superseded by the new run: the
	// user chose to keep talking instead of approving.
	m.state.PendingPlanMessageID = ""
	m.state.PlanFilePath = ""

	c.cache.SetSessionState(&m.state)
	c.gate.commit(ctx, &m.state)

	c.log.Debug().Str("session_id", m.meta.ID).Msg("run started")
}

// onChunk appends streamed text to both live representations: the flat
// accumulator and the ordered block list, so incremental and block-based
// renderers stay in sync.
func (c *Coordinator) onChunk(m *model, data event.ChunkData) {
	run := c.requireRun(m, "chunk")
	if run == nil {
		return
	}

	run.content.WriteString(data.Content)
	run.blocks = append(run.blocks, types.ContentBlock{
		Type: types.BlockText,
		Text: data.Content,
	})
}

// onToolUse records a tool invocation. A tool whose name signals read-only
// plan mode also switches the session's execution mode.
func (c *Coordinator) onToolUse(m *model, data event.ToolUseData) {
	run := c.requireRun(m, "tool_use")
	if run == nil {
		return
	}

	run.toolCalls = append(run.toolCalls, types.ToolCall{
		ID:              data.ID,
		Name:            data.Name,
		Input:           data.Input,
		ParentToolUseID: data.ParentToolUseID,
	})

	if data.Name == types.ToolExitPlanMode {
		m.meta.ExecutionMode = types.ModePlan
	}
}

// onToolBlock appends a tool marker block at the current stream position.
func (c *Coordinator) onToolBlock(m *model, data event.ToolBlockData) {
	run := c.requireRun(m, "tool_block")
	if run == nil {
		return
	}

	run.blocks = append(run.blocks, types.ContentBlock{
		Type:       types.BlockTool,
		ToolCallID: data.ToolCallID,
	})
}

// onThinking appends an extended-thinking block.
func (c *Coordinator) onThinking(m *model, data event.ThinkingData) {
	run := c.requireRun(m, "thinking")
	if run == nil {
		return
	}

	run.blocks = append(run.blocks, types.ContentBlock{
		Type: types.BlockThinking,
		Text: data.Content,
	})
}

// toolOutputNotRetained lists tools whose output is deliberately dropped:
// large, re-fetchable content that would bloat the session history.
var toolOutputNotRetained = map[string]bool{
	"Read":     true,
	"WebFetch": true,
}

// onToolResult records a tool's output. A result for a previously denied
// tool supersedes the denial (e.g. the tool was allow-listed after all).
// Replays of the same result are ignored so output is never duplicated.
func (c *Coordinator) onToolResult(m *model, data event.ToolResultData) {
	if m.removeDenial(data.ToolUseID) {
		c.log.Debug().
			Str("session_id", m.meta.ID).
			Str("tool_use_id", data.ToolUseID).
			Msg("tool executed despite earlier denial; denial superseded")
	}

	run := c.requireRun(m, "tool_result")
	if run == nil {
		return
	}

	tc := run.toolCall(data.ToolUseID)
	if tc == nil {
		c.log.Debug().
			Str("session_id", m.meta.ID).
			Str("tool_use_id", data.ToolUseID).
			Msg("tool_result for unknown tool call")
		return
	}

	tc.Answered = true
	if tc.Output == nil && !toolOutputNotRetained[tc.Name] {
		out := data.Output
		tc.Output = &out
	}
}

// onPermissionDenied records one pending denial per denied tool and
// snapshots the send context so a retry can resend identical context later.
func (c *Coordinator) onPermissionDenied(m *model, data event.PermissionDeniedData) {
	for _, d := range data.Denials {
		already := false
		for _, existing := range m.pendingDenials {
			if existing.ToolUseID == d.ToolUseID {
				already = true
				break
			}
		}
		if !already {
			m.pendingDenials = append(m.pendingDenials, d)
		}
	}

	lastUser := ""
	if m.run != nil && m.run.sent != nil {
		lastUser = m.run.sent.content
	}
	m.retry = &types.RetrySnapshot{
		LastUserMessage: lastUser,
		Model:           m.meta.Model,
		ExecutionMode:   m.meta.ExecutionMode,
		ThinkingLevel:   m.meta.ThinkingLevel,
	}

	c.log.Info().
		Str("session_id", m.meta.ID).
		Int("denials", len(data.Denials)).
		Msg("permission denied for tools")
}

// onCompacting flags the session as compacting.
func (c *Coordinator) onCompacting(m *model, data event.CompactingData) {
	m.compacting = true
}

// onCompacted clears the compacting flag and records what triggered it.
func (c *Coordinator) onCompacted(m *model, data event.CompactedData) {
	m.compacting = false
	m.compactTrigger = data.Metadata.Trigger
}

// onSettingChanged applies a remote client's change to a session scalar.
// Last write wins; these are simple preferences with no conflict to resolve.
func (c *Coordinator) onSettingChanged(m *model, data event.SettingChangedData) {
	switch data.Key {
	case event.SettingModel:
		m.meta.Model = data.Value
	case event.SettingThinkingLevel:
		m.meta.ThinkingLevel = types.ThinkingLevel(data.Value)
	case event.SettingExecutionMode:
		m.meta.ExecutionMode = types.ExecutionMode(data.Value)
	default:
		c.log.Warn().
			Str("session_id", m.meta.ID).
			Str("key", string(data.Key)).
			Msg("dropping unknown setting key")
		return
	}
	m.meta.Time.Updated = time.Now().UnixMilli()
}

// requireRun returns the active run, logging and dropping the event when no
// run is in flight (e.g. a straggler chunk after termination).
func (c *Coordinator) requireRun(m *model, kind string) *runState {
	if m.run == nil {
		c.log.Debug().
			Str("session_id", m.meta.ID).
			Str("event", kind).
			Msg("dropping stream event with no active run")
		return nil
	}
	return m.run
}
