package event

import (
	"encoding/json"

	"github.com/agentdesk/agentdesk/pkg/types"
)

// Backend event payloads. Field names mirror the wire format the backend
// emits; every payload carries the session id it is scoped to.

// SendingData signals that a run started for a session.
type SendingData struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
}

func (d SendingData) EventSessionID() string { return d.SessionID }

// ChunkData carries a streamed text delta.
type ChunkData struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (d ChunkData) EventSessionID() string { return d.SessionID }

// ToolUseData reports a tool invocation started by the backend.
type ToolUseData struct {
	SessionID       string          `json:"session_id"`
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Input           json.RawMessage `json:"input,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
}

func (d ToolUseData) EventSessionID() string { return d.SessionID }

// ToolBlockData marks where a tool_use block appears in the content stream.
type ToolBlockData struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
}

func (d ToolBlockData) EventSessionID() string { return d.SessionID }

// ThinkingData carries extended-thinking content.
type ThinkingData struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (d ThinkingData) EventSessionID() string { return d.SessionID }

// ToolResultData carries the output of a completed tool execution.
type ToolResultData struct {
	SessionID string `json:"session_id"`
	ToolUseID string `json:"tool_use_id"`
	Output    string `json:"output"`
}

func (d ToolResultData) EventSessionID() string { return d.SessionID }

// PermissionDeniedData reports tools the backend refused to run without
// approval.
type PermissionDeniedData struct {
	SessionID string                `json:"session_id"`
	Denials   []types.PendingDenial `json:"denials"`
}

func (d PermissionDeniedData) EventSessionID() string { return d.SessionID }

// DoneData signals normal run termination. WaitingForPlan is an out-of-band
// plan signal used by backends without a native plan-approval tool.
type DoneData struct {
	SessionID      string `json:"session_id"`
	WorktreeID     string `json:"worktree_id"`
	WaitingForPlan bool   `json:"waiting_for_plan,omitempty"`
}

func (d DoneData) EventSessionID() string { return d.SessionID }

// ErrorData signals run failure.
type ErrorData struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	Error      string `json:"error"`
}

func (d ErrorData) EventSessionID() string { return d.SessionID }

// CancelledData signals a cancelled run. UndoSend is true when the user
// message should be restored to the input (instant cancellation).
type CancelledData struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	UndoSend   bool   `json:"undo_send"`
}

func (d CancelledData) EventSessionID() string { return d.SessionID }

// CompactingData signals that context compaction started.
type CompactingData struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
}

func (d CompactingData) EventSessionID() string { return d.SessionID }

// CompactedData signals that context compaction finished.
type CompactedData struct {
	SessionID  string                `json:"session_id"`
	WorktreeID string                `json:"worktree_id"`
	Metadata   types.CompactMetadata `json:"metadata"`
}

func (d CompactedData) EventSessionID() string { return d.SessionID }

// SettingKey identifies a per-session scalar preference another client may
// change. Dispatch is by tagged constant, not string lookup, so new keys get
// exhaustiveness checking at the handler switch.
type SettingKey string

const (
	SettingModel         SettingKey = "model"
	SettingThinkingLevel SettingKey = "thinking_level"
	SettingExecutionMode SettingKey = "execution_mode"
)

// SettingChangedData applies a remote client's change to a session scalar.
// Last write wins.
type SettingChangedData struct {
	SessionID string     `json:"session_id"`
	Key       SettingKey `json:"key"`
	Value     string     `json:"value"`
}

func (d SettingChangedData) EventSessionID() string { return d.SessionID }

// Client-side payloads published after transitions commit.

// SessionUpdatedData carries the committed derived state for a session.
type SessionUpdatedData struct {
	SessionID string              `json:"session_id"`
	State     *types.SessionState `json:"state"`
}

func (d SessionUpdatedData) EventSessionID() string { return d.SessionID }

// SessionListChangedData asks observers to refresh session-list metadata.
// It deliberately carries no message data: remote observers must not refetch
// the full message list on this signal.
type SessionListChangedData struct {
	SessionID  string `json:"session_id,omitempty"`
	WorktreeID string `json:"worktree_id,omitempty"`
}

// MessageAppendedData announces a message inserted into the render cache.
type MessageAppendedData struct {
	SessionID string         `json:"session_id"`
	Message   *types.Message `json:"message"`
}

func (d MessageAppendedData) EventSessionID() string { return d.SessionID }

// MessageRemovedData announces a message removed from the render cache.
type MessageRemovedData struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

func (d MessageRemovedData) EventSessionID() string { return d.SessionID }

// DraftRestoredData announces that a failed or undone send was restored to
// the input draft.
type DraftRestoredData struct {
	SessionID string `json:"session_id"`
	Draft     string `json:"draft"`
}

func (d DraftRestoredData) EventSessionID() string { return d.SessionID }

// GitStatusChangedData asks observers to refresh git status for a worktree.
type GitStatusChangedData struct {
	WorktreeID   string `json:"worktree_id"`
	WorktreePath string `json:"worktree_path,omitempty"`
	Branch       string `json:"branch,omitempty"`
}

// NotificationSound selects which configured sound to play.
type NotificationSound string

const (
	SoundWaiting NotificationSound = "waiting"
	SoundReview  NotificationSound = "review"
)

// NotificationRequestData asks the shell to play a notification sound.
type NotificationRequestData struct {
	SessionID string            `json:"session_id"`
	Sound     NotificationSound `json:"sound"`
}

func (d NotificationRequestData) EventSessionID() string { return d.SessionID }
