package types

import "encoding/json"

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockTool     BlockType = "tool"
	BlockThinking BlockType = "thinking"
)

// ContentBlock is one ordered element of an assistant response. Blocks are
// append-only within a single run: chunk events append text blocks,
// tool_block events append tool markers, thinking events append thinking
// blocks.
type ContentBlock struct {
	Type       BlockType `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

// Blocking tool names. A tool call with one of these names requires human
// resolution before the run can be considered finished.
const (
	ToolAskUserQuestion = "AskUserQuestion"
	ToolExitPlanMode    = "ExitPlanMode"
)

// ToolCall records one tool invocation reported by the backend.
type ToolCall struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Input           json.RawMessage `json:"input,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
	Output          *string         `json:"output,omitempty"`
	Answered        bool            `json:"answered,omitempty"`
}

// Blocking reports whether the call must be resolved by a human before the
// session can continue.
func (t *ToolCall) Blocking() bool {
	return t.Name == ToolAskUserQuestion || t.Name == ToolExitPlanMode
}

// PendingDenial records a tool the backend reported as denied permission.
// The denial is superseded if a later tool_result shows the same tool
// actually executed (for example via an allow-list).
type PendingDenial struct {
	ToolUseID string `json:"tool_use_id"`
}

// RetrySnapshot captures the context of a send that hit a permission denial
// so a retry can resend identical context later.
type RetrySnapshot struct {
	LastUserMessage string        `json:"last_user_message"`
	Model           string        `json:"model,omitempty"`
	ExecutionMode   ExecutionMode `json:"execution_mode,omitempty"`
	ThinkingLevel   ThinkingLevel `json:"thinking_level,omitempty"`
}
