package types

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation. Messages are owned
// exclusively by the session they belong to and, once a later message has
// been appended, are never mutated again except to flip PlanApproved.
type Message struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	Role          Role           `json:"role"`
	Content       string         `json:"content"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	Time          MessageTime    `json:"time"`
	Cancelled     bool           `json:"cancelled,omitempty"`
	PlanApproved  bool           `json:"plan_approved,omitempty"`
}

// MessageTime contains timestamps for a message, in Unix milliseconds.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// HasToolCall reports whether the message contains a tool call with the
// given id.
func (m *Message) HasToolCall(id string) bool {
	for i := range m.ToolCalls {
		if m.ToolCalls[i].ID == id {
			return true
		}
	}
	return false
}
