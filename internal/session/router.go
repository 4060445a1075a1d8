package session

import "github.com/agentdesk/agentdesk/internal/event"

// chatEventTypes lists every backend stream event the coordinator consumes.
var chatEventTypes = []event.EventType{
	event.ChatSending,
	event.ChatChunk,
	event.ChatToolUse,
	event.ChatToolBlock,
	event.ChatThinking,
	event.ChatToolResult,
	event.ChatPermissionDenied,
	event.ChatDone,
	event.ChatError,
	event.ChatCancelled,
	event.ChatCompacting,
	event.ChatCompacted,
	event.ChatSettingChanged,
}

// Router binds the bus's chat event stream to a coordinator. The backend
// feed publishes synchronously in arrival order, and Dispatch preserves that
// order per session through the actor mailboxes.
type Router struct {
	unsubs []func()
}

// NewRouter subscribes the coordinator to every chat event type on the bus.
func NewRouter(bus *event.Bus, c *Coordinator) *Router {
	r := &Router{}
	for _, t := range chatEventTypes {
		r.unsubs = append(r.unsubs, bus.Subscribe(t, c.Dispatch))
	}
	return r
}

// Close releases every subscription. Call before Coordinator.Close so no
// event arrives at a stopped coordinator.
func (r *Router) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}
