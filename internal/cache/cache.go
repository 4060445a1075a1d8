// Package cache holds the read cache that the rendered UI observes: session
// list metadata, per-session message lists, input drafts, and the viewing
// state of this client. The session coordinator is the only writer; readers
// always get copies, never shared mutable references.
package cache

import (
	"context"
	"sync"

	"github.com/agentdesk/agentdesk/pkg/types"
)

// StateLoader fetches a session's durable state on a cache miss. It is
// normally backed by statedb.
type StateLoader func(ctx context.Context, sessionID string) (*types.SessionState, error)

// Cache is the externally visible read model. Writes come from the session
// coordinator in commit order; Invalidate re-reads through the loader.
type Cache struct {
	mu sync.RWMutex

	states   map[string]*types.SessionState
	messages map[string][]*types.Message
	drafts   map[string]string

	// activeSession is the session currently on screen in this client, or
	// empty when none.
	activeSession string

	loader StateLoader
}

// New creates an empty cache. The loader may be nil, in which case
// Invalidate only drops the cached entry.
func New(loader StateLoader) *Cache {
	return &Cache{
		states:   make(map[string]*types.SessionState),
		messages: make(map[string][]*types.Message),
		drafts:   make(map[string]string),
		loader:   loader,
	}
}

// SessionState returns a copy of the cached derived state for a session.
func (c *Cache) SessionState(sessionID string) (*types.SessionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.states[sessionID]
	if !ok {
		return nil, false
	}
	cp := *st
	cp.ApprovedPlanIDs = append([]string(nil), st.ApprovedPlanIDs...)
	return &cp, true
}

// SetSessionState overwrites the cached state for a session. This is the
// optimistic write: it happens before the durable write lands so the UI
// renders the new state immediately.
func (c *Cache) SetSessionState(st *types.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *st
	cp.ApprovedPlanIDs = append([]string(nil), st.ApprovedPlanIDs...)
	c.states[st.SessionID] = &cp
}

// Invalidate drops the cached state for a session and re-reads it through
// the loader. Callers must only invoke this after the corresponding durable
// write has resolved; invalidating earlier lets a refetch load pre-write
// disk state over fresher in-memory state.
func (c *Cache) Invalidate(ctx context.Context, sessionID string) error {
	if c.loader == nil {
		c.mu.Lock()
		delete(c.states, sessionID)
		c.mu.Unlock()
		return nil
	}

	st, err := c.loader(ctx, sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.states[sessionID] = st
	c.mu.Unlock()
	return nil
}

// Messages returns a copy of the cached message list for a session.
func (c *Cache) Messages(sessionID string) []*types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[sessionID]
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out
}

// SetMessages replaces the cached message list, e.g. after loading history.
func (c *Cache) SetMessages(sessionID string, msgs []*types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[sessionID] = append([]*types.Message(nil), msgs...)
}

// AppendMessage inserts an optimistic message at the end of the list.
func (c *Cache) AppendMessage(msg *types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *msg
	c.messages[msg.SessionID] = append(c.messages[msg.SessionID], &cp)
}

// RemoveMessage removes a message by id. Used when an errored or undone send
// takes its optimistic user message back out of the list.
func (c *Cache) RemoveMessage(sessionID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.messages[sessionID]
	for i, m := range msgs {
		if m.ID == messageID {
			c.messages[sessionID] = append(msgs[:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

// LastMessage returns a copy of the newest cached message, if any.
func (c *Cache) LastMessage(sessionID string) (*types.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[sessionID]
	if len(msgs) == 0 {
		return nil, false
	}
	cp := *msgs[len(msgs)-1]
	return &cp, true
}

// MarkPlanApproved flips plan_approved on a cached message. The only
// permitted mutation of an already-appended message.
func (c *Cache) MarkPlanApproved(sessionID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.messages[sessionID] {
		if m.ID == messageID {
			m.PlanApproved = true
			return true
		}
	}
	return false
}

// Draft returns the input draft for a session.
func (c *Cache) Draft(sessionID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drafts[sessionID]
}

// SetDraft stores the input draft for a session.
func (c *Cache) SetDraft(sessionID, draft string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[sessionID] = draft
}

// SetActiveSession records which session this client is viewing.
func (c *Cache) SetActiveSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeSession = sessionID
}

// ActiveSession returns the session this client is viewing, or empty.
func (c *Cache) ActiveSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeSession
}

// Viewing reports whether the given session is on screen in this client.
func (c *Cache) Viewing(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeSession == sessionID
}
