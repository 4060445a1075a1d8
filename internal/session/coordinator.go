// Package session implements the client-side session state machine: it
// consumes the backend chat event stream, keeps the in-memory session model
// consistent, reconciles it into the render cache, and gates durable
// persistence so concurrent refreshes never resurrect stale state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentdesk/agentdesk/internal/backend"
	"github.com/agentdesk/agentdesk/internal/cache"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/internal/logging"
	"github.com/agentdesk/agentdesk/internal/storage"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// mailboxSize bounds each session's event queue. The publisher feeds events
// synchronously, so a full mailbox applies backpressure instead of dropping.
const mailboxSize = 256

// Deps bundles the collaborators a Coordinator needs.
type Deps struct {
	Bus     *event.Bus
	Cache   *cache.Cache
	Storage *storage.Storage
	States  StateStore
	Backend backend.Client
	Config  *config.Config
}

// Coordinator owns all per-session state. Each session gets an actor
// goroutine with a FIFO mailbox: events and commands for one session run
// strictly in order and to completion, while different sessions proceed
// concurrently.
type Coordinator struct {
	bus     *event.Bus
	cache   *cache.Cache
	storage *storage.Storage
	db      StateStore
	backend backend.Client
	cfg     *config.Config

	gate    *gate
	effects *effects
	log     zerolog.Logger

	mu     sync.Mutex
	actors map[string]*actor
	wg     sync.WaitGroup
	quit   chan struct{}
	closed bool
}

// actor serializes work for one session.
type actor struct {
	inbox chan task
	model *model
}

// task is one unit of actor work: either a routed event or a command.
type task struct {
	ev   *event.Event
	fn   func(*model)
	done chan struct{}
}

// NewCoordinator creates a coordinator. Bus defaults to the global bus and
// Config to the built-in defaults when nil.
func NewCoordinator(deps Deps) *Coordinator {
	if deps.Bus == nil {
		deps.Bus = event.Default()
	}
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}

	log := logging.Component("session")
	c := &Coordinator{
		bus:     deps.Bus,
		cache:   deps.Cache,
		storage: deps.Storage,
		db:      deps.States,
		backend: deps.Backend,
		cfg:     deps.Config,
		log:     log,
		actors:  make(map[string]*actor),
		quit:    make(chan struct{}),
	}
	c.gate = &gate{db: deps.States, cache: deps.Cache, bus: deps.Bus, log: log}
	c.effects = newEffects(deps.Backend, deps.States, deps.Storage, deps.Bus, deps.Config, log)
	return c
}

// Dispatch routes one event to its session's actor. Events whose payload
// does not identify a session are logged and dropped; they must not take
// down the listener for other sessions.
func (c *Coordinator) Dispatch(ev event.Event) {
	scoped, ok := ev.Data.(event.SessionScoped)
	if !ok {
		c.log.Warn().Str("event", string(ev.Type)).Msg("dropping event without session scope")
		return
	}
	sessionID := scoped.EventSessionID()
	if sessionID == "" {
		c.log.Warn().Str("event", string(ev.Type)).Msg("dropping event with empty session id")
		return
	}

	c.enqueue(sessionID, task{ev: &ev})
}

// do runs fn on the session's actor and waits for it to finish.
func (c *Coordinator) do(sessionID string, fn func(*model)) {
	done := make(chan struct{})
	if !c.enqueue(sessionID, task{fn: fn, done: done}) {
		return
	}
	select {
	case <-done:
	case <-c.quit:
	}
}

// enqueue delivers a task to the session's actor, creating it on first use.
// A full mailbox blocks the caller: the backend feed publishes
// synchronously, so this is backpressure, not loss.
func (c *Coordinator) enqueue(sessionID string, t task) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	a, ok := c.actors[sessionID]
	if !ok {
		a = &actor{
			inbox: make(chan task, mailboxSize),
			model: c.newModel(sessionID),
		}
		c.actors[sessionID] = a
		c.wg.Add(1)
		go c.run(a)
	}
	c.mu.Unlock()

	select {
	case a.inbox <- t:
		return true
	case <-c.quit:
		return false
	}
}

// newModel seeds a session model, picking up any previously persisted
// derived state so a restarted client resumes where the store left off.
func (c *Coordinator) newModel(sessionID string) *model {
	m := &model{
		meta:  types.Session{ID: sessionID},
		state: types.SessionState{SessionID: sessionID, LastRunStatus: types.StatusIdle},
	}

	if c.db != nil {
		if st, err := c.db.GetState(context.Background(), sessionID); err == nil {
			m.state = *st
			m.meta.WorktreeID = st.WorktreeID
			m.meta.WorktreePath = st.WorktreePath
		}
	}

	if c.cache != nil {
		c.cache.SetSessionState(&m.state)
	}
	return m
}

// run is the actor loop: tasks execute one at a time, to completion.
func (c *Coordinator) run(a *actor) {
	defer c.wg.Done()
	for {
		select {
		case t := <-a.inbox:
			if t.fn != nil {
				t.fn(a.model)
			} else if t.ev != nil {
				c.handleEvent(a.model, *t.ev)
			}
			if t.done != nil {
				close(t.done)
			}
		case <-c.quit:
			return
		}
	}
}

// handleEvent dispatches on the payload type. The tagged switch gives
// exhaustiveness the string-keyed legacy design lacked; unknown payloads are
// logged and dropped.
func (c *Coordinator) handleEvent(m *model, ev event.Event) {
	ctx := context.Background()

	switch data := ev.Data.(type) {
	case event.SendingData:
		c.onSending(ctx, m, data)
	case event.ChunkData:
		c.onChunk(m, data)
	case event.ToolUseData:
		c.onToolUse(m, data)
	case event.ToolBlockData:
		c.onToolBlock(m, data)
	case event.ThinkingData:
		c.onThinking(m, data)
	case event.ToolResultData:
		c.onToolResult(m, data)
	case event.PermissionDeniedData:
		c.onPermissionDenied(m, data)
	case event.DoneData:
		c.onDone(ctx, m, data)
	case event.ErrorData:
		c.onError(ctx, m, data)
	case event.CancelledData:
		c.onCancelled(ctx, m, data)
	case event.CompactingData:
		c.onCompacting(m, data)
	case event.CompactedData:
		c.onCompacted(m, data)
	case event.SettingChangedData:
		c.onSettingChanged(m, data)
	default:
		c.log.Warn().
			Str("event", string(ev.Type)).
			Type("payload", ev.Data).
			Msg("dropping unknown event payload")
	}
}

// SendMessage submits a user message for a session. If a run is active the
// message is queued and sent when the run settles; otherwise it is staged,
// inserted optimistically into the render cache, and handed to the backend.
func (c *Coordinator) SendMessage(ctx context.Context, sessionID, content string, attachments []string) error {
	var sendErr error
	c.do(sessionID, func(m *model) {
		if m.state.LastRunStatus == types.StatusRunning {
			m.queue = append(m.queue, outbound{content: content, attachments: attachments})
			c.log.Debug().Str("session_id", sessionID).Int("queued", len(m.queue)).Msg("queued message behind active run")
			return
		}
		sendErr = c.startSend(ctx, m, outbound{content: content, attachments: attachments})
	})
	return sendErr
}

// startSend stages an outbound message and asks the backend to run it. Must
// run on the session's actor.
func (c *Coordinator) startSend(ctx context.Context, m *model, out outbound) error {
	userMsg := &types.Message{
		ID:        generateID(),
		SessionID: m.meta.ID,
		Role:      types.RoleUser,
		Content:   out.content,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	out.userMessageID = userMsg.ID

	// Optimistic insert before the backend ever sees the send.
	c.cache.AppendMessage(userMsg)
	c.bus.Publish(event.Event{
		Type: event.MessageAppended,
		Data: event.MessageAppendedData{SessionID: m.meta.ID, Message: userMsg},
	})
	if err := c.storage.Put(ctx, []string{"message", m.meta.ID, userMsg.ID}, userMsg); err != nil {
		c.log.Error().Err(err).Str("session_id", m.meta.ID).Msg("persist user message failed")
	}

	m.pendingSend = &out

	err := c.backend.Send(ctx, m.meta.ID, out.content, backend.SendOptions{
		Model:         m.meta.Model,
		ExecutionMode: m.meta.ExecutionMode,
		ThinkingLevel: m.meta.ThinkingLevel,
		Attachments:   out.attachments,
	})
	if err != nil {
		return fmt.Errorf("backend send: %w", err)
	}
	return nil
}

// Cancel requests cancellation of the session's active run.
func (c *Coordinator) Cancel(ctx context.Context, sessionID string) error {
	return c.backend.Cancel(ctx, sessionID)
}

// QueueLength reports how many messages are queued behind the active run.
func (c *Coordinator) QueueLength(sessionID string) int {
	var n int
	c.do(sessionID, func(m *model) { n = len(m.queue) })
	return n
}

// State returns a copy of the session's current derived state.
func (c *Coordinator) State(sessionID string) types.SessionState {
	var st types.SessionState
	c.do(sessionID, func(m *model) {
		st = m.state
		st.ApprovedPlanIDs = append([]string(nil), m.state.ApprovedPlanIDs...)
	})
	return st
}

// PendingDenials returns a copy of the session's recorded denials.
func (c *Coordinator) PendingDenials(sessionID string) []types.PendingDenial {
	var out []types.PendingDenial
	c.do(sessionID, func(m *model) {
		out = append(out, m.pendingDenials...)
	})
	return out
}

// Close stops every actor and rejects further work. Call after the router
// has been closed so no new events arrive.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.quit)
	c.mu.Unlock()

	c.wg.Wait()
	c.effects.wait()
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}
