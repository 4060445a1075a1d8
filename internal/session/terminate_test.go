package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/pkg/types"
)

func TestCancelUndoRestoresDraft(t *testing.T) {
	f := newFixture(t)
	sid := "sess-undo"

	f.startRun(t, sid, "never mind")
	f.dispatch(sid, event.ChatChunk, event.ChunkData{SessionID: sid, Content: "ok"})
	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid})

	assert.Empty(t, f.cache.Messages(sid), "optimistic user message taken back")
	assert.Equal(t, "never mind", f.cache.Draft(sid))
	assert.Equal(t, types.StatusCancelled, f.coord.State(sid).LastRunStatus)
}

func TestCancelUndoSkipsOccupiedDraft(t *testing.T) {
	f := newFixture(t)
	sid := "sess-undo-busy"

	f.startRun(t, sid, "never mind")
	f.cache.SetDraft(sid, "already typing")
	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid, UndoSend: true})

	assert.Empty(t, f.cache.Messages(sid))
	assert.Equal(t, "already typing", f.cache.Draft(sid), "user's new text wins")
}

func TestCancelKeepsSubstantialOutput(t *testing.T) {
	f := newFixture(t)
	sid := "sess-keep"

	f.startRun(t, sid, "write an essay")
	long := strings.Repeat("a", 80)
	f.dispatch(sid, event.ChatChunk, event.ChunkData{SessionID: sid, Content: long})
	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid})

	msgs := f.cache.Messages(sid)
	require.Len(t, msgs, 2, "both user message and partial output kept")
	assert.Equal(t, long, msgs[1].Content)
	assert.True(t, msgs[1].Cancelled)
	assert.Empty(t, f.cache.Draft(sid))
}

func TestCancelWithToolCallKept(t *testing.T) {
	f := newFixture(t)
	sid := "sess-keep-tool"

	f.startRun(t, sid, "run it")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "t1", Name: "Bash"})
	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid})

	msgs := f.cache.Messages(sid)
	require.Len(t, msgs, 2, "a tool call always counts as substance")
	assert.True(t, msgs[1].Cancelled)
}

func TestCancelUndoSuppressedByQueue(t *testing.T) {
	f := newFixture(t)
	sid := "sess-undo-queue"
	ctx := context.Background()

	f.startRun(t, sid, "first")
	require.NoError(t, f.coord.SendMessage(ctx, sid, "second", nil))
	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid, UndoSend: true})

	// The queued message proves the user moved on: no undo, and the queue
	// drains into a fresh send.
	msgs := f.cache.Messages(sid)
	assert.GreaterOrEqual(t, len(msgs), 2)
	assert.Empty(t, f.cache.Draft(sid))
	assert.Equal(t, []string{"first", "second"}, f.fake.SentTo(sid))
}

func TestCancelBeforeRunStartUndoesSend(t *testing.T) {
	f := newFixture(t)
	sid := "sess-early-cancel"

	// Cancelled arrives before the backend ever acknowledged the send.
	require.NoError(t, f.coord.SendMessage(context.Background(), sid, "never mind", nil))
	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid})

	assert.Empty(t, f.cache.Messages(sid), "staged send undone")
	assert.Equal(t, "never mind", f.cache.Draft(sid))
	assert.Equal(t, types.StatusCancelled, f.coord.State(sid).LastRunStatus)
}

func TestCancelOnIdleSessionIgnored(t *testing.T) {
	f := newFixture(t)
	sid := "sess-idle-cancel"

	f.dispatch(sid, event.ChatCancelled, event.CancelledData{SessionID: sid})

	assert.Equal(t, types.StatusIdle, f.coord.State(sid).LastRunStatus)
}

func TestErrorRestoresSendAndCrashes(t *testing.T) {
	f := newFixture(t)
	sid := "sess-error"

	f.startRun(t, sid, "doomed request")
	f.dispatch(sid, event.ChatError, event.ErrorData{SessionID: sid, Error: "backend exploded"})

	assert.Empty(t, f.cache.Messages(sid))
	assert.Equal(t, "doomed request", f.cache.Draft(sid))

	st := f.coord.State(sid)
	assert.Equal(t, types.StatusCrashed, st.LastRunStatus)
	assert.False(t, st.WaitingForInput)
}

func TestErrorKeepsPartialOutput(t *testing.T) {
	f := newFixture(t)
	sid := "sess-error-partial"

	f.startRun(t, sid, "doomed request")
	f.dispatch(sid, event.ChatChunk, event.ChunkData{SessionID: sid, Content: "partial answer"})
	f.dispatch(sid, event.ChatError, event.ErrorData{SessionID: sid, Error: "boom"})

	msgs := f.cache.Messages(sid)
	require.Len(t, msgs, 1, "user message removed, partial output kept")
	assert.Equal(t, types.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "partial answer", msgs[0].Content)
	assert.Equal(t, "doomed request", f.cache.Draft(sid))
}

func TestErrorBeforeRunStartRestoresDraft(t *testing.T) {
	f := newFixture(t)
	sid := "sess-early-error"

	// The backend process can die before it emits sending; the synthesized
	// error still has to take the optimistic send back.
	require.NoError(t, f.coord.SendMessage(context.Background(), sid, "doomed", nil))
	f.dispatch(sid, event.ChatError, event.ErrorData{SessionID: sid, Error: "spawn failed"})

	assert.Empty(t, f.cache.Messages(sid), "optimistic user message taken back")
	assert.Equal(t, "doomed", f.cache.Draft(sid))
	assert.Equal(t, types.StatusCrashed, f.coord.State(sid).LastRunStatus)
}

func TestDigestGeneratedOncePerUnwatchedRun(t *testing.T) {
	f := newFixture(t)
	sid := "sess-digest"

	f.startRun(t, sid, "long task")
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	require.Eventually(t, func() bool {
		return f.fake.DigestCount(sid) == 1
	}, time.Second, 10*time.Millisecond)

	// A second run finishing while the session already sits in review does
	// not generate another digest.
	f.dispatch(sid, event.ChatSending, event.SendingData{SessionID: sid})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.fake.DigestCount(sid))
}

func TestNoDigestWhileViewing(t *testing.T) {
	f := newFixture(t)
	sid := "sess-watched"
	f.cache.SetActiveSession(sid)

	f.startRun(t, sid, "quick task")
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	assert.Equal(t, types.StatusCompleted, st.LastRunStatus)
	assert.False(t, st.IsReviewing, "watched runs need no review")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.fake.DigestCount(sid))
}

func TestWaitingSoundOnlyOffScreen(t *testing.T) {
	f := newFixture(t)
	f.coord.cfg.Sounds.Waiting = "ping"

	sounds := make(chan event.NotificationRequestData, 2)
	unsub := f.bus.Subscribe(event.NotificationRequest, func(ev event.Event) {
		sounds <- ev.Data.(event.NotificationRequestData)
	})
	defer unsub()

	watched := "sess-sound-watched"
	f.cache.SetActiveSession(watched)
	f.startRun(t, watched, "ask me")
	f.dispatch(watched, event.ChatToolUse, event.ToolUseData{SessionID: watched, ID: "q1", Name: types.ToolAskUserQuestion})
	f.dispatch(watched, event.ChatDone, event.DoneData{SessionID: watched})

	select {
	case req := <-sounds:
		t.Fatalf("no sound expected for the session on screen, got %+v", req)
	case <-time.After(50 * time.Millisecond):
	}

	f.cache.SetActiveSession("sess-elsewhere")
	away := "sess-sound-away"
	f.startRun(t, away, "ask me")
	f.dispatch(away, event.ChatToolUse, event.ToolUseData{SessionID: away, ID: "q2", Name: types.ToolAskUserQuestion})
	f.dispatch(away, event.ChatDone, event.DoneData{SessionID: away})

	select {
	case req := <-sounds:
		assert.Equal(t, away, req.SessionID)
		assert.Equal(t, event.SoundWaiting, req.Sound)
	case <-time.After(time.Second):
		t.Fatal("expected waiting sound for the off-screen session")
	}
}

func TestCompactingFlagClearedWhenRunSettles(t *testing.T) {
	f := newFixture(t)
	sid := "sess-compact-flag"

	f.startRun(t, sid, "long context")
	f.dispatch(sid, event.ChatCompacting, event.CompactingData{SessionID: sid})

	var compacting bool
	var trigger string
	f.coord.do(sid, func(m *model) { compacting = m.compacting })
	assert.True(t, compacting)

	f.dispatch(sid, event.ChatCompacted, event.CompactedData{
		SessionID: sid,
		Metadata:  types.CompactMetadata{Trigger: "manual"},
	})
	f.coord.do(sid, func(m *model) { compacting, trigger = m.compacting, m.compactTrigger })
	assert.False(t, compacting)
	assert.Equal(t, "manual", trigger)

	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})
	f.coord.do(sid, func(m *model) { trigger = m.compactTrigger })
	assert.Empty(t, trigger, "transient run state ends with the run")
}

func TestCompactionTriggerFeedsDigest(t *testing.T) {
	f := newFixture(t)
	sid := "sess-compact-digest"
	f.fake.DigestVal = &types.Digest{LastAction: "wrapped up the refactor"}

	f.startRun(t, sid, "big refactor")
	f.dispatch(sid, event.ChatCompacting, event.CompactingData{SessionID: sid})
	f.dispatch(sid, event.ChatCompacted, event.CompactedData{
		SessionID: sid,
		Metadata:  types.CompactMetadata{Trigger: "auto"},
	})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	var digest types.Digest
	require.Eventually(t, func() bool {
		return f.files.Get(context.Background(), []string{"digest", sid}, &digest) == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "auto", digest.TriggerSummary)
	assert.Equal(t, "wrapped up the refactor", digest.LastAction)
}

func TestCommitWritesBeforeInvalidating(t *testing.T) {
	f := newFixture(t)
	f.store.upsertDelay = 20 * time.Millisecond
	sid := "sess-ordering"

	f.startRun(t, sid, "go")
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	// Every load (cache refetch) must follow the upsert it observes; the
	// cache state after settling equals the durably written state.
	ops := f.store.opLog()
	require.NotEmpty(t, ops)
	assert.Equal(t, "upsert:running", ops[0])
	assert.Equal(t, "load", ops[1])

	st, ok := f.cache.SessionState(sid)
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, st.LastRunStatus)
}

func TestCommitFailureKeepsMemoryAuthoritative(t *testing.T) {
	f := newFixture(t)
	sid := "sess-writefail"

	f.startRun(t, sid, "go")
	f.store.mu.Lock()
	f.store.failUpsert = errors.New("disk full")
	f.store.mu.Unlock()

	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	// The failed write must not trigger a refetch: the optimistic cache
	// value survives instead of being clobbered by stale disk state.
	st, ok := f.cache.SessionState(sid)
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, st.LastRunStatus)

	ops := f.store.opLog()
	assert.NotEqual(t, "load", ops[len(ops)-1], "no invalidation after failed write")
}
