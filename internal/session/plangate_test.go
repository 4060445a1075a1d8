package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/pkg/types"
)

func TestDoneWithQuestionWaits(t *testing.T) {
	f := newFixture(t)
	sid := "sess-question"

	f.startRun(t, sid, "pick one")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "q1", Name: types.ToolAskUserQuestion})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	assert.Equal(t, types.StatusResumable, st.LastRunStatus)
	assert.True(t, st.WaitingForInput)
	assert.Equal(t, types.WaitingQuestion, st.WaitingForInputType)
	assert.False(t, st.IsReviewing)
}

func TestQuestionTakesPrecedenceOverPlan(t *testing.T) {
	f := newFixture(t)
	sid := "sess-both"

	f.startRun(t, sid, "plan and ask")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "p1", Name: types.ToolExitPlanMode})
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "q1", Name: types.ToolAskUserQuestion})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	assert.Equal(t, types.WaitingQuestion, st.WaitingForInputType)
	assert.Empty(t, st.PendingPlanMessageID)
}

func TestAnsweredQuestionDoesNotWait(t *testing.T) {
	f := newFixture(t)
	sid := "sess-answered"

	f.startRun(t, sid, "pick one")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "q1", Name: types.ToolAskUserQuestion})
	f.dispatch(sid, event.ChatToolResult, event.ToolResultData{SessionID: sid, ToolUseID: "q1", Output: "option A"})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	assert.Equal(t, types.StatusCompleted, st.LastRunStatus)
	assert.False(t, st.WaitingForInput)
}

func TestPlanPendingThenApproved(t *testing.T) {
	f := newFixture(t)
	sid := "sess-plan"
	ctx := context.Background()

	f.startRun(t, sid, "plan the migration")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{
		SessionID: sid, ID: "p1", Name: types.ToolExitPlanMode,
		Input: json.RawMessage(`{"plan_file_path":"/work/plan.md"}`),
	})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	require.Equal(t, types.WaitingPlan, st.WaitingForInputType)
	assert.Equal(t, types.StatusResumable, st.LastRunStatus)
	assert.Equal(t, "/work/plan.md", st.PlanFilePath)

	msgs := f.cache.Messages(sid)
	require.Len(t, msgs, 2)
	planMsgID := msgs[1].ID
	require.Equal(t, planMsgID, st.PendingPlanMessageID)

	require.NoError(t, f.coord.ApprovePlan(ctx, sid, planMsgID, ApproveOptions{}))

	st = f.coord.State(sid)
	assert.False(t, st.WaitingForInput)
	assert.Empty(t, st.PendingPlanMessageID)
	assert.Contains(t, st.ApprovedPlanIDs, planMsgID)

	msgs = f.cache.Messages(sid)
	assert.True(t, msgs[1].PlanApproved)

	var meta types.Session
	f.coord.do(sid, func(m *model) { meta = m.meta })
	assert.Equal(t, types.ModeBuild, meta.ExecutionMode)

	sent := f.fake.SentTo(sid)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1], "approved")
}

func TestNewRunSupersedesPendingPlan(t *testing.T) {
	f := newFixture(t)
	sid := "sess-plan-superseded"

	f.startRun(t, sid, "plan the migration")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{
		SessionID: sid, ID: "p1", Name: types.ToolExitPlanMode,
		Input: json.RawMessage(`{"plan_file_path":"/work/plan.md"}`),
	})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})
	require.Equal(t, types.WaitingPlan, f.coord.State(sid).WaitingForInputType)

	// The user keeps talking instead of approving: the stale plan pointer
	// must not survive into the next settled state.
	f.startRun(t, sid, "actually, take a different approach")
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	assert.Equal(t, types.StatusCompleted, st.LastRunStatus)
	assert.False(t, st.WaitingForInput)
	assert.Empty(t, st.PendingPlanMessageID)
	assert.Empty(t, st.PlanFilePath)
}

func TestApprovePlanWithEdits(t *testing.T) {
	f := newFixture(t)
	sid := "sess-plan-edit"
	ctx := context.Background()

	f.startRun(t, sid, "plan it")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "p1", Name: types.ToolExitPlanMode})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	planMsgID := f.coord.State(sid).PendingPlanMessageID
	require.NotEmpty(t, planMsgID)

	require.NoError(t, f.coord.ApprovePlan(ctx, sid, planMsgID, ApproveOptions{
		Mode:       types.ModeYolo,
		EditedPlan: "1. smaller steps",
	}))

	var meta types.Session
	f.coord.do(sid, func(m *model) { meta = m.meta })
	assert.Equal(t, types.ModeYolo, meta.ExecutionMode)

	sent := f.fake.SentTo(sid)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1], "1. smaller steps")
}

func TestApprovePlanRejectsWrongMessage(t *testing.T) {
	f := newFixture(t)
	sid := "sess-plan-wrong"

	f.startRun(t, sid, "plan it")
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "p1", Name: types.ToolExitPlanMode})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	err := f.coord.ApprovePlan(context.Background(), sid, "some-other-message", ApproveOptions{})
	assert.Error(t, err)
	assert.True(t, f.coord.State(sid).WaitingForInput, "pending plan untouched")
}

func TestOutOfBandPlanSignal(t *testing.T) {
	f := newFixture(t)
	sid := "sess-oob-plan"

	f.startRun(t, sid, "plan it")
	f.dispatch(sid, event.ChatChunk, event.ChunkData{SessionID: sid, Content: "here is the plan"})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid, WaitingForPlan: true})

	st := f.coord.State(sid)
	assert.Equal(t, types.WaitingPlan, st.WaitingForInputType)
	assert.NotEmpty(t, st.PendingPlanMessageID)
}

func TestOutOfBandPlanIgnoredWhileViewing(t *testing.T) {
	f := newFixture(t)
	sid := "sess-oob-viewing"
	f.cache.SetActiveSession(sid)

	f.startRun(t, sid, "plan it")
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid, WaitingForPlan: true})

	st := f.coord.State(sid)
	assert.Equal(t, types.StatusCompleted, st.LastRunStatus)
	assert.False(t, st.WaitingForInput)
}

func TestPlanWaitSkippedWithQueuedMessage(t *testing.T) {
	f := newFixture(t)
	sid := "sess-plan-queue"
	ctx := context.Background()

	f.startRun(t, sid, "plan it")
	require.NoError(t, f.coord.SendMessage(ctx, sid, "actually, do this instead", nil))
	f.dispatch(sid, event.ChatToolUse, event.ToolUseData{SessionID: sid, ID: "p1", Name: types.ToolExitPlanMode})
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})

	st := f.coord.State(sid)
	assert.False(t, st.WaitingForInput, "queued message answers the plan")
	assert.Equal(t, []string{"plan it", "actually, do this instead"}, f.fake.SentTo(sid))
}

func TestOpenSessionClearsReview(t *testing.T) {
	f := newFixture(t)
	sid := "sess-open"
	ctx := context.Background()

	f.startRun(t, sid, "task")
	f.dispatch(sid, event.ChatDone, event.DoneData{SessionID: sid})
	require.True(t, f.coord.State(sid).IsReviewing)

	f.coord.OpenSession(ctx, sid)

	assert.False(t, f.coord.State(sid).IsReviewing)
	assert.True(t, f.cache.Viewing(sid))
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Contains(t, f.store.lastOpened, sid)
}
