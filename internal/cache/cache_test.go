package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/pkg/types"
)

func TestSessionState_CopySemantics(t *testing.T) {
	c := New(nil)

	c.SetSessionState(&types.SessionState{
		SessionID:       "s1",
		LastRunStatus:   types.StatusRunning,
		ApprovedPlanIDs: []string{"m1"},
	})

	got, ok := c.SessionState("s1")
	require.True(t, ok)

	// Mutating the returned copy must not affect the cache.
	got.LastRunStatus = types.StatusCrashed
	got.ApprovedPlanIDs[0] = "mutated"

	again, ok := c.SessionState("s1")
	require.True(t, ok)
	assert.Equal(t, types.StatusRunning, again.LastRunStatus)
	assert.Equal(t, []string{"m1"}, again.ApprovedPlanIDs)
}

func TestInvalidate_ReadsThroughLoader(t *testing.T) {
	loaded := &types.SessionState{
		SessionID:     "s1",
		LastRunStatus: types.StatusCompleted,
		IsReviewing:   true,
	}
	c := New(func(ctx context.Context, sessionID string) (*types.SessionState, error) {
		return loaded, nil
	})

	// Optimistic value first
	c.SetSessionState(&types.SessionState{SessionID: "s1", LastRunStatus: types.StatusRunning})

	require.NoError(t, c.Invalidate(context.Background(), "s1"))

	got, ok := c.SessionState("s1")
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, got.LastRunStatus)
	assert.True(t, got.IsReviewing)
}

func TestInvalidate_NoLoaderDropsEntry(t *testing.T) {
	c := New(nil)
	c.SetSessionState(&types.SessionState{SessionID: "s1"})

	require.NoError(t, c.Invalidate(context.Background(), "s1"))

	_, ok := c.SessionState("s1")
	assert.False(t, ok)
}

func TestMessages_AppendAndRemove(t *testing.T) {
	c := New(nil)

	c.AppendMessage(&types.Message{ID: "m1", SessionID: "s1", Role: types.RoleUser, Content: "hi"})
	c.AppendMessage(&types.Message{ID: "m2", SessionID: "s1", Role: types.RoleAssistant, Content: "hello"})

	msgs := c.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)

	assert.True(t, c.RemoveMessage("s1", "m1"))
	assert.False(t, c.RemoveMessage("s1", "m1"))

	msgs = c.Messages("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
}

func TestLastMessage(t *testing.T) {
	c := New(nil)

	_, ok := c.LastMessage("s1")
	assert.False(t, ok)

	c.AppendMessage(&types.Message{ID: "m1", SessionID: "s1"})
	c.AppendMessage(&types.Message{ID: "m2", SessionID: "s1"})

	last, ok := c.LastMessage("s1")
	require.True(t, ok)
	assert.Equal(t, "m2", last.ID)
}

func TestMarkPlanApproved(t *testing.T) {
	c := New(nil)
	c.AppendMessage(&types.Message{ID: "m1", SessionID: "s1"})

	assert.True(t, c.MarkPlanApproved("s1", "m1"))
	assert.False(t, c.MarkPlanApproved("s1", "missing"))

	msgs := c.Messages("s1")
	assert.True(t, msgs[0].PlanApproved)
}

func TestDrafts(t *testing.T) {
	c := New(nil)

	assert.Empty(t, c.Draft("s1"))
	c.SetDraft("s1", "half-typed thought")
	assert.Equal(t, "half-typed thought", c.Draft("s1"))
}

func TestViewing(t *testing.T) {
	c := New(nil)

	assert.False(t, c.Viewing("s1"))
	c.SetActiveSession("s1")
	assert.True(t, c.Viewing("s1"))
	assert.False(t, c.Viewing("s2"))
	assert.Equal(t, "s1", c.ActiveSession())
}
