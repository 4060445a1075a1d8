package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/cache"
	"github.com/agentdesk/agentdesk/internal/storage"
)

func TestDraftPersistsAcrossCaches(t *testing.T) {
	dir := t.TempDir()

	f := newFixture(t)
	f.coord.storage = storage.New(dir)
	sid := "sess-draft"
	ctx := context.Background()

	f.coord.SetDraft(ctx, sid, "half-written thought")
	assert.Equal(t, "half-written thought", f.cache.Draft(sid))

	// A fresh cache, as after restart, reloads the draft from disk.
	fresh := cache.New(nil)
	f.coord.cache = fresh
	require.Equal(t, "half-written thought", f.coord.LoadDraft(ctx, sid))
	assert.Equal(t, "half-written thought", fresh.Draft(sid))
}

func TestClearingDraftDeletesRecord(t *testing.T) {
	f := newFixture(t)
	sid := "sess-draft-clear"
	ctx := context.Background()

	f.coord.SetDraft(ctx, sid, "text")
	f.coord.SetDraft(ctx, sid, "")

	assert.Empty(t, f.cache.Draft(sid))
	var rec draftRecord
	assert.Error(t, f.coord.storage.Get(ctx, []string{"draft", sid}, &rec))
}
