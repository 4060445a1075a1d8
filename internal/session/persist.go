package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentdesk/agentdesk/internal/cache"
	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// StateStore is the durable session-state store behind the persistence gate.
// statedb.DB implements it.
type StateStore interface {
	UpsertState(ctx context.Context, st *types.SessionState) error
	GetState(ctx context.Context, sessionID string) (*types.SessionState, error)
	SetLastOpened(ctx context.Context, sessionID string) error
	MarkPlanApproved(ctx context.Context, sessionID, messageID string) error
}

// gate orders durable writes against cache invalidation. The invariant it
// exists for: a refetch of session-list state must never run between "derived
// status changed in memory" and "derived status landed on disk", because the
// refetch would read pre-write disk state and overwrite the fresher
// in-memory value (the waiting/review oscillation).
type gate struct {
	db    StateStore
	cache *cache.Cache
	bus   *event.Bus
	log   zerolog.Logger
}

// commit writes a session's derived state durably and, only once the write
// has resolved, re-reads the cache entry and notifies session-list
// observers. Callers must have already placed the optimistic value in the
// cache so the UI keeps rendering it during the write.
//
// Write failures are logged and swallowed: the in-memory state stays
// authoritative and no invalidation happens, so the cache keeps serving the
// fresh value until a later write succeeds.
func (g *gate) commit(ctx context.Context, st *types.SessionState) {
	if err := g.db.UpsertState(ctx, st); err != nil {
		g.log.Error().Err(err).
			Str("session_id", st.SessionID).
			Str("status", string(st.LastRunStatus)).
			Msg("session state write failed; keeping in-memory state authoritative")
		return
	}

	if err := g.cache.Invalidate(ctx, st.SessionID); err != nil {
		g.log.Error().Err(err).
			Str("session_id", st.SessionID).
			Msg("cache refresh after state write failed")
	}

	g.bus.Publish(event.Event{
		Type: event.SessionListChanged,
		Data: event.SessionListChangedData{
			SessionID:  st.SessionID,
			WorktreeID: st.WorktreeID,
		},
	})
}
