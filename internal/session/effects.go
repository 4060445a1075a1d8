package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agentdesk/agentdesk/internal/backend"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/internal/storage"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// effects runs the notify phase of a settled run: digest generation,
// notification sounds, git refresh, last-opened bookkeeping. Everything here
// is fire-and-forget; a failure is logged and never blocks or reorders the
// commit phase that already happened.
type effects struct {
	backend backend.Client
	db      StateStore
	storage *storage.Storage
	bus     *event.Bus
	cfg     *config.Config
	log     zerolog.Logger

	wg sync.WaitGroup
}

func newEffects(be backend.Client, db StateStore, st *storage.Storage, bus *event.Bus, cfg *config.Config, log zerolog.Logger) *effects {
	return &effects{
		backend: be,
		db:      db,
		storage: st,
		bus:     bus,
		cfg:     cfg,
		log:     log,
	}
}

// settleInfo is the slice of session state the notify phase needs, captured
// on the actor before it moves on.
type settleInfo struct {
	status         types.RunStatus
	waiting        types.WaitingType
	viewing        bool
	wasReviewing   bool
	worktreeID     string
	worktreePath   string
	model          string
	compactTrigger string
}

// runSettled fans out the side effects for one settled run.
func (e *effects) runSettled(sessionID string, info settleInfo) {
	if info.worktreeID != "" {
		e.bus.Publish(event.Event{
			Type: event.GitStatusChanged,
			Data: event.GitStatusChangedData{
				WorktreeID:   info.worktreeID,
				WorktreePath: info.worktreePath,
			},
		})
	}

	// Sounds announce off-screen sessions only; the one on screen speaks
	// for itself.
	switch {
	case info.viewing:
	case info.waiting != types.WaitingNone:
		e.playSound(sessionID, event.SoundWaiting, e.cfg.Sounds.Waiting)
	case info.status == types.StatusCompleted:
		e.playSound(sessionID, event.SoundReview, e.cfg.Sounds.Review)
	}

	if info.viewing {
		e.spawn(func() {
			if err := e.db.SetLastOpened(context.Background(), sessionID); err != nil {
				e.log.Debug().Err(err).Str("session_id", sessionID).Msg("set last opened failed")
			}
		})
	}

	// A digest exists so an away user can tell what happened. A session the
	// user was watching, or one already sitting in review from an earlier
	// run, gets none.
	if info.status == types.StatusCompleted && !info.viewing && !info.wasReviewing && e.cfg.SessionRecap.Enabled {
		e.spawn(func() { e.generateDigest(sessionID, info.model, info.compactTrigger) })
	}
}

// playSound asks the shell to play a configured notification sound.
func (e *effects) playSound(sessionID string, sound event.NotificationSound, name string) {
	if name == "" {
		return
	}
	e.bus.Publish(event.Event{
		Type: event.NotificationRequest,
		Data: event.NotificationRequestData{SessionID: sessionID, Sound: sound},
	})
}

// generateDigest asks the backend for a run digest, retrying transient
// failures, and persists it beside the session's messages. A compaction that
// happened during the run supplies the trigger summary when the backend
// leaves it blank.
func (e *effects) generateDigest(sessionID, model, compactTrigger string) {
	if e.cfg.SessionRecap.Model != "" {
		model = e.cfg.SessionRecap.Model
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var digest *types.Digest
	op := func() error {
		d, err := e.backend.GenerateDigest(ctx, sessionID, model)
		if err != nil {
			return err
		}
		cp := *d
		digest = &cp
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		e.log.Warn().Err(err).Str("session_id", sessionID).Msg("digest generation failed")
		return
	}

	if digest.TriggerSummary == "" && compactTrigger != "" {
		digest.TriggerSummary = compactTrigger
	}

	if err := e.storage.Put(ctx, []string{"digest", sessionID}, digest); err != nil {
		e.log.Warn().Err(err).Str("session_id", sessionID).Msg("persist digest failed")
		return
	}

	e.bus.Publish(event.Event{
		Type: event.SessionListChanged,
		Data: event.SessionListChangedData{SessionID: sessionID},
	})
}

// spawn tracks a background effect so Close can wait for stragglers.
func (e *effects) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// wait blocks until all in-flight effects finish.
func (e *effects) wait() {
	e.wg.Wait()
}
