package session

import (
	"context"

	"github.com/agentdesk/agentdesk/internal/event"
)

// draftRecord is the persisted shape of an input draft.
type draftRecord struct {
	SessionID   string   `json:"session_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// restoreDraft puts an undone send's text back into the session's input
// draft. If the user already typed something new the restore is skipped;
// their text wins over ours.
func (c *Coordinator) restoreDraft(ctx context.Context, m *model, sent *outbound) {
	if sent == nil || sent.content == "" {
		return
	}
	if c.cache.Draft(m.meta.ID) != "" {
		c.log.Debug().Str("session_id", m.meta.ID).Msg("draft occupied; skipping restore")
		return
	}

	c.cache.SetDraft(m.meta.ID, sent.content)

	rec := draftRecord{
		SessionID:   m.meta.ID,
		Content:     sent.content,
		Attachments: sent.attachments,
	}
	if err := c.storage.Put(ctx, []string{"draft", m.meta.ID}, rec); err != nil {
		c.log.Error().Err(err).Str("session_id", m.meta.ID).Msg("persist restored draft failed")
	}

	c.bus.Publish(event.Event{
		Type: event.DraftRestored,
		Data: event.DraftRestoredData{SessionID: m.meta.ID, Draft: sent.content},
	})
}

// SetDraft stores the session's input draft, both in the cache and durably.
func (c *Coordinator) SetDraft(ctx context.Context, sessionID, content string) {
	c.cache.SetDraft(sessionID, content)

	if content == "" {
		if err := c.storage.Delete(ctx, []string{"draft", sessionID}); err != nil {
			c.log.Debug().Err(err).Str("session_id", sessionID).Msg("delete draft failed")
		}
		return
	}
	rec := draftRecord{SessionID: sessionID, Content: content}
	if err := c.storage.Put(ctx, []string{"draft", sessionID}, rec); err != nil {
		c.log.Error().Err(err).Str("session_id", sessionID).Msg("persist draft failed")
	}
}

// LoadDraft reads a persisted draft into the cache, e.g. on session open.
func (c *Coordinator) LoadDraft(ctx context.Context, sessionID string) string {
	var rec draftRecord
	if err := c.storage.Get(ctx, []string{"draft", sessionID}, &rec); err != nil {
		return ""
	}
	c.cache.SetDraft(sessionID, rec.Content)
	return rec.Content
}
