package backend

import (
	"context"
	"sync"

	"github.com/agentdesk/agentdesk/pkg/types"
)

// SentMessage records one Send call on the fake.
type SentMessage struct {
	SessionID string
	Content   string
	Opts      SendOptions
}

// Fake is an in-memory Client for tests. It records calls and returns
// configurable results.
type Fake struct {
	mu sync.Mutex

	Sent       []SentMessage
	Cancels    []string
	DigestReqs []string

	SendErr   error
	CancelErr error
	DigestErr error
	DigestVal *types.Digest
}

// NewFake returns a Fake with a default digest value.
func NewFake() *Fake {
	return &Fake{
		DigestVal: &types.Digest{TriggerSummary: "fake summary", LastAction: "fake action"},
	}
}

func (f *Fake) Send(ctx context.Context, sessionID string, content string, opts SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, SentMessage{SessionID: sessionID, Content: content, Opts: opts})
	return nil
}

func (f *Fake) Cancel(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.Cancels = append(f.Cancels, sessionID)
	return nil
}

func (f *Fake) GenerateDigest(ctx context.Context, sessionID string, model string) (*types.Digest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DigestErr != nil {
		return nil, f.DigestErr
	}
	f.DigestReqs = append(f.DigestReqs, sessionID)
	return f.DigestVal, nil
}

// SentTo returns the contents sent to a session, in order.
func (f *Fake) SentTo(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.Sent {
		if s.SessionID == sessionID {
			out = append(out, s.Content)
		}
	}
	return out
}

// DigestCount returns how many digest requests were issued for a session.
func (f *Fake) DigestCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.DigestReqs {
		if id == sessionID {
			n++
		}
	}
	return n
}

var _ Client = (*Fake)(nil)
