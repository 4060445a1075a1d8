package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentdesk/agentdesk/internal/event"
)

// WireEvent is the envelope streamed to SSE clients.
type WireEvent struct {
	Type event.EventType `json:"type"`
	Data any             `json:"data"`
}

// SSEHeartbeatInterval is the interval for SSE heartbeat comments.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData); err != nil {
		return err
	}
	// ResponseController flushes through middleware wrappers; fall back to
	// the plain flusher if it cannot.
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// allEvents streams every bus event to the client.
func (s *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, nil)
}

// sessionEvents streams only one session's events to the client.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "session id required")
		return
	}
	s.streamEvents(w, r, func(e event.Event) bool {
		scoped, ok := e.Data.(event.SessionScoped)
		return ok && scoped.EventSessionID() == sessionID
	})
}

// streamEvents is the shared SSE loop. A nil filter passes everything.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, filter func(event.Event) bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	clientID := uuid.NewString()
	s.log.Debug().Str("client_id", clientID).Msg("SSE client connected")
	defer s.log.Debug().Str("client_id", clientID).Msg("SSE client disconnected")

	// Greeting first so the client knows the stream is live before any
	// event arrives.
	if err := sse.writeEvent(WireEvent{Type: "server.connected", Data: map[string]any{"client_id": clientID}}); err != nil {
		return
	}

	// Small buffer for low latency; a slow client drops events rather than
	// stalling the bus.
	events := make(chan event.Event, 10)
	unsub := s.bus.SubscribeAll(func(e event.Event) {
		if filter != nil && !filter(e) {
			return
		}
		select {
		case events <- e:
		default:
			s.log.Warn().Str("event", string(e.Type)).Msg("SSE event dropped: client too slow")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(WireEvent{Type: e.Type, Data: e.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
