package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/event"
)

// readSSEData reads data payloads off an SSE stream until the channel is
// closed by the caller cancelling the request context.
func readSSEData(t *testing.T, body *bufio.Scanner, out chan<- WireEvent) {
	t.Helper()
	for body.Scan() {
		line := body.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev WireEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		out <- ev
	}
	close(out)
}

func openStream(t *testing.T, url string) (<-chan WireEvent, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan WireEvent, 16)
	go readSSEData(t, bufio.NewScanner(resp.Body), events)

	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return events, cancel
}

func waitFor(t *testing.T, events <-chan WireEvent, eventType event.EventType) WireEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed before %s", eventType)
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestSSEGreeting(t *testing.T) {
	tr := newTestRelay(t)

	events, _ := openStream(t, tr.srv.URL+"/event")
	waitFor(t, events, "server.connected")
}

func TestSSERelaysBusEvents(t *testing.T) {
	tr := newTestRelay(t)

	events, _ := openStream(t, tr.srv.URL+"/event")
	waitFor(t, events, "server.connected")

	tr.bus.Publish(event.Event{
		Type: event.SessionListChanged,
		Data: event.SessionListChangedData{SessionID: "sess-1"},
	})

	ev := waitFor(t, events, event.SessionListChanged)
	assert.NotNil(t, ev.Data)
}

func TestSSESessionFilter(t *testing.T) {
	tr := newTestRelay(t)

	events, _ := openStream(t, tr.srv.URL+"/session/sess-a/event")
	waitFor(t, events, "server.connected")

	// An event for another session must never reach this stream.
	tr.bus.Publish(event.Event{
		Type: event.MessageAppended,
		Data: event.MessageAppendedData{SessionID: "sess-b"},
	})
	tr.bus.Publish(event.Event{
		Type: event.MessageAppended,
		Data: event.MessageAppendedData{SessionID: "sess-a"},
	})

	ev := waitFor(t, events, event.MessageAppended)
	data, err := json.Marshal(ev.Data)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sess-a")
	assert.NotContains(t, string(data), "sess-b")
}

func TestSSEClientDisconnect(t *testing.T) {
	tr := newTestRelay(t)

	events, cancel := openStream(t, tr.srv.URL+"/event")
	waitFor(t, events, "server.connected")

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// Drain whatever was in flight; the channel must close soon.
			for range events {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after disconnect")
	}
}
