package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(ChatChunk, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: ChatChunk, Data: ChunkData{SessionID: "s1", Content: "hi"}})

	// Wait for async delivery
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != ChatChunk {
			t.Errorf("Expected ChatChunk, got %v", received.Type)
		}
		data, ok := received.Data.(ChunkData)
		if !ok || data.Content != "hi" {
			t.Errorf("Expected chunk payload, got %v", received.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	defer unsub()

	// Publish different event types
	bus.Publish(Event{Type: ChatSending, Data: nil})
	bus.Publish(Event{Type: ChatDone, Data: nil})
	bus.Publish(Event{Type: SessionUpdated, Data: nil})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if atomic.LoadInt32(&count) != 3 {
			t.Errorf("Expected 3 events, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for events")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	var count int32
	unsub := bus.Subscribe(ChatDone, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: ChatDone, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before unsub, got %d", count)
	}

	unsub()

	// Publish again - should not be received
	bus.PublishSync(Event{Type: ChatDone, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after unsub, got %d", count)
	}
}

func TestBus_PublishSyncOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(ChatChunk, func(e Event) {
		got = append(got, e.Data.(ChunkData).Content)
	})

	for _, c := range []string{"a", "b", "c"} {
		bus.PublishSync(Event{Type: ChatChunk, Data: ChunkData{SessionID: "s", Content: c}})
	}

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Expected in-order sync delivery, got %v", got)
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.Subscribe(ChatDone, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	bus.PublishSync(Event{Type: ChatDone, Data: nil})
	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("Expected no delivery after close, got %d", count)
	}

	// Subscribing after close is a no-op
	unsub := bus.Subscribe(ChatDone, func(e Event) {})
	unsub()

	// Close is idempotent
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
