package hub

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(Event{Type: EventQR, SessionID: "s1", Code: "code-1"})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case ev := <-sub.C:
			if ev.Type != EventQR || ev.SessionID != "s1" {
				t.Errorf("Unexpected event: %+v", ev)
			}
			if ev.Timestamp.IsZero() {
				t.Errorf("Timestamp not stamped on publish")
			}
		case <-time.After(time.Second):
			t.Fatal("Subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	sub := h.Subscribe()

	if h.SubscriberCount() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", h.SubscriberCount())
	}

	h.Unsubscribe(sub)
	// Double unsubscribe must be a no-op.
	h.Unsubscribe(sub)

	if h.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", h.SubscriberCount())
	}
	if _, ok := <-sub.C; ok {
		t.Errorf("Channel not closed after unsubscribe")
	}
}

func TestDisconnectEventCarriesConnectedFalse(t *testing.T) {
	ev := Event{
		Type:      EventConnected,
		SessionID: "s1",
		Status:    "disconnected",
		Connected: false,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// Listeners must be able to tell connected:false from an absent field.
	if !bytes.Contains(data, []byte(`"connected":false`)) {
		t.Errorf("connected flag missing from payload: %s", data)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New()
	slow := h.Subscribe()
	defer h.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer; publishes must not block.
		for i := 0; i < 200; i++ {
			h.Publish(Event{Type: EventMessage, SessionID: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
