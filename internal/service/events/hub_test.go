package events

import (
	"testing"
	"time"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

func TestHubDeliversOnlyToSessionSubscribers(t *testing.T) {
	hub := NewHub(4)
	subA := hub.Subscribe("a")
	subB := hub.Subscribe("b")
	defer subA.Close()
	defer subB.Close()

	entry := call.TranscriptEntry{Timestamp: time.Now(), Speaker: call.SpeakerCaller, Text: "hello"}
	if n := hub.Publish("a", NewTranscriptEvent("a", entry)); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	select {
	case ev := <-subA.Events():
		if ev.Type != TypeTranscriptUpdate {
			t.Fatalf("unexpected event type %s", ev.Type)
		}
		update, ok := ev.Data.(TranscriptUpdate)
		if !ok || update.Text != "hello" {
			t.Fatalf("unexpected payload %#v", ev.Data)
		}
	default:
		t.Fatal("expected event for subscriber a")
	}

	select {
	case ev := <-subB.Events():
		t.Fatalf("subscriber b should not receive %v", ev)
	default:
	}
}

func TestHubPreservesPublishOrder(t *testing.T) {
	hub := NewHub(8)
	sub := hub.Subscribe("s1")
	defer sub.Close()

	hub.Publish("s1", NewTranscriptEvent("s1", call.TranscriptEntry{Text: "first"}))
	hub.Publish("s1", NewAlertEvent("s1", call.Alert{Type: call.AlertEmergency}))

	first := <-sub.Events()
	second := <-sub.Events()
	if first.Type != TypeTranscriptUpdate || second.Type != TypeAlert {
		t.Fatalf("unexpected order: %s then %s", first.Type, second.Type)
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("s1")
	defer sub.Close()

	if n := hub.Publish("s1", Event{Type: TypeAlert}); n != 1 {
		t.Fatalf("expected first publish delivered, got %d", n)
	}
	if n := hub.Publish("s1", Event{Type: TypeAlert}); n != 0 {
		t.Fatalf("expected second publish dropped, got %d", n)
	}
}

func TestHubCloseSessionClosesChannels(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("s1")

	hub.CloseSession("s1")
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel")
	}
	if hub.Subscribers("s1") != 0 {
		t.Fatal("expected no subscribers after CloseSession")
	}

	// Closing an already closed subscription must not panic.
	sub.Close()
	if n := hub.Publish("s1", Event{Type: TypeAlert}); n != 0 {
		t.Fatalf("expected no deliveries after close, got %d", n)
	}
}
