package session

import (
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

func TestLinkDetachedReportsDisconnect(t *testing.T) {
	var l Link
	if err := l.Send("speak", nil); !errors.Is(err, speech.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}

	var got []string
	detach := l.Attach(func(msgType string, _ any) error {
		got = append(got, msgType)
		return nil
	})
	if err := l.Send("speak", nil); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if !detach() {
		t.Fatal("first detach should succeed")
	}
	if detach() {
		t.Fatal("second detach should be a no-op")
	}
	if len(got) != 1 || l.Attached() {
		t.Fatalf("unexpected state: sent=%v attached=%v", got, l.Attached())
	}
}

func TestLinkStaleDetachKeepsNewConnection(t *testing.T) {
	var l Link
	oldDetach := l.Attach(func(string, any) error { return nil })
	l.Attach(func(string, any) error { return nil })

	if oldDetach() {
		t.Fatal("stale detach must not drop the new connection")
	}
	if !l.Attached() {
		t.Fatal("new connection should stay attached")
	}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	h.Notify(companion.Event{Type: companion.EventState, SessionID: "s-1"})
	for _, ch := range []<-chan companion.Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != companion.EventState {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatal("cancelled subscription should be closed")
	}
	if n := h.Subscribers(); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Notify(companion.Event{Type: companion.EventState})
	h.Notify(companion.Event{Type: companion.EventTurn})

	if ev := <-ch; ev.Type != companion.EventState {
		t.Fatalf("expected first event kept, got %s", ev.Type)
	}
	select {
	case ev := <-ch:
		t.Fatalf("overflow event should be dropped, got %s", ev.Type)
	default:
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	h.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("Close should end subscriptions")
	}
	late, _ := h.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatal("subscribing to a closed hub should yield a closed channel")
	}
	h.Notify(companion.Event{Type: companion.EventState})
}
