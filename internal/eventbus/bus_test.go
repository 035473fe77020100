package eventbus

import (
	"testing"
	"time"
)

func TestFanoutToAllSubscribers(t *testing.T) {
	b := New()
	a, ua := b.Subscribe(4)
	c, uc := b.Subscribe(4)
	defer ua()
	defer uc()

	b.Publish(Event{Type: TypeNotifierSent, Data: "x"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeNotifierSent || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	if got := b.Dropped(); got != 9 {
		t.Fatalf("dropped=%d want 9", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}

func TestFilteredOnlyPassesRequestedTypes(t *testing.T) {
	b := New()
	ch, unsub := Filtered(b, 4, TypeNotifierFailed)
	defer unsub()

	Publish(b, TypeNotifierSent, nil)
	Publish(b, TypeNotifierFailed, "boom")

	select {
	case e := <-ch:
		if e.Type != TypeNotifierFailed {
			t.Fatalf("got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered event not delivered")
	}
}

func TestPublishHelperNilSafe(t *testing.T) {
	Publish(nil, "x", nil)
}
