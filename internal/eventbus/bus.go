// Package eventbus is an explicit in-process publish/subscribe channel.
//
// Components receive a Bus through their constructors; there is no
// process-wide subscriber list.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the service.
const (
	TypeNotifierSent      = "notifier.sent"
	TypeNotifierFailed    = "notifier.failed"
	TypeMeetingCreated    = "meeting.created"
	TypeMeetingSent       = "meeting.sent"
	TypeMeetingConfirmed  = "meeting.confirmed"
	TypeMeetingCancelled  = "meeting.cancelled"
	TypeResponseSubmitted = "response.submitted"
	TypeInboxFailed       = "inbox.failed"
	TypeConfigReloaded    = "config.reloaded"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Filtered subscribes to the given event types only. An empty types list
// receives everything.
func Filtered(b Bus, buffer int, types ...string) (<-chan Event, func()) {
	src, unsub := b.Subscribe(buffer)
	if len(types) == 0 {
		return src, unsub
	}
	out := make(chan Event, cap(src))
	go func() {
		defer close(out)
		for e := range src {
			if !slices.Contains(types, e.Type) {
				continue
			}
			select {
			case out <- e:
			default:
			}
		}
	}()
	return out, unsub
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish is a nil-safe helper.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
