// Package eventbus is the in-process fanout that decouples the publishing
// engine from its observers (notifier, debug trace).
//
// Publish never blocks: a subscriber that cannot keep up loses events.
// Every subscriber channel is buffered and owned by the bus until its
// unsubscribe func runs.
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the engine.
const (
	EventPostPublished = "post.published"
	EventPostFailed    = "post.failed"
	EventPostAttempt   = "post.attempt"
	EventTimerArmed    = "timer.armed"
	EventTimerCleared  = "timer.cleared"
)

// Event carries one signal. Data should be small; the notifier type-asserts
// it, nothing serializes it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no background goroutines.
func New() Bus {
	return &memBus{}
}

type subscriber struct {
	id uint64
	ch chan Event
}

type memBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	targets := make([]chan Event, len(b.subs))
	for i, s := range b.subs {
		targets[i] = s.ch
	}
	b.mu.Unlock()

	for _, ch := range targets {
		b.trySend(ch, e)
	}
}

// trySend drops on a full buffer and swallows the panic from a channel
// closed by a concurrent unsubscribe.
func (b *memBus) trySend(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, ch: ch})
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}
