package events

import "sync"

// defaultBusCapacity bounds each subscriber's buffered channel. A slow
// subscriber drops its oldest unread event rather than blocking the
// publisher, matching the at-least-once/drop-oldest fan-out policy.
const defaultBusCapacity = 256

// Bus is a per-session broadcast event bus: every Publish call assigns the
// next monotonic sequence number and fans the resulting Envelope out to all
// current subscribers. Grounded on goa-ai's runtime/agent/hooks.Bus
// (publish/subscribe with per-subscriber delivery), generalized here with a
// bounded drop-oldest mailbox per subscriber instead of an unbounded channel.
type Bus struct {
	mu   sync.Mutex
	seq  uint64
	subs map[int]*subscription
	next int

	// last holds the most recently published envelope of each event Type.
	// Publish records it; nothing in this package reads it.
	last map[Type]Envelope
}

type subscription struct {
	ch     chan Envelope
	closed bool
}

// NewBus constructs an empty Bus with seq starting at 1 (seq 0 is reserved
// to mean "no events observed yet" for reconnect cursors).
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription), last: make(map[Type]Envelope)}
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function. The channel has bounded capacity; under backpressure
// the oldest buffered envelope is dropped to make room for the newest.
func (b *Bus) Subscribe() (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscription{ch: make(chan Envelope, defaultBusCapacity)}
	b.subs[id] = sub
	return sub.ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish assigns chatID/the next seq to ev and delivers it to every current
// subscriber, dropping each subscriber's oldest buffered envelope on
// overflow instead of blocking. It returns the assigned Envelope.
func (b *Bus) Publish(chatID string, ev Event) Envelope {
	b.mu.Lock()
	b.seq++
	env := Envelope{ChatID: chatID, Seq: b.seq, Event: ev}
	b.last[ev.Type()] = env
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s, env)
	}
	return env
}

func deliver(s *subscription, env Envelope) {
	select {
	case s.ch <- env:
		return
	default:
	}
	// Mailbox full: drop the oldest buffered envelope and retry once. A
	// concurrent receiver may have already drained it, in which case the
	// retry send succeeds immediately.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- env:
	default:
	}
}

// Seq returns the last sequence number assigned by Publish.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
