package event

import (
	"log"
	"sync"
)

// defaultBuffer is the per-subscriber channel capacity used when the
// broker is constructed with a non-positive buffer size.
const defaultBuffer = 16

// Subscriber is one observer's handle on the broker. Events arrive on C
// in the order they were published by a single source; the channel is
// closed by Unsubscribe (or Close).
type Subscriber struct {
	C  <-chan Event
	ch chan Event
}

// Broker fans events out to all current subscribers. It is created once
// at process start, injected where events are produced or consumed, and
// torn down with Close at shutdown. Delivery is best-effort: a subscriber
// whose buffer is full has the event dropped rather than blocking the
// publisher or the other subscribers. Membership changes are safe to
// perform concurrently with Publish.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool
}

// NewBroker returns a Broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{subs: make(map[*Subscriber]struct{}), buffer: buffer}
}

// Subscribe registers a new observer and returns its handle. Subscribing
// to a closed broker returns a handle whose channel is already closed.
func (b *Broker) Subscribe() *Subscriber {
	ch := make(chan Event, b.buffer)
	s := &Subscriber{C: ch, ch: ch}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// more than once. The channel is only closed after any in-flight Publish
// has finished, so senders never hit a closed channel.
func (b *Broker) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers ev to every current subscriber. Subscribers that
// cannot keep up have the event dropped; the drop is logged once per
// occurrence so a wedged consumer is visible in the server log.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			log.Printf("event: dropping %s event for book %d: slow subscriber", ev.Action, ev.BookID)
		}
	}
}

// Count returns the number of current subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes all subscribers and closes their channels. Publish
// becomes a no-op afterwards.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
