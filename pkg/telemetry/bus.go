// Package telemetry carries run progress out of the execution engine without
// ever blocking it. The Bus fans events out to subscribers, each of which
// owns a bounded buffer; a subscriber that falls behind loses its oldest
// events and receives a single Overflow marker accounting for the loss.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultBufferSize is the per-subscriber buffer capacity when none is
// configured.
const DefaultBufferSize = 256

// ErrClosed is returned by Next once the subscription is closed and drained.
var ErrClosed = errors.New("telemetry: subscription closed")

// Bus fans out events to any number of subscribers. Publish never blocks:
// delivery to each subscriber is a buffered hand-off, and slow subscribers
// shed their own oldest events rather than slowing the publisher or their
// peers. Subscribers only observe events published after they subscribe.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	bufSize int
	closed  bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[*Subscription]struct{}),
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber. The subscriber receives every event
// published after this call, in publish order, subject to overflow shedding.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus:    b,
		cap:    b.bufSize,
		signal: make(chan struct{}, 1),
	}
	b.mu.Lock()
	if b.closed {
		sub.closed = true
	} else {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to all current subscribers and returns
// immediately. Events published concurrently from different goroutines may
// interleave, but two events published from the same goroutine are observed
// by every subscriber in publish order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for sub := range b.subs {
		sub.push(ev)
	}
	b.mu.Unlock()
}

// Close closes the bus and all its subscriptions. Buffered events remain
// readable; once drained, Next returns ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	if b.subs != nil {
		delete(b.subs, sub)
	}
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the bus. Next and Events must not
// be used concurrently from multiple goroutines on the same subscription.
type Subscription struct {
	bus    *Bus
	cap    int
	signal chan struct{}

	mu      sync.Mutex
	buf     []Event
	dropped int
	closed  bool
}

// push appends an event, shedding the oldest buffered events when full.
// Called by the bus with its own lock held; never blocks.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.cap {
		over := len(s.buf) - s.cap + 1
		s.buf = append([]Event(nil), s.buf[over:]...)
		s.dropped += over
	}
	s.buf = append(s.buf, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next returns the next event, blocking until one is available, the context
// is cancelled, or the subscription is closed and drained. When events were
// shed since the last call, Next first returns a single Overflow marker
// carrying the total dropped count, then resumes with the oldest retained
// event.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.dropped > 0 {
			ev := Overflow{Dropped: s.dropped, Time: time.Now().UTC()}
			s.dropped = 0
			s.mu.Unlock()
			return ev, nil
		}
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

// Events returns a channel pumped by a background goroutine calling Next.
// The channel closes when the context is cancelled or the subscription is
// closed and drained.
func (s *Subscription) Events(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close detaches the subscription from the bus. Buffered events remain
// readable; once drained, Next returns ErrClosed.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.markClosed()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}
