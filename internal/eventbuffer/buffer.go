// Package eventbuffer provides the ordered, closable queue that decouples
// message arrival on a vendor socket from the consumer draining events.
package eventbuffer

import (
	"context"
	"io"
	"iter"
	"sync"

	"github.com/satriahrh/arunika/voicelink/domain"
)

// Buffer is an unbounded single-consumer FIFO of events.
// Once closed, Push drops events and Next reports io.EOF after the
// already queued events are drained.
type Buffer struct {
	mu     sync.Mutex
	items  []domain.Event
	closed bool
	// notify is closed and replaced whenever state changes, waking any waiter.
	notify chan struct{}
}

// New creates an empty, open buffer
func New() *Buffer {
	return &Buffer{notify: make(chan struct{})}
}

// Push appends an event. It returns false when the buffer is already closed.
func (b *Buffer) Push(event domain.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.items = append(b.items, event)
	b.broadcast()
	return true
}

// Close signals end-of-stream. Safe to call more than once.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.broadcast()
}

// Closed reports whether Close has been called
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of queued events
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Next blocks until an event is available. It returns io.EOF once the buffer
// is closed and drained, or ctx.Err() if ctx is done first.
func (b *Buffer) Next(ctx context.Context) (domain.Event, error) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			event := b.items[0]
			b.items[0] = domain.Event{}
			b.items = b.items[1:]
			b.mu.Unlock()
			return event, nil
		}
		if b.closed {
			b.mu.Unlock()
			return domain.Event{}, io.EOF
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-wait:
		}
	}
}

// All yields events until the buffer ends or ctx is done
func (b *Buffer) All(ctx context.Context) iter.Seq[domain.Event] {
	return func(yield func(domain.Event) bool) {
		for {
			event, err := b.Next(ctx)
			if err != nil {
				return
			}
			if !yield(event) {
				return
			}
		}
	}
}

// broadcast must be called with mu held
func (b *Buffer) broadcast() {
	close(b.notify)
	b.notify = make(chan struct{})
}
