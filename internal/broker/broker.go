// Package broker provides a minimal generic publish/subscribe fan-out.
package broker

import (
	"context"
	"sync"
)

// Broker fans published values out to any number of subscribers. Publish
// never blocks: a subscriber that falls behind its buffer misses values,
// which suits best-effort observation feeds where the authoritative stream
// lives elsewhere.
type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	closed bool
}

// New returns an open broker.
func New[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[chan T]struct{})}
}

// Subscribe registers a subscriber. Its channel is closed and removed when
// ctx ends or the broker closes, whichever comes first. Subscribing to a
// closed broker yields an already-closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 64)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()

	return ch
}

// Publish delivers v to every subscriber with buffer room.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Slow subscriber; skip.
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped and
// later subscribes get a closed channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker[T]) remove(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
