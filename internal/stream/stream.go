// Package stream fans values out to live subscribers such as SSE clients.
package stream

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 16

// Hub fans out published values to all active subscribers.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	next   int
	buffer int
}

// New returns an empty hub. buffer <= 0 selects DefaultBuffer.
func New[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers v to every subscriber. Slow subscribers miss values
// rather than block the publisher.
func (h *Hub[T]) Publish(v T) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
