// Package observable provides a latest-value-replay observable: a new
// subscriber immediately receives the most recent value, then subsequent
// changes. Slow subscribers are conflated to the newest value rather than
// blocking the publisher.
package observable

import (
	"context"
	"sync"
)

// Value holds the current value and fans changes out to subscribers.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[int]*subscriber[T]
	nextID  int
}

type subscriber[T any] struct {
	ch     chan T
	notify chan struct{}
}

// NewValue creates an observable seeded with an initial value.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[int]*subscriber[T]),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set publishes a new value to all subscribers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.current = val
	for _, sub := range v.subs {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	v.mu.Unlock()
}

// Subscribe returns a channel that first yields the current value and then
// each change, conflated to the latest. The subscription ends when ctx is
// done; the channel is closed afterwards.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	sub := &subscriber[T]{
		ch:     make(chan T, 1),
		notify: make(chan struct{}, 1),
	}

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = sub
	v.mu.Unlock()

	// Replay the value current at subscription time.
	sub.notify <- struct{}{}

	go func() {
		defer func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
			close(sub.ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
				v.mu.Lock()
				val := v.current
				v.mu.Unlock()
				select {
				case sub.ch <- val:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub.ch
}
