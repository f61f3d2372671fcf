// ABOUTME: Hub that lets a flow wait for the next message on a conversation key
// ABOUTME: Platform adapters deliver inbound messages, waiting flows receive them in FIFO order

// Package replies pairs inbound chat messages with flows that are waiting
// for them, such as a password challenge waiting for a private reply.
package replies

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Await when no message arrives in time.
var ErrTimeout = errors.New("timed out waiting for reply")

type waiter[T any] struct {
	ch chan T
}

// Hub routes delivered values to waiters registered under the same key.
type Hub[T any] struct {
	mu      sync.Mutex
	waiters map[string][]*waiter[T]
}

// NewHub creates an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		waiters: make(map[string][]*waiter[T]),
	}
}

// Await blocks until a value is delivered for key, the timeout elapses, or ctx ends.
// A zero or negative timeout waits until ctx ends.
func (h *Hub[T]) Await(ctx context.Context, key string, timeout time.Duration) (T, error) {
	var zero T

	w := &waiter[T]{ch: make(chan T, 1)}
	h.mu.Lock()
	h.waiters[key] = append(h.waiters[key], w)
	h.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case v := <-w.ch:
		return v, nil
	case <-waitCtx.Done():
	}

	if !h.remove(key, w) {
		// Deliver already claimed this waiter, so a value is in flight
		return <-w.ch, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	return zero, ErrTimeout
}

// Deliver hands v to the oldest waiter for key.
// It reports whether a waiter took it.
func (h *Hub[T]) Deliver(key string, v T) bool {
	h.mu.Lock()
	queue := h.waiters[key]
	if len(queue) == 0 {
		h.mu.Unlock()
		return false
	}
	w := queue[0]
	if len(queue) == 1 {
		delete(h.waiters, key)
	} else {
		h.waiters[key] = queue[1:]
	}
	h.mu.Unlock()

	w.ch <- v
	return true
}

// Pending returns how many waiters are registered for key.
func (h *Hub[T]) Pending(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[key])
}

// remove unregisters w, reporting whether it was still registered.
func (h *Hub[T]) remove(key string, w *waiter[T]) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	queue := h.waiters[key]
	for i, candidate := range queue {
		if candidate != w {
			continue
		}
		rest := append(queue[:i:i], queue[i+1:]...)
		if len(rest) == 0 {
			delete(h.waiters, key)
		} else {
			h.waiters[key] = rest
		}
		return true
	}
	return false
}

// PrivateKey is the conversation key for a user's private messages.
func PrivateKey(userID string) string {
	return "private:" + userID
}

// ChannelKey is the conversation key for one user's messages in one channel.
func ChannelKey(channelID, userID string) string {
	return "channel:" + channelID + ":" + userID
}
