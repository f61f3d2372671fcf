// ABOUTME: Thread-safe per-key cooldown tracker with bounded size
// ABOUTME: Used by the command router to limit how often a user may authenticate

package cooldown

import (
	"container/list"
	"sync"
	"time"
)

// entry stores when a key last started its cooldown and its place in the eviction order.
type entry struct {
	started time.Time
	element *list.Element
}

// Tracker records, per key, when the last permitted use happened.
// Entries are kept in start order so the oldest can be evicted in O(1)
// once maxSize is reached.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys, oldest start at front
	period  time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a Tracker with the given cooldown period and capacity.
// A background goroutine drops expired entries until Close is called.
func New(period time.Duration, maxSize int) *Tracker {
	return newTracker(period, maxSize, time.Now)
}

func newTracker(period time.Duration, maxSize int, now func() time.Time) *Tracker {
	if maxSize <= 0 {
		maxSize = 10000
	}
	t := &Tracker{
		entries: make(map[string]*entry),
		order:   list.New(),
		period:  period,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Period returns the cooldown length.
func (t *Tracker) Period() time.Duration {
	return t.period
}

// Try starts a cooldown for key if none is running.
// It returns true when the use is permitted. Otherwise it returns false and
// the time left until key may try again. Check and start are one atomic step.
func (t *Tracker) Try(key string) (bool, time.Duration) {
	if t.period <= 0 {
		return true, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if e, ok := t.entries[key]; ok {
		if left := t.period - now.Sub(e.started); left > 0 {
			return false, left
		}
	}

	t.startLocked(key, now)
	return true, 0
}

// Remaining returns how long key must still wait, or zero.
func (t *Tracker) Remaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return 0
	}
	if left := t.period - t.now().Sub(e.started); left > 0 {
		return left
	}
	return 0
}

// Reset clears any running cooldown for key.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		t.order.Remove(e.element)
		delete(t.entries, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// startLocked records a new cooldown start. Must be called with mu held.
func (t *Tracker) startLocked(key string, now time.Time) {
	if e, ok := t.entries[key]; ok {
		e.started = now
		t.order.MoveToBack(e.element)
		return
	}

	if len(t.entries) >= t.maxSize {
		t.evictOldest()
	}

	t.entries[key] = &entry{
		started: now,
		element: t.order.PushBack(key),
	}
}

// evictOldest removes the entry that started first. Must be called with mu held.
func (t *Tracker) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	t.order.Remove(front)
	delete(t.entries, key)
}

// cleanup periodically drops expired entries.
func (t *Tracker) cleanup() {
	interval := t.period
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.done:
			return
		}
	}
}

// sweep removes expired entries from the front of the start order.
func (t *Tracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for front := t.order.Front(); front != nil; front = t.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(t.entries[key].started) < t.period {
			return
		}
		t.order.Remove(front)
		delete(t.entries, key)
	}
}

// Close stops the cleanup goroutine. It is safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
