// ABOUTME: Bounded per-key reply cooldown tracker owned by a single agent
// ABOUTME: Expiry is measured on an injected clock; oldest keys are evicted at capacity

package cooldown

import (
	"container/list"
	"sync"
	"time"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/clock"
)

// DefaultMaxKeys bounds how many chats one agent tracks at once.
const DefaultMaxKeys = 4096

// entry stores the expiry and list element for a tracked key.
type entry struct {
	until   time.Time
	element *list.Element
}

// Window tracks, per key, the earliest time another action is allowed.
// Uses a doubly-linked list in mark order for O(1) eviction.
type Window struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // oldest mark at front
	maxKeys int
	clock   clock.Clock
}

// New creates a Window. maxKeys <= 0 uses DefaultMaxKeys.
func New(clk clock.Clock, maxKeys int) *Window {
	if clk == nil {
		clk = clock.Real{}
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Window{
		keys:    make(map[string]*entry),
		order:   list.New(),
		maxKeys: maxKeys,
		clock:   clk,
	}
}

// Allowed reports whether key is outside its cooldown.
func (w *Window) Allowed(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.keys[key]
	if !ok {
		return true
	}
	return !w.clock.Now().Before(e.until)
}

// Mark starts a cooldown of length d for key. d <= 0 is a no-op.
func (w *Window) Mark(key string, d time.Duration) {
	if d <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.pruneLocked(now)

	if e, exists := w.keys[key]; exists {
		e.until = now.Add(d)
		w.order.MoveToBack(e.element)
		return
	}

	if len(w.keys) >= w.maxKeys {
		w.evictOldestLocked()
	}

	elem := w.order.PushBack(key)
	w.keys[key] = &entry{until: now.Add(d), element: elem}
}

// pruneLocked drops every expired key. Durations vary between marks, so
// mark order says nothing about expiry order and the whole list is scanned.
// Must be called with mu held.
func (w *Window) pruneLocked(now time.Time) {
	for elem := w.order.Front(); elem != nil; {
		next := elem.Next()
		key, _ := elem.Value.(string)
		if !now.Before(w.keys[key].until) {
			w.order.Remove(elem)
			delete(w.keys, key)
		}
		elem = next
	}
}

// evictOldestLocked removes the oldest key. Must be called with mu held.
func (w *Window) evictOldestLocked() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.keys, key)
}

// Reset forgets every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = make(map[string]*entry)
	w.order.Init()
}

// Len returns how many keys are tracked, including expired ones not yet pruned.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}
