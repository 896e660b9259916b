// Package dedupe remembers recently seen notification ids so a retried
// delivery is acknowledged without being broadcast twice.
package dedupe

import (
	"sync"
)

const defaultMaxSize = 4096

// Deduper records seen ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded and records it if
	// not. The check and the write are atomic.
	SeenAndRecord(id string) bool

	// Forget removes id so it may be processed again.
	Forget(id string)

	Len() int
}

// Window is a Deduper that keeps the most recent ids in a ring. Once full,
// recording a new id evicts the oldest one.
type Window struct {
	mu    sync.Mutex
	seen  map[string]int
	ring  []string
	next  int
	count int
}

// New returns a Window holding at most WithMaxSize ids.
func New(opts ...Option) *Window {
	o := options{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Window{
		seen: make(map[string]int, o.maxSize),
		ring: make([]string, o.maxSize),
	}
}

func (w *Window) SeenAndRecord(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}
	if w.count == len(w.ring) {
		if old := w.ring[w.next]; old != "" {
			delete(w.seen, old)
		}
	} else {
		w.count++
	}
	w.ring[w.next] = id
	w.seen[id] = w.next
	w.next = (w.next + 1) % len(w.ring)
	return false
}

// Forget clears id. Its ring slot stays occupied until overwritten.
func (w *Window) Forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot, ok := w.seen[id]; ok {
		delete(w.seen, id)
		w.ring[slot] = ""
	}
}

// Len returns the number of remembered ids.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
