// Package audit keeps a bounded in-memory trail of log records and records
// authorization decisions.
package audit

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries a Ring holds when none is given.
const DefaultCapacity = 10000

// Entry is one captured log record.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Target    string            `json:"target,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Ring is a fixed-capacity, lock-protected buffer of entries. When full, the
// oldest entry is overwritten.
type Ring struct {
	mu    sync.RWMutex
	buf   []Entry
	start int
	n     int
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Entry, capacity)}
}

// Add appends e, evicting the oldest entry if the ring is full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// Recent returns up to limit of the newest entries in chronological order.
// A non-positive limit returns everything.
func (r *Ring) Recent(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]Entry, limit)
	first := r.n - limit
	for i := 0; i < limit; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of entries held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Clear drops every entry.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.start = 0
	r.n = 0
}
