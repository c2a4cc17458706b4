// Package replay implements the bounded FIFO of recent Frames used to
// service catch-up requests without a fresh Keyframe. One buffer is
// shared process-wide across all subscribers, since there are no
// sparse or per-client subscriptions.
package replay

import (
	"sync"

	"bitfeed/internal/frame"
)

// Buffer is a bounded, version-ordered FIFO of Frames. Capacity is
// fixed at construction; Add evicts the oldest entry once full.
type Buffer struct {
	mu       sync.RWMutex
	entries  []frame.Frame
	capacity int
}

// New creates a Buffer that retains at most capacity Frames.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{entries: make([]frame.Frame, 0, capacity), capacity: capacity}
}

// Add appends f, evicting the oldest entry if the buffer is full.
// Callers must ensure f.Version is exactly one greater than the
// previously appended Frame's version (the Publisher's single-writer
// tick loop guarantees this).
func (b *Buffer) Add(f frame.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, f)
}

// Len returns the number of Frames currently retained.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// OldestVersion returns the lowest retained version and true, or
// (0, false) if the buffer is empty.
func (b *Buffer) OldestVersion() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[0].Version, true
}

// Since returns a copy of every retained Frame with Version > c, in
// ascending version order. Returns (frames, ok) where ok is false if
// the buffer does not begin at or before c+1 — i.e. the gap cannot be
// closed purely from this buffer's contents (spec §4.5).
func (b *Buffer) Since(c uint64) (frames []frame.Frame, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return nil, false
	}
	if b.entries[0].Version > c+1 {
		return nil, false
	}

	out := make([]frame.Frame, 0, len(b.entries))
	for _, f := range b.entries {
		if f.Version > c {
			out = append(out, f)
		}
	}
	return out, true
}
