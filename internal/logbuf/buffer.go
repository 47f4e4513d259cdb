// Package logbuf holds bounded, thread-safe scrollback for managed processes
// and the keyword heuristic used to flag a probable crash.
package logbuf

import "sync"

// Default capacities for server processes and the tunnel tool.
const (
	DefaultCapacity = 500
	TunnelCapacity  = 100
)

// Buffer is a FIFO of text lines bounded by a fixed capacity. The oldest
// line is evicted when an append would exceed it.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	head  int // index of the oldest line once the ring is full
	limit int
}

// New returns an empty buffer. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{limit: capacity, lines: make([]string, 0, min(capacity, 64))}
}

func (b *Buffer) Append(line string) {
	b.mu.Lock()
	if len(b.lines) < b.limit {
		b.lines = append(b.lines, line)
	} else {
		b.lines[b.head] = line
		b.head = (b.head + 1) % b.limit
	}
	b.mu.Unlock()
}

// Snapshot returns a copy of the lines in insertion order.
func (b *Buffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	n := copy(out, b.lines[b.head:])
	copy(out[n:], b.lines[:b.head])
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func (b *Buffer) Cap() int { return b.limit }

// Reset drops every line.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.lines = b.lines[:0]
	b.head = 0
	b.mu.Unlock()
}
