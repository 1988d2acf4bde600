// Package console keeps bounded in-memory transcripts of process output and
// captured log records.
package console

import "sync"

// DefaultCapacity is the number of lines kept when no capacity is given.
const DefaultCapacity = 500

// Buffer is a bounded ring of text lines. When full, the oldest line is
// dropped. It is safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	head  int // index of the oldest line
	size  int
}

// NewBuffer returns a Buffer holding at most capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Append adds lines in order, evicting the oldest when full.
func (b *Buffer) Append(lines ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range lines {
		b.appendLocked(line)
	}
}

func (b *Buffer) appendLocked(line string) {
	c := len(b.lines)
	if b.size < c {
		b.lines[(b.head+b.size)%c] = line
		b.size++
		return
	}
	b.lines[b.head] = line
	b.head = (b.head + 1) % c
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Tail returns up to n of the newest lines, oldest first.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.snapshotLocked()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

func (b *Buffer) snapshotLocked() []string {
	out := make([]string, b.size)
	c := len(b.lines)
	for i := range b.size {
		out[i] = b.lines[(b.head+i)%c]
	}
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the maximum number of lines kept.
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Clear removes all lines.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.lines)
	b.head = 0
	b.size = 0
}

// SetCapacity resizes the buffer, keeping the newest lines that still fit.
func (b *Buffer) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.snapshotLocked()
	if len(kept) > capacity {
		kept = kept[len(kept)-capacity:]
	}
	b.lines = make([]string, capacity)
	copy(b.lines, kept)
	b.head = 0
	b.size = len(kept)
}
