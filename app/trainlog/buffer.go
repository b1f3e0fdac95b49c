package trainlog

import (
	"bytes"
	"sync"
)

// DefaultCapacity is the number of lines kept by the training log buffer
const DefaultCapacity = 1000

// Buffer keeps the last N log lines in a ring. Oldest lines are evicted first.
// Thread safe, also usable as io.Writer splitting the input on new lines.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	start int // index of the oldest line once the ring is full
	size  int
}

// NewBuffer makes a Buffer for up to capacity lines, non-positive capacity means DefaultCapacity
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest one if full
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(line)
}

// Write satisfies io.Writer, each non-empty line is appended
func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for line := range bytes.SplitSeq(p, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		b.append(string(line))
	}
	return len(p), nil
}

// Lines returns buffered lines, oldest first
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]string, 0, b.size)
	for i := range b.size {
		res = append(res, b.lines[(b.start+i)%len(b.lines)])
	}
	return res
}

// Len returns number of buffered lines
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Reset drops all lines
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.lines)
	b.start, b.size = 0, 0
}

func (b *Buffer) append(line string) {
	if b.size < len(b.lines) {
		b.lines[(b.start+b.size)%len(b.lines)] = line
		b.size++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % len(b.lines)
}
