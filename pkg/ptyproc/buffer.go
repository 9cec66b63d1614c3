package ptyproc

import "sync"

// Buffer accumulates everything a process writes to its terminal. Readers
// address it by byte offset, so a reader's cursor only moves forward.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	notify chan struct{}
}

func NewBuffer() *Buffer {
	return &Buffer{notify: make(chan struct{}, 1)}
}

// Write appends p and wakes a waiting reader. It never blocks on readers.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}

	return len(p), nil
}

// Snapshot returns a copy of the bytes written after offset from and the
// offset of the live end of the buffer.
func (b *Buffer) Snapshot(from int) ([]byte, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := len(b.data)
	if from < 0 {
		from = 0
	}
	if from >= end {
		return nil, end
	}

	out := make([]byte, end-from)
	copy(out, b.data[from:])
	return out, end
}

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Output is signalled after new bytes arrive. Signals are coalesced.
func (b *Buffer) Output() <-chan struct{} {
	return b.notify
}
