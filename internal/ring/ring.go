// Package ring provides a fixed-capacity FIFO buffer.
package ring

import "sync"

// Buffer is a fixed-size circular buffer. When full, pushing a new item
// overwrites the oldest one. Safe for concurrent use.
type Buffer[T any] struct {
	buf  []T
	size int
	head int // write position
	tail int // oldest item
	full bool
	mu   sync.RWMutex
}

// New creates a buffer holding at most size items.
// A non-positive size falls back to 1024.
func New[T any](size int) *Buffer[T] {
	if size <= 0 {
		size = 1024
	}
	return &Buffer[T]{
		buf:  make([]T, size),
		size: size,
	}
}

// Push appends v. If the buffer was full, the evicted item is returned with true.
func (b *Buffer[T]) Push(v T) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted T
	dropped := false
	if b.full {
		evicted = b.buf[b.tail]
		dropped = true
		b.tail = (b.tail + 1) % b.size
	}
	b.buf[b.head] = v
	b.head = (b.head + 1) % b.size
	if b.head == b.tail {
		b.full = true
	}
	return evicted, dropped
}

// Items returns a copy of the contents, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(b.lenLocked())
}

// Last returns a copy of the newest n items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.lenLocked() {
		n = b.lenLocked()
	}
	return b.lastLocked(n)
}

func (b *Buffer[T]) lastLocked(n int) []T {
	out := make([]T, 0, n)
	if n <= 0 {
		return out
	}
	start := (b.head - n + b.size) % b.size
	for i := 0; i < n; i++ {
		out = append(out, b.buf[(start+i)%b.size])
	}
	return out
}

// Len returns the number of items held.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

func (b *Buffer[T]) lenLocked() int {
	if b.full {
		return b.size
	}
	if b.head >= b.tail {
		return b.head - b.tail
	}
	return (b.size - b.tail) + b.head
}

// Reset empties the buffer and releases references held by old slots.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.head = 0
	b.tail = 0
	b.full = false
}

// Capacity returns the maximum number of items.
func (b *Buffer[T]) Capacity() int {
	return b.size
}
