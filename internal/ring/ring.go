// Package ring provides a fixed-capacity circular buffer.
package ring

// Buffer is a circular buffer that overwrites its oldest entry once full.
// It is not safe for concurrent use; owners guard it with their own lock.
type Buffer[T any] struct {
	entries  []T
	capacity int
	head     int // index where the next write goes
}

// New creates a buffer holding at most capacity entries. A capacity below one
// is treated as one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest entry when at capacity. It reports
// whether an entry was evicted.
func (b *Buffer[T]) Push(v T) bool {
	evicted := false
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, v)
	} else {
		b.entries[b.head] = v
		evicted = true
	}
	b.head = (b.head + 1) % b.capacity
	return evicted
}

// Len returns the number of entries.
func (b *Buffer[T]) Len() int {
	return len(b.entries)
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Each calls fn for every entry, oldest first. fn may modify the entry.
func (b *Buffer[T]) Each(fn func(v *T)) {
	if len(b.entries) < b.capacity {
		for i := range b.entries {
			fn(&b.entries[i])
		}
		return
	}
	for i := 0; i < b.capacity; i++ {
		fn(&b.entries[(b.head+i)%b.capacity])
	}
}

// Retain keeps only the entries for which keep returns true, preserving
// order, and returns how many were removed.
func (b *Buffer[T]) Retain(keep func(v *T) bool) int {
	kept := make([]T, 0, b.capacity)
	b.Each(func(v *T) {
		if keep(v) {
			kept = append(kept, *v)
		}
	})

	removed := len(b.entries) - len(kept)
	b.entries = kept
	b.head = len(kept) % b.capacity
	return removed
}

// Slice returns a copy of the entries, oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, 0, len(b.entries))
	b.Each(func(v *T) { out = append(out, *v) })
	return out
}

// Reset removes every entry.
func (b *Buffer[T]) Reset() {
	b.entries = b.entries[:0]
	b.head = 0
}
