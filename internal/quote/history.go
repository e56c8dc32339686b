package quote

import "sync"

// History is a thread-safe fixed-capacity ring. Once full, each Push evicts
// the oldest item.
type History[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // oldest item
	count    int
	capacity int

	// Stats
	totalPushed  int64
	totalEvicted int64
}

// NewHistory creates a ring holding at most capacity items.
func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item, evicting the oldest one if the ring is full.
// Returns true if an item was evicted.
func (h *History[T]) Push(item T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalPushed++

	if h.count < h.capacity {
		h.buf[(h.head+h.count)%h.capacity] = item
		h.count++
		return false
	}

	// Full: overwrite the oldest slot and advance head.
	h.buf[h.head] = item
	h.head = (h.head + 1) % h.capacity
	h.totalEvicted++
	return true
}

// Snapshot returns a copy of the items, oldest first.
func (h *History[T]) Snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]T, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.head+i)%h.capacity]
	}
	return out
}

// Last returns the newest item.
func (h *History[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		var zero T
		return zero, false
	}
	return h.buf[(h.head+h.count-1)%h.capacity], true
}

// Len returns the current number of items.
func (h *History[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cap returns the capacity.
func (h *History[T]) Cap() int {
	return h.capacity
}

// Stats returns ring statistics.
func (h *History[T]) Stats() HistoryStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistoryStats{
		Count:        h.count,
		Capacity:     h.capacity,
		TotalPushed:  h.totalPushed,
		TotalEvicted: h.totalEvicted,
	}
}

// HistoryStats contains ring statistics.
type HistoryStats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalEvicted int64
}
