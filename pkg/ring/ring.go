// Package ring provides a fixed-capacity FIFO with a key index for O(1)
// duplicate detection.
package ring

// Entry is a keyed value held in a Ring.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Ring keeps the most recent entries in insertion order.
// When full, adding a new key evicts the oldest entry. Ring is not safe for
// concurrent use.
type Ring[K comparable, V any] struct {
	slots []Entry[K, V]
	head  int // slot of the oldest entry
	size  int
	index map[K]int // key -> slot
}

// New creates a ring holding at most capacity entries.
// Zero or negative capacity yields a ring that stores nothing.
func New[K comparable, V any](capacity int) *Ring[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring[K, V]{
		slots: make([]Entry[K, V], capacity),
		index: make(map[K]int, capacity),
	}
}

// Contains reports whether key is currently held.
func (r *Ring[K, V]) Contains(key K) bool {
	_, ok := r.index[key]
	return ok
}

// Get returns the value stored under key.
func (r *Ring[K, V]) Get(key K) (V, bool) {
	slot, ok := r.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return r.slots[slot].Value, true
}

// Add appends an entry. Adding a key that is already present is a no-op and
// returns added=false. If the ring was full, the evicted oldest entry is
// returned.
func (r *Ring[K, V]) Add(key K, val V) (evicted *Entry[K, V], added bool) {
	capacity := len(r.slots)
	if capacity == 0 {
		return nil, false
	}
	if _, exists := r.index[key]; exists {
		return nil, false
	}

	if r.size == capacity {
		old := r.slots[r.head]
		delete(r.index, old.Key)
		evicted = &old
		r.slots[r.head] = Entry[K, V]{Key: key, Value: val}
		r.index[key] = r.head
		r.head = (r.head + 1) % capacity
		return evicted, true
	}

	slot := (r.head + r.size) % capacity
	r.slots[slot] = Entry[K, V]{Key: key, Value: val}
	r.index[key] = slot
	r.size++
	return nil, true
}

// NewestFirst returns a copy of the held values, most recently added first.
func (r *Ring[K, V]) NewestFirst() []V {
	out := make([]V, 0, r.size)
	for i := r.size - 1; i >= 0; i-- {
		out = append(out, r.slots[(r.head+i)%len(r.slots)].Value)
	}
	return out
}

// Oldest returns the entry that the next eviction would remove.
func (r *Ring[K, V]) Oldest() (Entry[K, V], bool) {
	if r.size == 0 {
		return Entry[K, V]{}, false
	}
	return r.slots[r.head], true
}

// Clear drops all entries and returns how many were held.
func (r *Ring[K, V]) Clear() int {
	n := r.size
	clear(r.slots)
	clear(r.index)
	r.head, r.size = 0, 0
	return n
}

// Len returns the number of entries held.
func (r *Ring[K, V]) Len() int {
	return r.size
}

// Cap returns the maximum number of entries.
func (r *Ring[K, V]) Cap() int {
	return len(r.slots)
}
