// Package buffer holds the bounded retention window of recent log events.
package buffer

import (
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/pkg/ring"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 500

// Buffer is a fixed-capacity, insertion-ordered store of events keyed by ID.
// Inserting at capacity evicts the oldest event. Buffer is not safe for
// concurrent use; the pipeline serializes access.
type Buffer struct {
	events     *ring.Ring[string, logevent.Event]
	duplicates uint64
	inserted   uint64
}

// New creates a buffer holding at most capacity events.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{events: ring.New[string, logevent.Event](capacity)}
}

// Insert stores e. An event whose ID is already buffered is ignored and
// counted as a duplicate. When the buffer was full the evicted event is
// returned.
func (b *Buffer) Insert(e logevent.Event) (evicted *logevent.Event, inserted bool) {
	old, added := b.events.Add(e.ID, e)
	if !added {
		b.duplicates++
		return nil, false
	}
	b.inserted++
	if old != nil {
		return &old.Value, true
	}
	return nil, true
}

// SnapshotNewestFirst returns a copy of the buffered events, newest first.
func (b *Buffer) SnapshotNewestFirst() []logevent.Event {
	return b.events.NewestFirst()
}

// Contains reports whether an event with id is buffered.
func (b *Buffer) Contains(id string) bool {
	return b.events.Contains(id)
}

// Clear empties the buffer and returns the number of events removed.
// Counters are not reset.
func (b *Buffer) Clear() int {
	return b.events.Clear()
}

func (b *Buffer) Size() int     { return b.events.Len() }
func (b *Buffer) Capacity() int { return b.events.Cap() }

// Duplicates returns how many inserts were rejected for a repeated ID.
func (b *Buffer) Duplicates() uint64 { return b.duplicates }

// TotalInserted returns how many unique events were ever inserted.
func (b *Buffer) TotalInserted() uint64 { return b.inserted }
