package storage

// ring is a fixed-capacity, most-recent-first buffer. Both the detection
// store and the audit log share this eviction policy: prepend, then drop
// everything past capacity. Callers are responsible for locking.
type ring[T any] struct {
	capacity int
	items    []*T
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{
		capacity: capacity,
		items:    make([]*T, 0, capacity),
	}
}

// prepend inserts at the head and evicts from the tail once over
// capacity, returning the evicted item if any
func (r *ring[T]) prepend(item *T) *T {
	var evicted *T
	if len(r.items) < r.capacity {
		r.items = append(r.items, nil)
	} else {
		evicted = r.items[len(r.items)-1]
	}
	copy(r.items[1:], r.items)
	r.items[0] = item
	return evicted
}

func (r *ring[T]) len() int {
	return len(r.items)
}

// snapshot returns a copy of the backing slice, newest first
func (r *ring[T]) snapshot() []*T {
	out := make([]*T, len(r.items))
	copy(out, r.items)
	return out
}
