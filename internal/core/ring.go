package core

// Ring is a bounded, append-only history. When an append pushes it past limit,
// only the newest keep entries are retained.
type Ring[T any] struct {
	limit int
	keep  int
	items []T
}

// NewRing builds a ring. keep is clamped to (0, limit].
func NewRing[T any](limit, keep int) *Ring[T] {
	if limit <= 0 {
		limit = 1
	}
	if keep <= 0 || keep > limit {
		keep = limit
	}
	return &Ring[T]{limit: limit, keep: keep}
}

// Append adds an item, truncating oldest entries on overflow.
func (r *Ring[T]) Append(item T) {
	r.items = append(r.items, item)
	if len(r.items) > r.limit {
		trimmed := make([]T, r.keep)
		copy(trimmed, r.items[len(r.items)-r.keep:])
		r.items = trimmed
	}
}

// Tail returns a copy of the newest n items in insertion order.
func (r *Ring[T]) Tail(n int) []T {
	if n <= 0 || n > len(r.items) {
		n = len(r.items)
	}
	out := make([]T, n)
	copy(out, r.items[len(r.items)-n:])
	return out
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	return len(r.items)
}

// Reset replaces the contents, keeping only the newest limit items.
func (r *Ring[T]) Reset(items []T) {
	if len(items) > r.limit {
		items = items[len(items)-r.limit:]
	}
	r.items = append(make([]T, 0, len(items)), items...)
}
