package buffer

// Ring is a fixed-capacity sliding window. Pushing into a full ring
// overwrites the oldest element. A Ring is owned by a single goroutine
// and does no locking.
type Ring[T any] struct {
	items []T
	start int
	size  int
}

// NewRing creates a ring holding at most capacity elements. Capacity is clamped to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
// It returns the evicted element and whether one was evicted.
func (r *Ring[T]) Push(v T) (T, bool) {
	var evicted T
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return evicted, false
	}
	evicted = r.items[r.start]
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	return evicted, true
}

// Len returns the number of elements held.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Full reports whether Len equals Cap.
func (r *Ring[T]) Full() bool { return r.size == len(r.items) }

// At returns the i-th element, 0 being the oldest. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("buffer: ring index out of range")
	}
	return r.items[(r.start+i)%len(r.items)]
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.size - 1), true
}

// Values copies the elements, oldest first, into a new slice.
func (r *Ring[T]) Values() []T {
	return r.Tail(r.size)
}

// Tail copies the newest n elements, oldest first. n is clamped to Len.
func (r *Ring[T]) Tail(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	offset := r.size - n
	for i := range out {
		out[i] = r.At(offset + i)
	}
	return out
}

// Do calls fn for every element, oldest first.
func (r *Ring[T]) Do(fn func(T)) {
	for i := 0; i < r.size; i++ {
		fn(r.items[(r.start+i)%len(r.items)])
	}
}

// Clear empties the ring without releasing its storage.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start, r.size = 0, 0
}
