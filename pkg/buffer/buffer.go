// Package buffer provides the bounded buffers used on the hot path: a
// thread-safe circular queue with overflow policies for hand-off between
// goroutines, and a single-owner Ring for sliding sample windows.
package buffer

import stderrors "errors"

// Queue is a bounded FIFO shared between producers and a consumer.
// The queue is parameterized by item type T for type safety.
type Queue[T any] interface {
	// Write adds an item to the queue. A full queue applies the overflow policy;
	// under DropNewest the item is discarded and ErrItemDropped returned.
	// Write never blocks.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the queue is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items the queue can hold.
	Capacity() int

	// Clear removes all items, passing each to the drop callback if one is set.
	Clear()

	// Stats returns queue statistics.
	Stats() *Statistics

	// Close rejects further writes. Items already queued remain readable.
	Close() error
}

// OverflowPolicy defines how the queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when the queue is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a config string to a policy. Unknown values map to DropOldest.
func ParseOverflowPolicy(s string) OverflowPolicy {
	if s == "drop_newest" || s == "DropNewest" {
		return DropNewest
	}
	return DropOldest
}

// ErrItemDropped is returned by Write when the DropNewest policy discards the
// incoming item. DropOldest evictions are not errors: the new item is stored.
var ErrItemDropped = stderrors.New("buffer: item dropped by overflow policy")

// DropCallback is called with every item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularQueue creates a circular queue with the given capacity and options.
// Statistics are always collected. Prometheus metrics are enabled with WithMetrics.
func NewCircularQueue[T any](capacity int, options ...Option[T]) (Queue[T], error) {
	opts := applyOptions(options...)
	return newCircularQueue(capacity, opts)
}
