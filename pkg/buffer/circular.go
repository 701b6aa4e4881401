package buffer

import (
	"sync"

	"github.com/c360/corazonn/errors"
)

// circularQueue is a thread-safe circular queue with a drop overflow policy.
type circularQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	stats   *Statistics
	metrics *queueMetrics
	opts    *queueOptions[T]
}

func newCircularQueue[T any](capacity int, opts *queueOptions[T]) (*circularQueue[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularQueue", "metrics registration")
		}
	}

	return &circularQueue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item according to the overflow policy.
func (q *circularQueue[T]) Write(item T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Write", "queue closed")
	}

	var (
		dropped    T
		hasDropped bool
	)

	if q.size == q.capacity {
		q.stats.Drop()
		if q.metrics != nil {
			q.metrics.recordDrop()
		}

		if q.opts.overflowPolicy == DropNewest {
			q.mu.Unlock()
			if q.opts.dropCallback != nil {
				q.opts.dropCallback(item)
			}
			return ErrItemDropped
		}

		var zero T
		dropped, hasDropped = q.items[q.tail], true
		q.items[q.tail] = zero
		q.tail = (q.tail + 1) % q.capacity
		q.size--
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++

	q.stats.Write()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordWrite(q.size, q.capacity)
	}
	q.mu.Unlock()

	if hasDropped && q.opts.dropCallback != nil {
		q.opts.dropCallback(dropped)
	}
	return nil
}

// Read retrieves and removes the oldest item.
func (q *circularQueue[T]) Read() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero
	q.tail = (q.tail + 1) % q.capacity
	q.size--

	q.stats.Read()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.updateSize(q.size, q.capacity)
	}
	return item, true
}

// ReadBatch retrieves and removes up to max items.
func (q *circularQueue[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	n := min(max, q.size)
	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = q.items[q.tail]
		q.items[q.tail] = zero
		q.tail = (q.tail + 1) % q.capacity
		q.stats.Read()
	}
	q.size -= n

	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.updateSize(q.size, q.capacity)
	}
	return result
}

// Peek returns the oldest item without removing it.
func (q *circularQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}
	return q.items[q.tail], true
}

func (q *circularQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *circularQueue[T]) Capacity() int {
	return q.capacity
}

// Clear removes all items.
func (q *circularQueue[T]) Clear() {
	q.mu.Lock()

	var zero T
	var drained []T
	if q.opts.dropCallback != nil {
		drained = make([]T, 0, q.size)
	}
	for i := 0; i < q.size; i++ {
		idx := (q.tail + i) % q.capacity
		if drained != nil {
			drained = append(drained, q.items[idx])
		}
		q.items[idx] = zero
	}
	q.head, q.tail, q.size = 0, 0, 0

	q.stats.UpdateSize(0)
	if q.metrics != nil {
		q.metrics.updateSize(0, q.capacity)
	}
	q.mu.Unlock()

	for _, item := range drained {
		q.opts.dropCallback(item)
	}
}

func (q *circularQueue[T]) Stats() *Statistics {
	return q.stats
}

// Close rejects further writes.
func (q *circularQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
