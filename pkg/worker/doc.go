// Package worker provides a generic, bounded worker pool.
//
// Submit never blocks: when the queue is full the item is dropped, counted
// and ErrQueueFull is returned, so producers on a network read loop are never
// stalled by a slow consumer. A pool with one worker processes items strictly
// in submission order, which is how per-channel sample streams are serialized.
//
//	pool := worker.NewPool(1, 64, func(ctx context.Context, b ppg.ValidatedBundle) error {
//		return ch.Process(b)
//	}, worker.WithMetricsRegistry[ppg.ValidatedBundle](registry, "channel_0"))
//	_ = pool.Start(ctx)
//	_ = pool.Submit(bundle)
//	_ = pool.Stop(5 * time.Second) // drains queued items
//
// A panicking processor is recovered, counted as failed and reported to the
// WithErrorHandler callback as a *PanicError.
package worker
