// Package buffer provides bounded buffers for the sample path.
//
// Two shapes are offered:
//
//   - Queue: a thread-safe circular FIFO with a DropOldest or DropNewest
//     overflow policy, always-on Statistics and optional Prometheus metrics.
//     Writes never block, so a slow consumer can never stall a producer.
//   - Ring: a single-owner sliding window used for per-channel sample
//     history and inter-beat interval history.
//
// Queue usage:
//
//	q, err := buffer.NewCircularQueue[sink.Event](256,
//		buffer.WithOverflowPolicy[sink.Event](buffer.DropOldest),
//		buffer.WithMetrics[sink.Event](registry, "sink"),
//	)
//	_ = q.Write(ev)
//	batch := q.ReadBatch(32)
//
// Ring usage:
//
//	w := buffer.NewRing[int](150)
//	w.Push(sample)
//	recent := w.Tail(50)
package buffer
