package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
)

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, int) error { return nil }

	tests := []struct {
		name          string
		workers       int
		queueSize     int
		wantWorkers   int
		wantQueueSize int
	}{
		{"explicit", 4, 100, 4, 100},
		{"zero workers", 0, 100, 1, 100},
		{"zero queue", 2, 0, 2, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers, tt.queueSize, noop)
			assert.Equal(t, tt.wantWorkers, p.workers)
			assert.Equal(t, tt.wantQueueSize, p.queueSize)
		})
	}

	assert.PanicsWithValue(t, ErrNilProcessor, func() { NewPool[int](1, 1, nil) })
}

func TestPool_Lifecycle(t *testing.T) {
	p := NewPool(1, 4, func(context.Context, int) error { return nil })

	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)
	require.NoError(t, p.Stop(time.Second), "stopping an unstarted pool is a no-op")

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	require.NoError(t, p.Stop(time.Second), "second stop is a no-op")
}

func TestPool_SingleWorkerPreservesOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	p := NewPool(1, 200, func(_ context.Context, v int) error {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 200; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(5*time.Second))

	require.Len(t, seen, 200)
	for i, v := range seen {
		require.Equal(t, i, v)
	}
}

func TestPool_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 2, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	// One item in flight plus two queued fills the pool
	require.NoError(t, p.Submit(0))
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(1))
	require.NoError(t, p.Submit(2))

	err := p.Submit(3)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, errors.Is(err, cerrors.ErrQueueFull))
	assert.Equal(t, "queue_full", cerrors.ErrorKind(err))

	close(release)
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestPool_ErrorsAndPanics(t *testing.T) {
	var reported []error
	var mu sync.Mutex

	p := NewPool(1, 10, func(_ context.Context, v int) error {
		switch v {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	}, WithErrorHandler[int](func(_ int, err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	require.NoError(t, p.Start(context.Background()))

	for _, v := range []int{0, 1, 2, 3} {
		require.NoError(t, p.Submit(v))
	}
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(4), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)

	require.Len(t, reported, 2)
	var pe *PanicError
	assert.True(t, errors.As(reported[1], &pe))
	assert.Equal(t, "kaboom", pe.Value)
}

func TestPool_ContextCancellationStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var processed atomic.Int64

	p := NewPool(2, 10, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Submit(1))
	require.Eventually(t, func() bool { return processed.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, p.Stop(time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := NewPool(1, 1, func(context.Context, int) error {
		<-block
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))

	assert.ErrorIs(t, p.Stop(20*time.Millisecond), ErrStopTimeout)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	noop := func(context.Context, int) error { return nil }

	a := NewPool(1, 4, noop, WithMetricsRegistry[int](registry, "channel_0"))
	b := NewPool(1, 4, noop, WithMetricsRegistry[int](registry, "channel_1"))
	require.NotNil(t, a.metrics)
	require.NotNil(t, b.metrics)

	dup := NewPool(1, 4, noop, WithMetricsRegistry[int](registry, "channel_0"))
	assert.Nil(t, dup.metrics)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Submit(1))
	require.NoError(t, a.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "corazonn_worker_submitted_total" {
			found = true
			assert.Len(t, mf.GetMetric(), 2)
		}
	}
	assert.True(t, found)
}
