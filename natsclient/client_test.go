package natsclient

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithCircuitBreakerTimeout(0))
	assert.Error(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(3),
		WithCircuitBreakerTimeout(time.Hour),
		WithMetrics(metric.NewMetricsRegistry()),
	)
	require.NoError(t, err)

	boom := stderrors.New("server unavailable")
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, client.execute(func() error { return boom }), boom)
	}
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())

	assert.ErrorIs(t, client.execute(func() error { return boom }), boom)
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())
	assert.Equal(t, StatusCircuitOpen, client.Status())

	called := false
	err = client.execute(func() error { called = true; return nil })
	assert.False(t, called, "open breaker must not run the call")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))

	status := client.GetStatus()
	assert.Equal(t, int64(3), status.FailureCount)
	assert.Equal(t, "open", status.Breaker)
	assert.False(t, status.LastFailure.IsZero())
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	boom := stderrors.New("server unavailable")
	_ = client.execute(func() error { return boom })
	require.NoError(t, client.execute(func() error { return nil }))
	_ = client.execute(func() error { return boom })

	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestCircuitBreaker_IgnoresInvalidInput(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	bad := errors.WrapInvalid(errors.ErrInvalidData, "test", "Publish", "encode")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, client.execute(func() error { return bad }), errors.ErrInvalidData)
	}
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
	assert.Zero(t, client.GetStatus().FailureCount)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(1),
		WithCircuitBreakerTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	_ = client.execute(func() error { return stderrors.New("down") })
	require.Equal(t, gobreaker.StateOpen, client.BreakerState())

	require.Eventually(t, func() bool {
		return client.BreakerState() == gobreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	require.NoError(t, client.execute(func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0),
		WithCircuitBreakerThreshold(2),
		WithCircuitBreakerTimeout(time.Hour),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		err := client.Connect(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
	}
	assert.Equal(t, StatusCircuitOpen, client.Status())

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, client.IsHealthy())
}

func TestOperationsWithoutConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "corazonn.beat.0", []byte("{}")), ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "corazonn.ppg.>", func(context.Context, []byte) {}), ErrNotConnected)
	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.JetStream()
	assert.Error(t, err)
	assert.Nil(t, client.GetConnection())
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("user", "secret"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.password)
	assert.Equal(t, StatusDisconnected, client.Status())

	err = client.Connect(context.Background())
	assert.True(t, errors.IsFatal(err))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(stderrors.New("nats: bucket name already in use")))
	assert.False(t, isAlreadyExistsError(stderrors.New("timeout")))
}

func TestHealthChangeCallback(t *testing.T) {
	changes := make(chan bool, 4)
	client, err := NewClient("nats://localhost:4222",
		WithHealthInterval(0),
		WithHealthChangeCallback(func(healthy bool) { changes <- healthy }),
	)
	require.NoError(t, err)

	client.handleDisconnect(nil, stderrors.New("connection reset"))
	assert.Equal(t, StatusReconnecting, client.Status())
	select {
	case healthy := <-changes:
		assert.False(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("no health change after disconnect")
	}

	client.handleClosed(nil)
	select {
	case healthy := <-changes:
		assert.False(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("no health change after close")
	}
}
