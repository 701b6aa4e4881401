package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func startOutput(t *testing.T, registry *metric.MetricsRegistry) *Output {
	t.Helper()
	out, err := NewOutput(Deps{Config: testConfig(), MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })
	return out
}

// dial connects a client and consumes its hello envelope
func dial(t *testing.T, out *Output) (*websocket.Conn, string) {
	t.Helper()
	url := "ws://" + out.Addr().String() + out.cfg.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, TypeHello, env.Type)
	var hello map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &hello))
	require.Equal(t, env.ID, hello["client_id"])
	return conn, env.ID
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative port", func(c *Config) { c.Port = -1 }, true},
		{"relative path", func(c *Config) { c.Path = "ws" }, true},
		{"empty path", func(c *Config) { c.Path = "" }, true},
		{"zero client buffer", func(c *Config) { c.ClientBuffer = 0 }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
		{"zero ping interval", func(c *Config) { c.PingInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutput_Meta(t *testing.T) {
	out, err := NewOutput(Deps{Config: DefaultConfig()})
	require.NoError(t, err)

	assert.Equal(t, "websocket-output-8081", out.Name())
	assert.Equal(t, "output", out.Meta().Type)
	assert.Contains(t, out.Meta().Description, "0.0.0.0:8081/ws")
	assert.False(t, out.Health().Healthy)
	assert.Nil(t, out.Addr())
}

func TestOutput_PublishBeforeStart(t *testing.T) {
	out, err := NewOutput(Deps{Config: testConfig()})
	require.NoError(t, err)

	err = out.Publish(context.Background(), ppg.BeatEvent{})
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.True(t, errors.IsTransient(err))
}

func TestOutput_BroadcastsBeats(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out := startOutput(t, registry)

	connA, idA := dial(t, out)
	connB, idB := dial(t, out)
	assert.NotEqual(t, idA, idB)
	_, err := uuid.Parse(idA)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	ev := ppg.BeatEvent{ChannelID: 1, DetectionUnixTime: 1700000000.25, BPM: 72.5, Intensity: 0.8}
	require.NoError(t, out.Publish(context.Background(), ev))

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeBeat, env.Type)
		_, err := uuid.Parse(env.ID)
		assert.NoError(t, err)
		assert.Greater(t, env.Timestamp, int64(0))

		var got ppg.BeatEvent
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, ev, got)
	}

	assert.True(t, out.Health().Healthy)
	assert.Equal(t, "2 clients", out.Health().Details)
	require.Eventually(t, func() bool {
		// two hellos and two beats
		return testutil.ToFloat64(out.metrics.messagesSent) == 4
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(out.metrics.connectionTotal))
}

func TestOutput_ClientDisconnect(t *testing.T) {
	out := startOutput(t, nil)

	conn, _ := dial(t, out)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return out.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, out.Publish(context.Background(), ppg.BeatEvent{ChannelID: 0}))
}

func TestOutput_StopDisconnectsClients(t *testing.T) {
	out, err := NewOutput(Deps{Config: testConfig()})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))

	conn, _ := dial(t, out)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, out.Stop(2*time.Second))
	require.NoError(t, out.Stop(time.Second))
	assert.Equal(t, 0, out.ClientCount())
	assert.False(t, out.Health().Healthy)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestClient_EnqueueDropsWhenFull(t *testing.T) {
	c := &client{send: make(chan []byte, 2)}

	assert.True(t, c.enqueue([]byte("a")))
	assert.True(t, c.enqueue([]byte("b")))
	assert.False(t, c.enqueue([]byte("c")))
	assert.Equal(t, int64(1), c.dropped.Load())

	c.closed.Store(true)
	<-c.send
	assert.False(t, c.enqueue([]byte("d")))
}
