package osc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oscwire "github.com/c360/corazonn/codec/osc"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

// listen opens a local actuator stand-in
func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receiveBeat(t *testing.T, conn *net.UDPConn) ppg.BeatEvent {
	t.Helper()
	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	msg, err := oscwire.Decode(buf[:n])
	require.NoError(t, err)
	ev, err := oscwire.DecodeBeat(msg)
	require.NoError(t, err)
	return ev
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"empty", Config{}, true},
		{"missing name", Config{Destinations: []Destination{{Address: "127.0.0.1:9000"}}}, true},
		{"bad address", Config{Destinations: []Destination{{Name: "audio", Address: "nowhere"}}}, true},
		{"duplicate", Config{Destinations: []Destination{
			{Name: "audio", Address: "127.0.0.1:9000"},
			{Name: "audio", Address: "127.0.0.1:9001"},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig_Destinations(t *testing.T) {
	cfg := DefaultConfig()
	require.Len(t, cfg.Destinations, 2)
	assert.Equal(t, Destination{Name: "audio", Address: "127.0.0.1:8001"}, cfg.Destinations[0])
	assert.Equal(t, Destination{Name: "lighting", Address: "127.0.0.1:8002"}, cfg.Destinations[1])
}

func TestOutput_PublishesToEveryDestination(t *testing.T) {
	audio, lighting := listen(t), listen(t)
	registry := metric.NewMetricsRegistry()

	out, err := NewOutput(Deps{
		Config: Config{Destinations: []Destination{
			{Name: "audio", Address: audio.LocalAddr().String()},
			{Name: "lighting", Address: lighting.LocalAddr().String()},
		}},
		MetricsRegistry: registry,
	})
	require.NoError(t, err)
	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(time.Second)

	ev := ppg.BeatEvent{ChannelID: 3, DetectionUnixTime: 1700000000.5, BPM: 64, Intensity: 0.5}
	require.NoError(t, out.Publish(context.Background(), ev))

	for _, conn := range []*net.UDPConn{audio, lighting} {
		got := receiveBeat(t, conn)
		assert.Equal(t, 3, got.ChannelID)
		assert.InDelta(t, 1700000000.5, got.DetectionUnixTime, 0.001)
		assert.InDelta(t, 64.0, got.BPM, 1e-4)
		assert.InDelta(t, 0.5, got.Intensity, 1e-6)
	}

	published := registry.CoreMetrics().MessagesPublished
	assert.Equal(t, 1.0, testutil.ToFloat64(published.WithLabelValues("osc-output", "audio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(published.WithLabelValues("osc-output", "lighting")))
	assert.True(t, out.Health().Healthy)
}

func TestOutput_PublishBeforeStart(t *testing.T) {
	out, err := NewOutput(Deps{Config: DefaultConfig()})
	require.NoError(t, err)

	err = out.Publish(context.Background(), ppg.BeatEvent{})
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.False(t, out.Health().Healthy)
}

func TestOutput_StopIsIdempotent(t *testing.T) {
	out, err := NewOutput(Deps{Config: Config{Destinations: []Destination{
		{Name: "audio", Address: listen(t).LocalAddr().String()},
	}}})
	require.NoError(t, err)

	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Stop(time.Second))
	require.NoError(t, out.Stop(time.Second))
	assert.Equal(t, "osc-output", out.Meta().Name)
	assert.Contains(t, out.Meta().Description, "audio=")
}
