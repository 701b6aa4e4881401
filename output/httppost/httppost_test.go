package httppost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

var beat = ppg.BeatEvent{ChannelID: 1, DetectionUnixTime: 1700000000.25, BPM: 80, Intensity: 0.5}

// webhook answers with the given status codes in order, repeating the last
func webhook(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.WriteHeader(codes[n])
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestOutput(t *testing.T, cfg Config, registry *metric.MetricsRegistry) *Output {
	t.Helper()
	out, err := NewOutput(Deps{Config: cfg, MetricsRegistry: registry})
	require.NoError(t, err)
	out.retry.InitialDelay = time.Millisecond
	out.retry.MaxDelay = 5 * time.Millisecond
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })
	return out
}

func TestConfig_Validate(t *testing.T) {
	withURL := func(u string) Config {
		cfg := DefaultConfig()
		cfg.URL = u
		return cfg
	}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", withURL("http://localhost:9000/beats"), false},
		{"https", withURL("https://example.com/hook"), false},
		{"missing url", DefaultConfig(), true},
		{"bad scheme", withURL("ftp://example.com"), true},
		{"zero timeout", func() Config { c := withURL("http://x"); c.Timeout = 0; return c }(), true},
		{"negative retries", func() Config { c := withURL("http://x"); c.RetryCount = -1; return c }(), true},
		{"breaker without timeout", func() Config { c := withURL("http://x"); c.BreakerTimeout = 0; return c }(), true},
		{"breaker disabled", func() Config {
			c := withURL("http://x")
			c.BreakerThreshold, c.BreakerTimeout = 0, 0
			return c
		}(), false},
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

func TestOutput_PostsBeatJSON(t *testing.T) {
	type request struct {
		contentType, token string
		body               []byte
	}
	got := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- request{r.Header.Get("Content-Type"), r.Header.Get("X-Token"), body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.Headers = map[string]string{"X-Token": "secret"}
	registry := metric.NewMetricsRegistry()
	out := newTestOutput(t, cfg, registry)

	require.NoError(t, out.Publish(context.Background(), beat))

	req := <-got
	assert.Equal(t, "application/json", req.contentType)
	assert.Equal(t, "secret", req.token)
	var decoded ppg.BeatEvent
	require.NoError(t, json.Unmarshal(req.body, &decoded))
	assert.Equal(t, beat, decoded)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		registry.CoreMetrics().MessagesPublished.WithLabelValues("webhook-output", "webhook")))
	assert.True(t, out.Health().Healthy)
	assert.False(t, out.Health().Degraded)
}

func TestOutput_RetriesServerErrors(t *testing.T) {
	srv, hits := webhook(t, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK)
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	out := newTestOutput(t, cfg, nil)

	require.NoError(t, out.Publish(context.Background(), beat))
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int64(2), out.retried.Load())
	assert.Equal(t, 0.0, out.DataFlow().ErrorRate)
}

func TestOutput_DoesNotRetryClientErrors(t *testing.T) {
	srv, hits := webhook(t, http.StatusBadRequest)
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	registry := metric.NewMetricsRegistry()
	out := newTestOutput(t, cfg, registry)

	err := out.Publish(context.Background(), beat)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, out.Health().ErrorCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		registry.CoreMetrics().ErrorsTotal.WithLabelValues("webhook-output", "invalid")))
}

func TestOutput_BreakerOpensAfterFailures(t *testing.T) {
	srv, hits := webhook(t, http.StatusInternalServerError)
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.RetryCount = 0
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Minute
	out := newTestOutput(t, cfg, nil)

	for range 2 {
		err := out.Publish(context.Background(), beat)
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
	}
	require.Equal(t, int32(2), hits.Load())

	err := out.Publish(context.Background(), beat)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(2), hits.Load())

	health := out.Health()
	assert.True(t, health.Healthy)
	assert.True(t, health.Degraded)
	assert.Equal(t, "breaker open", health.Details)
}

func TestOutput_Lifecycle(t *testing.T) {
	srv, _ := webhook(t, http.StatusOK)
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	out, err := NewOutput(Deps{Config: cfg})
	require.NoError(t, err)

	assert.ErrorIs(t, out.Publish(context.Background(), beat), errors.ErrNotStarted)
	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Start(context.Background()))
	require.NoError(t, out.Publish(context.Background(), beat))
	require.NoError(t, out.Stop(time.Second))
	require.NoError(t, out.Stop(time.Second))
	assert.ErrorIs(t, out.Publish(context.Background(), beat), errors.ErrNotStarted)

	assert.Equal(t, "webhook-output", out.Meta().Name)
	assert.Contains(t, out.Meta().Description, srv.URL)
}

func TestNewOutput_RequiresURL(t *testing.T) {
	_, err := NewOutput(Deps{Config: DefaultConfig()})
	assert.True(t, errors.IsInvalid(err))
}
