package metric

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHandler_Metrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordError("beat-processor", "gap_detected")

	srv := NewServer(0, "", registry, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "corazonn_errors_total")
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}

func TestServerHandler_Health(t *testing.T) {
	tests := []struct {
		name     string
		health   HealthFunc
		wantCode int
	}{
		{"no health func", nil, http.StatusOK},
		{"healthy", func() (any, bool) { return map[string]string{"status": "healthy"}, true }, http.StatusOK},
		{"unhealthy", func() (any, bool) { return map[string]string{"status": "unhealthy"}, false }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(9100, "/metrics", NewMetricsRegistry(), tt.health)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.health != nil {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.NotEmpty(t, body["status"])
			}
		})
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), nil)
	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Start(), "start after stop returns at once")
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}
