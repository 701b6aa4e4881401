// Package config loads and validates the corazonn service configuration.
//
// # Layers
//
// Configuration is merged from, in order of increasing precedence:
//
//  1. Default(): UDP input on :8000, OSC output to the audio engine (:8001)
//     and lighting controller (:8002), metrics on :9090
//  2. File layers added with Loader.AddLayer, JSON or YAML by extension
//  3. CORAZONN_* environment variables
//
// Maps merge key by key; lists such as outputs.osc.destinations or nats.urls
// are replaced as a whole.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/corazonn.yaml")
//	loader.AddLayer("configs/venue.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// # Validation
//
// Each file layer is checked against the embedded JSON Schema before it is
// merged. Unknown keys are rejected, so a typo such as "treshold_k" fails at
// load time instead of silently keeping the default. Durations may be written
// as strings ("500ms", "30s") or integer nanoseconds.
//
// The merged result is then checked by Config.Validate, which covers what the
// schema cannot: the IBI range must be non-empty, at least one input must be
// enabled, NATS URLs must be present when a NATS input or output is enabled,
// and TCP listeners may not share a port.
//
// # Environment
//
//	CORAZONN_NATS_URLS        comma-separated server URLs
//	CORAZONN_NATS_USERNAME    NATS user
//	CORAZONN_NATS_PASSWORD    NATS password
//	CORAZONN_NATS_TOKEN       NATS token
//	CORAZONN_UDP_PORT         sensor listener port
//	CORAZONN_WEBSOCKET_PORT   live feed port
//	CORAZONN_METRICS_PORT     metrics and health port
//	CORAZONN_CHANNEL_COUNT    number of sensor channels (1-4)
//
// # Example
//
//	processor:
//	  channel_count: 4
//	  first_beat: suppress
//	  stats_interval: 30s
//	inputs:
//	  udp: {enabled: true, port: 8000}
//	outputs:
//	  osc:
//	    enabled: true
//	    destinations:
//	      - {name: audio, address: "127.0.0.1:8001"}
//	      - {name: lighting, address: "192.168.1.40:8002"}
//	  websocket: {enabled: true, port: 8081}
//	metrics: {port: 9090}
//
// SafeConfig wraps a Config for concurrent readers; Get returns a deep copy.
package config
