// Package metric provides Prometheus metrics collection and the HTTP endpoint
// exposing them together with the process health report.
//
// Core platform metrics (component status, health, errors, output delivery
// and NATS connectivity) are registered automatically. Components register
// their own metrics through MetricsRegistrar; registrations are keyed by
// "component.metric" and duplicates are rejected.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, healthFn)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
//
// Components treat a nil registry as "metrics disabled" and skip recording.
package metric
