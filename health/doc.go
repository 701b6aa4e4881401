// Package health tracks component health with three states:
//
//   - healthy: operating normally
//   - degraded: running but not producing normal output
//     (a beat channel in warm-up or paused on noise)
//   - unhealthy: not functioning
//
// Monitor holds the latest Status per component. Components registered with
// Watch are polled on Refresh; Run refreshes periodically. Report plugs into
// the metrics server's /health endpoint:
//
//	monitor := health.NewMonitor(registry)
//	monitor.Watch(processor)
//	server := metric.NewServer(9090, "/metrics", registry, func() (any, bool) {
//		return monitor.Report("corazonn")
//	})
//
// Messages derived from component errors are sanitized: URLs, addresses and
// credentials are replaced before they reach the endpoint.
package health
