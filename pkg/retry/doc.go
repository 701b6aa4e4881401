// Package retry provides exponential backoff retry for transient failures.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay, used for UDP binds and OSC dials
//   - Persistent(): 30 attempts, 200ms-10s delay, used for the NATS connection
//
// Errors wrapped with NonRetryable, and errors classified as fatal or invalid
// by the errors package, stop the loop immediately:
//
//	conn, err := retry.DoWithResult(ctx, retry.Quick(), func() (*net.UDPConn, error) {
//		return net.ListenUDP("udp", addr)
//	})
package retry
