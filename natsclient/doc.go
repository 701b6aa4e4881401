// Package natsclient manages the NATS connection used by the NATS sample
// input and the NATS beat output.
//
// The Client wraps nats.go with lifecycle handling (Connect, Close with
// drain), reconnect and health callbacks, and a sony/gobreaker circuit
// breaker around connection attempts and publishes:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	    natsclient.WithCircuitBreakerThreshold(5),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// After the threshold of consecutive failures the breaker opens and calls
// fail fast with ErrCircuitOpen until the breaker timeout allows a trial
// call. Errors classified as invalid (bad input from the caller) never count
// against the breaker.
//
// JetStream is initialized on connect when the server supports it;
// CreateKeyValueBucket creates or opens a KV bucket for the latest-beat store.
//
// Integration tests run a real server through testcontainers (see
// test_client.go) and are only built with the integration tag:
//
//	go test -tags=integration ./natsclient/...
package natsclient
