// Package httppost delivers beat events to an HTTP webhook.
//
// Each beat is POSTed as the same JSON object the NATS output publishes:
//
//	{"channel_id":1,"detection_unix_time":1700000000.25,"bpm":80,"intensity":0.5}
//
// # Delivery
//
// Server errors, 429 responses and network failures are retried with
// exponential backoff (pkg/retry) up to RetryCount extra attempts. Other 4xx
// responses mean the webhook rejected the beat and are not retried.
//
// When BreakerThreshold deliveries in a row fail, a circuit breaker opens for
// BreakerTimeout and beats fail fast with gobreaker.ErrOpenState. Health
// reports Degraded while the breaker is not closed.
//
// # Configuration
//
//	{
//	  "url": "http://localhost:9000/beats",
//	  "headers": {"Authorization": "Bearer token"},
//	  "timeout": "2s",
//	  "retry_count": 2,
//	  "breaker_threshold": 5,
//	  "breaker_timeout": "10s"
//	}
package httppost
