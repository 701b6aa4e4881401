// Package natspub publishes every beat as JSON on {subject_prefix}.{channel}
// (default corazonn.beat.{channel}):
//
//	{"channel_id":1,"detection_unix_time":1700000000.25,"bpm":66,"intensity":0.9}
//
// With latest_bucket set, the same JSON is also stored under key
// channel.{n} in a JetStream key-value bucket with history 1, so a
// dashboard that connects mid-session can read each channel's last beat
// without waiting for the next one.
package natspub
