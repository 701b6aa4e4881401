// Package natssub is the NATS counterpart of the UDP input. Each message on
// the configured subject (default corazonn.ppg.>) carries one JSON bundle:
//
//	{"channel_id": 0, "samples": [2048, 2050, 2061, 2090, 2132], "bundle_timestamp_ms": 123456}
//
// The channel is taken from the body, not the subject. Bodies that do not
// decode are reported to the target as malformed bundles; everything else
// goes through the same validator as UDP traffic.
package natssub
