// Package udp implements the sensor-facing input: a UDP listener that decodes
// OSC /ppg/{channel} messages into ppg.SampleBundle values and hands them to
// the beat processor.
//
// # Message Flow
//
//	UDP socket -> packet buffer (drop oldest) -> decode loop -> Target.Ingest
//	                                                  |
//	                                       Target.Reject (undecodable)
//
// The read loop only copies datagrams into a bounded buffer; decoding and
// validation run on a second goroutine so the socket keeps draining while the
// processor is busy. When the buffer is full the oldest packet is dropped.
//
// # Configuration
//
//	{
//	  "bind": "0.0.0.0",
//	  "port": 8000,
//	  "buffer_size": 1024,
//	  "read_timeout": "100ms"
//	}
//
// Port 0 binds an OS-assigned port; Addr reports the result.
//
// # Lifecycle
//
// Start binds with a short retry (retry.Quick) so a restart can reclaim a
// port still held by the previous process. Stop closes the socket, decodes
// whatever is still buffered and returns once both goroutines exit.
package udp
