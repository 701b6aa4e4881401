// Package websocket streams beat events to browsers and visualizers.
//
// Clients connect to ws://{bind}:{port}{path} (default ws://0.0.0.0:8081/ws).
// Every frame is a JSON Envelope. The first frame greets the client with its
// id:
//
//	{"type":"hello","id":"6f1c...","timestamp":1700000000000,"payload":{"client_id":"6f1c..."}}
//
// followed by one frame per beat, each with a fresh id:
//
//	{"type":"beat","id":"a3b9...","timestamp":1700000000250,
//	 "payload":{"channel_id":1,"detection_unix_time":1700000000.25,"bpm":72.5,"intensity":0.8}}
//
// Output implements sink.Publisher. Publish only queues frames: each client
// has its own bounded buffer and writer goroutine, and a client whose buffer
// is full misses beats rather than slowing the others. Pings keep idle
// connections alive; a client that stops answering is dropped after two
// ping intervals.
package websocket
