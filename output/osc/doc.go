// Package osc is the actuator-facing output. Each beat becomes one OSC
// message
//
//	/beat/{channel}  [int64 detection_ms, float32 bpm, float32 intensity]
//
// sent over UDP to every configured destination. Sends are fire-and-forget;
// a write error to one destination is reported but the rest still get the
// beat.
package osc
