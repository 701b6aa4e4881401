// Package ppg holds the photoplethysmography data model shared by inputs, the
// beat processor and outputs, and the ingestion Validator.
package ppg

import (
	"fmt"
	"time"

	"github.com/c360/corazonn/pkg/timestamp"
)

const (
	// SamplesPerBundle is the fixed number of samples in one bundle
	SamplesPerBundle = 5

	// DefaultADCMax is the largest valid 12-bit ADC reading
	DefaultADCMax = 4095

	// MaxChannels is the largest supported channel count
	MaxChannels = 4
)

// SampleBundle is one decoded sensor message. TimestampMs is the sensor-side
// wall time of the first sample.
type SampleBundle struct {
	ChannelID   int   `json:"channel_id"`
	Samples     []int `json:"samples"`
	TimestampMs int64 `json:"bundle_timestamp_ms"`
}

// Sample is a single ADC reading with its synthesized timestamp
type Sample struct {
	TimestampMs int64
	Value       int
}

// ValidatedBundle is a bundle that passed validation, expanded into samples
type ValidatedBundle struct {
	ChannelID  int
	Samples    [SamplesPerBundle]Sample
	ReceivedAt time.Time
}

// Phase is a channel's lifecycle phase
type Phase int32

const (
	// PhaseWarmup collects samples before detection starts
	PhaseWarmup Phase = iota
	// PhaseActive forwards samples to the beat detector
	PhaseActive
	// PhasePaused suppresses detection until the signal is clean again
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseActive:
		return "active"
	case PhasePaused:
		return "paused"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// BeatEvent is emitted once per confirmed, plausible heartbeat.
// DetectionUnixTime is processing wall-clock time in seconds, not sensor time.
type BeatEvent struct {
	ChannelID         int     `json:"channel_id"`
	DetectionUnixTime float64 `json:"detection_unix_time"`
	BPM               float64 `json:"bpm"`
	Intensity         float64 `json:"intensity"`
}

// DetectedAt returns the detection time as a time.Time
func (e BeatEvent) DetectedAt() time.Time {
	return timestamp.FromUnixSeconds(e.DetectionUnixTime)
}

// DetectionUnixMs returns the detection time in Unix milliseconds
func (e BeatEvent) DetectionUnixMs() int64 {
	return timestamp.ToUnixMs(e.DetectedAt())
}
