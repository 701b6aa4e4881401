package beat

import (
	"fmt"
	"time"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/ppg"
)

// First-beat policies
const (
	// FirstBeatSuppress emits nothing until a channel epoch has two beats
	FirstBeatSuppress = "suppress"
	// FirstBeatEmit emits the first beat of an epoch with InitialBPM
	FirstBeatEmit = "emit"
)

// Config holds the tunable detector constants. Only the sample interval,
// ADC range and channel count are part of the input contract; every other
// value is a tuning choice.
type Config struct {
	ChannelCount     int     `json:"channel_count" yaml:"channel_count"`
	SampleRateHz     float64 `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	SampleIntervalMs int64   `json:"sample_interval_ms" yaml:"sample_interval_ms"`
	ADCMax           int     `json:"adc_max" yaml:"adc_max"`

	WarmupSampleCount int   `json:"warmup_sample_count" yaml:"warmup_sample_count"`
	GapThresholdMs    int64 `json:"gap_threshold_ms" yaml:"gap_threshold_ms"`
	WindowSize        int   `json:"window_size" yaml:"window_size"`

	NoiseWindow        int     `json:"noise_window" yaml:"noise_window"`
	NoiseThreshold     float64 `json:"noise_threshold" yaml:"noise_threshold"`
	ResumeCleanCount   int     `json:"resume_clean_count" yaml:"resume_clean_count"`
	SaturationFraction float64 `json:"saturation_fraction" yaml:"saturation_fraction"`
	RailMargin         int     `json:"rail_margin" yaml:"rail_margin"`

	ThresholdK     float64 `json:"threshold_k" yaml:"threshold_k"`
	BaselineAlpha  float64 `json:"baseline_alpha" yaml:"baseline_alpha"`
	AmplitudeDecay float64 `json:"amplitude_decay" yaml:"amplitude_decay"`

	MinIBIMs       int64   `json:"min_ibi_ms" yaml:"min_ibi_ms"`
	IBIMaxMs       int64   `json:"ibi_max_ms" yaml:"ibi_max_ms"`
	IBIHistory     int     `json:"ibi_history" yaml:"ibi_history"`
	SmoothingAlpha float64 `json:"smoothing_alpha" yaml:"smoothing_alpha"`
	FirstBeat      string  `json:"first_beat" yaml:"first_beat"`
	InitialBPM     float64 `json:"initial_bpm" yaml:"initial_bpm"`

	QueueSize     int           `json:"queue_size" yaml:"queue_size"`
	StatsInterval time.Duration `json:"stats_interval" yaml:"stats_interval"`
	LogRate       float64       `json:"log_rate" yaml:"log_rate"`
	LogBurst      int           `json:"log_burst" yaml:"log_burst"`
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		ChannelCount: ppg.MaxChannels,
		SampleRateHz: 50,
		ADCMax:       ppg.DefaultADCMax,

		WarmupSampleCount: 250,
		GapThresholdMs:    1000,
		WindowSize:        150,

		NoiseWindow:        50,
		NoiseThreshold:     200,
		ResumeCleanCount:   100,
		SaturationFraction: 0.8,
		RailMargin:         10,

		ThresholdK:     0.5,
		BaselineAlpha:  0.02,
		AmplitudeDecay: 0.995,

		MinIBIMs:       300,
		IBIMaxMs:       3000,
		IBIHistory:     5,
		SmoothingAlpha: 0.4,
		FirstBeat:      FirstBeatSuppress,
		InitialBPM:     60,

		QueueSize:     64,
		StatsInterval: 30 * time.Second,
		LogRate:       1,
		LogBurst:      5,
	}
}

// Interval returns the sample interval. sample_interval_ms is left unset by
// default so that it follows sample_rate_hz.
func (c Config) Interval() int64 {
	if c.SampleIntervalMs > 0 {
		return c.SampleIntervalMs
	}
	if c.SampleRateHz > 0 {
		return c.rateInterval()
	}
	return 20
}

func (c Config) rateInterval() int64 {
	return int64(1000/c.SampleRateHz + 0.5)
}

// Validate checks ranges and cross-field constraints
func (c Config) Validate() error {
	var problem string
	switch {
	case c.ChannelCount < 1 || c.ChannelCount > ppg.MaxChannels:
		problem = fmt.Sprintf("channel_count %d outside [1, %d]", c.ChannelCount, ppg.MaxChannels)
	case c.Interval() <= 0:
		problem = "sample interval must be positive"
	case c.SampleIntervalMs > 0 && c.SampleRateHz > 0 && c.SampleIntervalMs != c.rateInterval():
		problem = fmt.Sprintf("sample_interval_ms %d disagrees with sample_rate_hz %g", c.SampleIntervalMs, c.SampleRateHz)
	case c.ADCMax <= 0:
		problem = "adc_max must be positive"
	case c.WarmupSampleCount < 1:
		problem = "warmup_sample_count must be at least 1"
	case c.GapThresholdMs <= 0:
		problem = "gap_threshold_ms must be positive"
	case c.WindowSize < 2:
		problem = "window_size must be at least 2"
	case c.NoiseWindow < 2 || c.NoiseWindow > c.WindowSize:
		problem = fmt.Sprintf("noise_window %d outside [2, window_size]", c.NoiseWindow)
	case c.NoiseThreshold <= 0:
		problem = "noise_threshold must be positive"
	case c.ResumeCleanCount < 1:
		problem = "resume_clean_count must be at least 1"
	case c.SaturationFraction <= 0 || c.SaturationFraction > 1:
		problem = "saturation_fraction must be in (0, 1]"
	case c.RailMargin < 0:
		problem = "rail_margin cannot be negative"
	case c.ThresholdK < 0:
		problem = "threshold_k cannot be negative"
	case c.BaselineAlpha <= 0 || c.BaselineAlpha > 1:
		problem = "baseline_alpha must be in (0, 1]"
	case c.AmplitudeDecay <= 0 || c.AmplitudeDecay > 1:
		problem = "amplitude_decay must be in (0, 1]"
	case c.MinIBIMs <= 0 || c.MinIBIMs >= c.IBIMaxMs:
		problem = fmt.Sprintf("ibi range [%d, %d] is empty", c.MinIBIMs, c.IBIMaxMs)
	case c.IBIHistory < 1:
		problem = "ibi_history must be at least 1"
	case c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1:
		problem = "smoothing_alpha must be in (0, 1]"
	case c.FirstBeat != FirstBeatSuppress && c.FirstBeat != FirstBeatEmit:
		problem = fmt.Sprintf("first_beat %q must be %q or %q", c.FirstBeat, FirstBeatSuppress, FirstBeatEmit)
	case c.FirstBeat == FirstBeatEmit && c.InitialBPM <= 0:
		problem = "initial_bpm must be positive when first_beat is emit"
	case c.QueueSize < 1:
		problem = "queue_size must be at least 1"
	default:
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, problem), "beat", "Validate", "config check")
}
