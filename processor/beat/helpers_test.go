package beat

import (
	"math"
	"sync"
	"time"

	"github.com/c360/corazonn/ppg"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StatsInterval = 0
	return cfg
}

// pulse is a 60 BPM sinusoid sampled at 50 Hz
func pulse(i int) int {
	return int(math.Round(2048 + 800*math.Sin(2*math.Pi*float64(i)/50)))
}

// ppgWave is a pulse with a systolic peak and a dicrotic bump
func ppgWave(period int) func(int) int {
	return func(i int) int {
		ph := float64(i%period) / float64(period)
		v := 900*math.Exp(-math.Pow((ph-0.15)/0.06, 2)) + 300*math.Exp(-math.Pow((ph-0.45)/0.08, 2))
		return int(1700 + v)
	}
}

// noise alternates between two far-apart values
func noise(i int) int {
	if i%2 == 0 {
		return 3000
	}
	return 1000
}

type recorder struct {
	mu     sync.Mutex
	events []ppg.BeatEvent
}

func (r *recorder) Accept(ev ppg.BeatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []ppg.BeatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ppg.BeatEvent(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) forChannel(id int) []ppg.BeatEvent {
	var out []ppg.BeatEvent
	for _, ev := range r.all() {
		if ev.ChannelID == id {
			out = append(out, ev)
		}
	}
	return out
}

// driver feeds one channel sample by sample at 20 ms spacing, using the
// sample timestamp as processing time.
type driver struct {
	ch *Channel
	i  int
}

func (d *driver) feed(n int, gen func(int) int) {
	for k := 0; k < n; k++ {
		ts := int64(d.i) * 20
		_ = d.ch.ProcessSample(ppg.Sample{TimestampMs: ts, Value: gen(d.i)}, epoch.Add(time.Duration(ts)*time.Millisecond))
		d.i++
	}
}

// stepClock advances by step on every call
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func bundle(channel int, ts int64, gen func(int) int, first int) ppg.SampleBundle {
	samples := make([]int, ppg.SamplesPerBundle)
	for i := range samples {
		samples[i] = gen(first + i)
	}
	return ppg.SampleBundle{ChannelID: channel, Samples: samples, TimestampMs: ts}
}
