package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. Counters are atomic; size fields are mutex protected.
type Statistics struct {
	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records an accepted write.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a read.
func (s *Statistics) Read() { s.reads.Add(1) }

// Drop records an item discarded by the overflow policy.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the current size and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

func (s *Statistics) Writes() int64 { return s.writes.Load() }
func (s *Statistics) Reads() int64  { return s.reads.Load() }
func (s *Statistics) Drops() int64  { return s.drops.Load() }

// CurrentSize returns the number of items currently queued.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// DropRate returns drops relative to attempted writes (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	drops := s.Drops()
	attempts := s.Writes()
	if attempts == 0 {
		return 0
	}
	// DropNewest drops are not counted as writes
	if drops > attempts {
		attempts = drops
	}
	return float64(drops) / float64(attempts)
}

// Uptime returns how long the tracker has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// StatsSummary is a snapshot of queue statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Drops       int64         `json:"drops"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	DropRate    float64       `json:"drop_rate"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		DropRate:    s.DropRate(),
		Uptime:      s.Uptime(),
	}
}
