// Package timeseries turns cumulative counters into rolling rates.
//
// A RateTracker is fed the running total of a counter (bytes drained from a
// stream, for example) at irregular intervals and reports the average rate
// over the last 1s, 10s and 60s, plus the average since tracking started.
//
// Thread-safe: Observe() takes the write lock, Stats() the read lock.
package timeseries

import (
	"sync"
	"time"
)

const (
	// ringBufferSize bounds memory; at the dashboard's 500ms tick this holds
	// two minutes of history.
	ringBufferSize = 240

	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is a point-in-time reading of the cumulative counter.
type sample struct {
	timestamp time.Time
	total     int64
}

// RateTracker computes rolling rates from a monotonically increasing total.
//
// Usage:
//
//	tracker := NewRateTracker()
//	// on every tick
//	tracker.Observe(snapshot.Stdout.BytesRead)
//	rate := tracker.Stats().Avg1s
type RateTracker struct {
	mu       sync.RWMutex
	samples  []sample
	writeIdx int // Next write position once the ring is full
	last     int64

	startTime time.Time
	clock     Clock
}

// RateStats contains rolling averages (units per second) at a point in time.
type RateStats struct {
	Total int64

	Avg1s      float64
	Avg10s     float64
	Avg60s     float64
	AvgOverall float64
}

// NewRateTracker creates a new tracker with the real clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with a custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now, total: 0})
	return t
}

// Observe records the counter's current total. A total lower than the
// previous one is ignored; counters here never go backwards.
func (t *RateTracker) Observe(total int64) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if total < t.last {
		return
	}
	t.last = total

	s := sample{timestamp: now, total: total}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Stats returns the current rolling averages. The windows are measured from
// now back to the closest sample at or before the window start, falling back
// to the oldest sample when history is shorter than the window.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{Total: t.last}
	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.AvgOverall = float64(t.last) / elapsed
	}
	stats.Avg1s = t.avgOverWindow(now, window1s)
	stats.Avg10s = t.avgOverWindow(now, window10s)
	stats.Avg60s = t.avgOverWindow(now, window60s)
	return stats
}

// avgOverWindow must be called with mu held.
func (t *RateTracker) avgOverWindow(now time.Time, window time.Duration) float64 {
	target := now.Add(-window)

	var best *sample
	var bestDiff time.Duration = -1
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		diff := target.Sub(s.timestamp)
		if bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.last-best.total) / elapsed
}

// oldestSample must be called with mu held.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// SampleCount returns the number of samples held.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
