package transfer

import (
	"sync"
	"time"
)

// DefaultSpeedWindow is the span of samples the speed estimate covers.
const DefaultSpeedWindow = 3 * time.Second

// speedResolution is how many samples a full window holds at most.
const speedResolution = 30

type speedSample struct {
	position uint64
	at       time.Time
}

// SpeedMeter estimates transfer speed over a rolling window of
// (position, time) samples. It is safe for concurrent use.
type SpeedMeter struct {
	mu      sync.Mutex
	window  time.Duration
	step    time.Duration
	clock   TimeProvider
	samples []speedSample
	latest  speedSample
	seen    bool
}

// NewSpeedMeter creates a meter covering window. A nil clock uses the wall
// clock.
func NewSpeedMeter(window time.Duration, clock TimeProvider) *SpeedMeter {
	if window <= 0 {
		window = DefaultSpeedWindow
	}
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	return &SpeedMeter{
		window: window,
		step:   window / speedResolution,
		clock:  clock,
	}
}

// Add records the absolute position reached now.
func (m *SpeedMeter) Add(position uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.latest = speedSample{position: position, at: now}
	m.seen = true

	if n := len(m.samples); n == 0 || now.Sub(m.samples[n-1].at) >= m.step {
		m.samples = append(m.samples, m.latest)
	}

	// Keep one sample at or before the cutoff as the baseline so the
	// estimate spans the full window.
	cutoff := now.Add(-m.window)
	drop := 0
	for drop+1 < len(m.samples) && !m.samples[drop+1].at.After(cutoff) {
		drop++
	}
	if drop > 0 {
		m.samples = append(m.samples[:0], m.samples[drop:]...)
	}
}

// Rate returns the estimated speed in bytes per second, or 0 until two
// samples at different times exist.
func (m *SpeedMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seen || len(m.samples) == 0 {
		return 0
	}
	first := m.samples[0]
	elapsed := m.latest.at.Sub(first.at)
	if elapsed <= 0 || m.latest.position < first.position {
		return 0
	}
	return float64(m.latest.position-first.position) / elapsed.Seconds()
}
