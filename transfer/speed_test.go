package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedMeterRate(t *testing.T) {
	clock := newMockTimeProvider()
	m := NewSpeedMeter(3*time.Second, clock)

	assert.Zero(t, m.Rate())
	m.Add(0)
	assert.Zero(t, m.Rate(), "one sample has no rate")

	clock.advance(time.Second)
	m.Add(1000)
	assert.InDelta(t, 1000.0, m.Rate(), 0.001)

	clock.advance(time.Second)
	m.Add(3000)
	assert.InDelta(t, 1500.0, m.Rate(), 0.001)
}

func TestSpeedMeterForgetsOldSamples(t *testing.T) {
	clock := newMockTimeProvider()
	m := NewSpeedMeter(2*time.Second, clock)

	// A fast start followed by a slow tail: the window only sees the tail.
	m.Add(0)
	clock.advance(time.Second)
	m.Add(1_000_000)
	for i := 1; i <= 5; i++ {
		clock.advance(time.Second)
		m.Add(1_000_000 + uint64(i)*100)
	}

	assert.InDelta(t, 100.0, m.Rate(), 0.001)
}

func TestSpeedMeterCoalescesFrequentSamples(t *testing.T) {
	clock := newMockTimeProvider()
	m := NewSpeedMeter(3*time.Second, clock)

	for i := 0; i <= 10_000; i++ {
		m.Add(uint64(i) * 10)
		clock.advance(time.Millisecond)
	}

	assert.LessOrEqual(t, len(m.samples), speedResolution+2)
	assert.InDelta(t, 10_000.0, m.Rate(), 50)
}

func TestSpeedMeterDefaults(t *testing.T) {
	m := NewSpeedMeter(0, nil)
	assert.Equal(t, DefaultSpeedWindow, m.window)
	assert.Zero(t, m.Rate())
}
