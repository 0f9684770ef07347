package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestsDueTracksElapsedTime(t *testing.T) {
	c := New(10)

	assert.Equal(t, 0, c.RequestsDue(0))
	assert.Equal(t, 5, c.RequestsDue(500*time.Millisecond))
	assert.Equal(t, 5, c.RequestsDue(time.Second))

	// Nothing new owed until time advances.
	assert.Equal(t, 0, c.RequestsDue(time.Second))
}

func TestRequestsDueClampedToOneTick(t *testing.T) {
	c := New(10)

	// A 5-second stall owes 50 requests, but a single tick dispatches at
	// most one second's worth.
	assert.Equal(t, 10, c.RequestsDue(5*time.Second))
	assert.Equal(t, 10, c.RequestsDue(5*time.Second))
}

func TestBackpressureHalvesEffectiveRate(t *testing.T) {
	c := New(32)

	assert.InDelta(t, 32.0, c.EffectiveRate(), 0.001)

	c.ObserveBatch(3, 10)
	assert.InDelta(t, 16.0, c.EffectiveRate(), 0.001)
	assert.InDelta(t, 0.5, c.ThrottleFactor(), 0.001)

	c.ObserveBatch(1, 10)
	assert.InDelta(t, 8.0, c.EffectiveRate(), 0.001)
}

func TestThrottleFloorIsOneThirtySecond(t *testing.T) {
	c := New(32)

	for i := 0; i < 20; i++ {
		c.ObserveBatch(5, 10)
	}

	assert.InDelta(t, 1.0, c.EffectiveRate(), 0.001)
	assert.InDelta(t, 1.0/32.0, c.ThrottleFactor(), 0.0001)
}

func TestCleanBatchesRecoverWithoutOvershoot(t *testing.T) {
	c := New(32)

	c.ObserveBatch(2, 10)
	c.ObserveBatch(2, 10)
	assert.InDelta(t, 8.0, c.EffectiveRate(), 0.001)

	c.ObserveBatch(0, 10)
	assert.InDelta(t, 16.0, c.EffectiveRate(), 0.001)

	for i := 0; i < 10; i++ {
		c.ObserveBatch(0, 10)
	}
	assert.InDelta(t, 32.0, c.EffectiveRate(), 0.001, "recovery never exceeds the target rate")
}

func TestIntervalGrowsUnderBackpressureAndDecays(t *testing.T) {
	c := New(10)

	assert.Equal(t, baseTick, c.Interval(), "healthy runs tick at the base cadence")

	c.ObserveBatch(1, 10)
	first := c.Interval()
	assert.Equal(t, 1500*time.Millisecond, first)

	c.ObserveBatch(1, 10)
	assert.Equal(t, 2250*time.Millisecond, c.Interval())

	// Decay: still throttled (counter > 0) so the backoff sleep applies,
	// shrinking toward the 1s floor.
	c.ObserveBatch(0, 10)
	assert.Equal(t, 1800*time.Millisecond, c.Interval())

	// Fully recovered: back to base cadence.
	c.ObserveBatch(0, 10)
	assert.Equal(t, baseTick, c.Interval())
}

func TestIntervalCappedAtMaxBackoff(t *testing.T) {
	c := New(10)
	for i := 0; i < 30; i++ {
		c.ObserveBatch(1, 10)
	}
	assert.Equal(t, maxBackoff, c.Interval())
}

func TestExternalBackoffCommand(t *testing.T) {
	c := New(16)
	c.Backoff()
	assert.InDelta(t, 8.0, c.EffectiveRate(), 0.001)
}

func TestThrottledRateSlowsDispatch(t *testing.T) {
	c := New(32)
	c.ObserveBatch(1, 10) // halve to 16/s

	// At t=1s with 0 sent, 16 are due under the halved rate.
	assert.Equal(t, 16, c.RequestsDue(time.Second))
}
