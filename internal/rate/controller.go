// Package rate decides, per scheduling tick, how many probes are due and how
// hard to throttle under backpressure. One controller owns both the pacing
// and the backoff decision; it is fed the complete outcome set of each batch
// before the next decision is made.
package rate

import (
	"sync"
	"time"
)

const (
	// maxConsecutive caps the backpressure counter: the effective rate never
	// drops below target/2^5 = target/32.
	maxConsecutive = 5

	// baseTick is the loop cadence while the target shows no backpressure.
	baseTick = 100 * time.Millisecond

	// Backoff sleep grows geometrically from minBackoff up to maxBackoff
	// while 429s keep arriving, and decays back toward minBackoff once the
	// congestion clears.
	minBackoff = time.Second
	maxBackoff = 10 * time.Second

	backoffGrowth = 1.5
	backoffDecay  = 0.8
)

// Controller holds the rate state for one run. All methods are safe for
// concurrent use, though the engine drives them from a single control loop.
type Controller struct {
	mu          sync.Mutex
	target      int // configured requests per second
	consecutive int // consecutive backpressure events, capped
	sent        int64
	backoff     time.Duration
	lastTick    time.Time
}

func New(target int) *Controller {
	return &Controller{
		target:  target,
		backoff: minBackoff,
	}
}

// RequestsDue returns how many probes should be dispatched now, given how
// far the run has progressed: floor(elapsed * effective_rate) minus what has
// already been issued, clamped to at most one tick's worth (the target rate)
// so a stall never triggers a catch-up storm. The controller advances its
// own issued counter by the returned amount.
func (c *Controller) RequestsDue(elapsed time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastTick = time.Now()

	due := int64(elapsed.Seconds()*c.effectiveRate()) - c.sent
	if due < 0 {
		due = 0
	}
	if due > int64(c.target) {
		due = int64(c.target)
	}

	c.sent += due
	return int(due)
}

// ObserveBatch feeds the complete outcome of one batch back into the
// throttle state. Any rate-limited response halves the effective rate (down
// to the 1/32 floor) and stretches the inter-tick sleep; a clean batch
// recovers one halving step and lets the sleep decay.
func (c *Controller) ObserveBatch(rateLimited, batchSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rateLimited > 0 {
		c.bump()
		return
	}

	if c.consecutive > 0 {
		c.consecutive--
	}
	c.backoff = time.Duration(float64(c.backoff) * backoffDecay)
	if c.backoff < minBackoff {
		c.backoff = minBackoff
	}
}

// Backoff applies one throttling step on command, used by the safety monitor
// when sustained degradation shows up in snapshots rather than in a single
// batch's 429s.
func (c *Controller) Backoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
}

func (c *Controller) bump() {
	if c.consecutive < maxConsecutive {
		c.consecutive++
	}
	c.backoff = time.Duration(float64(c.backoff) * backoffGrowth)
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

// Interval returns how long the loop should sleep before the next tick: the
// base cadence while healthy, the grown backoff sleep while throttled.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutive == 0 {
		return baseTick
	}
	return c.backoff
}

// EffectiveRate is target * throttle factor, in requests per second.
func (c *Controller) EffectiveRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveRate()
}

// ThrottleFactor is 1/2^consecutive, in (1/32, 1.0].
func (c *Controller) ThrottleFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 1 / float64(int64(1)<<c.consecutive)
}

func (c *Controller) effectiveRate() float64 {
	return float64(c.target) / float64(int64(1)<<c.consecutive)
}
