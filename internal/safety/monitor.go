// Package safety layers advisory policy on top of the controller's reactive
// per-batch throttling: it inspects snapshots for sustained degradation that
// the fast 429 signal can smooth over, and tells the engine to throttle or
// abort.
package safety

import (
	"time"

	"pulse/internal/stats"
)

// Verdict is the monitor's advice for the current snapshot.
type Verdict int

const (
	Continue Verdict = iota
	Throttle
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Throttle:
		return "throttle"
	case Abort:
		return "abort"
	default:
		return "continue"
	}
}

// Thresholds configures the monitor.
type Thresholds struct {
	MaxErrorRate    float64       // fraction, 0..1
	MaxResponseTime time.Duration // average response time ceiling
	MinSuccessRate  float64       // fraction, 0..1

	// MinSamples withholds judgement until the run has enough requests to
	// make the rates meaningful.
	MinSamples uint64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxErrorRate:    0.2,
		MaxResponseTime: 5 * time.Second,
		MinSuccessRate:  0.8,
		MinSamples:      10,
	}
}

type Monitor struct {
	t Thresholds
}

func New(t Thresholds) *Monitor {
	if t.MinSamples == 0 {
		t.MinSamples = 1
	}
	return &Monitor{t: t}
}

// Evaluate checks one snapshot against the thresholds. Crossing a threshold
// yields Throttle; degradation well past the limits (double the error
// ceiling, or success below half the floor) yields Abort.
func (m *Monitor) Evaluate(s stats.Snapshot) Verdict {
	if s.RequestsSent < m.t.MinSamples {
		return Continue
	}

	errorRate := float64(s.ErrorCount) / float64(s.RequestsSent)
	successRate := float64(s.SuccessCount) / float64(s.RequestsSent)

	if errorRate > 2*m.t.MaxErrorRate || successRate < m.t.MinSuccessRate/2 {
		return Abort
	}

	if errorRate > m.t.MaxErrorRate || successRate < m.t.MinSuccessRate || s.AvgResponse > m.t.MaxResponseTime {
		return Throttle
	}

	return Continue
}
