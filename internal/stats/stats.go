// Package stats aggregates probe outcomes into run statistics. All mutation
// is serialized behind one mutex; readers get consistent point-in-time
// snapshots and never see success counts ahead of request counts. Raw
// counters are never exposed for external increment.
package stats

import (
	"sync"
	"time"

	"pulse/internal/probe"
)

// Snapshot is an immutable copy of the aggregate statistics, with derived
// metrics computed at copy time. Progress is filled in by the engine.
type Snapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`

	RequestsSent       uint64         `json:"requests_sent"`
	SuccessCount       uint64         `json:"success_count"`
	ErrorCount         uint64         `json:"error_count"`
	CumulativeResponse time.Duration  `json:"cumulative_response"`
	StatusCodes        map[int]uint64 `json:"status_codes"`

	SuccessRate float64       `json:"success_rate"` // percent
	AvgResponse time.Duration `json:"avg_response"`
	CurrentRate float64       `json:"current_rate"` // requests per second

	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P99Ms float64 `json:"p99_ms"`
	MaxMs int64   `json:"max_ms"`

	Progress float64 `json:"progress"` // percent
}

// Aggregator owns the mutable run counters. One instance per run.
type Aggregator struct {
	mu         sync.Mutex
	requests   uint64
	success    uint64
	errs       uint64
	cumulative time.Duration
	codes      map[int]uint64

	latency *SafeHistogram
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		codes:   make(map[int]uint64),
		latency: NewSafeHistogram(),
	}
}

// Record folds one probe outcome into the counters. Safe for concurrent use
// by many in-flight probes.
func (a *Aggregator) Record(out probe.Outcome) {
	a.mu.Lock()
	a.requests++
	if out.Success {
		a.success++
	} else {
		a.errs++
	}
	a.cumulative += out.Elapsed
	if out.Status != 0 {
		a.codes[out.Status]++
	}
	a.mu.Unlock()

	a.latency.RecordValue(out.Elapsed.Microseconds())
}

// Snapshot returns a consistent copy of the counters together with derived
// metrics. elapsed is the run's active elapsed time as accounted by the
// caller (the engine excludes paused time).
func (a *Aggregator) Snapshot(elapsed time.Duration) Snapshot {
	a.mu.Lock()
	s := Snapshot{
		Timestamp:          time.Now(),
		Elapsed:            elapsed,
		RequestsSent:       a.requests,
		SuccessCount:       a.success,
		ErrorCount:         a.errs,
		CumulativeResponse: a.cumulative,
		StatusCodes:        make(map[int]uint64, len(a.codes)),
	}
	for code, n := range a.codes {
		s.StatusCodes[code] = n
	}
	a.mu.Unlock()

	if s.RequestsSent > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.RequestsSent) * 100
		s.AvgResponse = s.CumulativeResponse / time.Duration(s.RequestsSent)
	}
	if elapsed > 0 {
		s.CurrentRate = float64(s.RequestsSent) / elapsed.Seconds()
	}

	s.P50Ms = float64(a.latency.ValueAtQuantile(50)) / 1000.0
	s.P90Ms = float64(a.latency.ValueAtQuantile(90)) / 1000.0
	s.P99Ms = float64(a.latency.ValueAtQuantile(99)) / 1000.0
	s.MaxMs = a.latency.Max() / 1000

	return s
}
