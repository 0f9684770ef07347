// Package engine orchestrates a load test run: it owns the scheduling loop,
// fans out concurrent probes per tick, feeds outcomes to the aggregator and
// the rate controller, and publishes snapshots to subscribed observers.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pulse/internal/config"
	"pulse/internal/probe"
	"pulse/internal/rate"
	"pulse/internal/safety"
	"pulse/internal/stats"
)

// State is the run lifecycle. Completed and Stopped are terminal; a new run
// needs a new Engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer receives snapshot updates at a bounded frequency. A panicking
// observer is logged and ignored; it never aborts the run loop.
type Observer interface {
	OnSnapshot(stats.Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(stats.Snapshot)

func (f ObserverFunc) OnSnapshot(s stats.Snapshot) { f(s) }

// Sample is one probe outcome in the raw result series kept for reporting.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`
	Status    int           `json:"status,omitempty"`
	Success   bool          `json:"success"`
	Err       string        `json:"error,omitempty"`
}

// Report is handed to the report sink exactly once, after the loop exits.
type Report struct {
	Config  config.TestConfig `json:"config"`
	State   string            `json:"state"`
	Stats   stats.Snapshot    `json:"stats"`
	Samples []Sample          `json:"samples"`
}

// Snapshots are published at most this often (10/s cap), except the final
// snapshot which is always delivered.
const publishMinInterval = 100 * time.Millisecond

// How often the loop re-checks for resume/stop while paused.
const pausePoll = 20 * time.Millisecond

type Engine struct {
	cfg    config.TestConfig
	prober probe.Prober
	agg    *stats.Aggregator
	ctrl   *rate.Controller
	mon    *safety.Monitor
	clock  Clock
	log    *zap.Logger

	mu          sync.Mutex
	state       State
	start       time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	observers   []Observer
	lastPublish time.Time

	reportFn func(Report)

	stopOnce sync.Once
	stopCh   chan struct{}

	resMu   sync.Mutex
	samples []Sample
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithProber injects the probe transport, mainly for tests.
func WithProber(p probe.Prober) Option { return func(e *Engine) { e.prober = p } }

// WithClock injects the time source, mainly for tests.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithThresholds overrides the safety monitor defaults.
func WithThresholds(t safety.Thresholds) Option {
	return func(e *Engine) { e.mon = safety.New(t) }
}

// WithObserver subscribes an observer before the run starts.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithReportSink registers the collaborator invoked with the final report.
func WithReportSink(fn func(Report)) Option { return func(e *Engine) { e.reportFn = fn } }

func New(cfg config.TestConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:    cfg,
		agg:    stats.NewAggregator(),
		ctrl:   rate.New(cfg.Rate),
		mon:    safety.New(safety.DefaultThresholds()),
		clock:  systemClock{},
		log:    logger,
		state:  StateIdle,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.prober == nil {
		p, err := probe.New(cfg)
		if err != nil {
			return nil, err
		}
		e.prober = p
	}

	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe adds an observer. Effective for snapshots published after the
// call.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Stop requests a cooperative stop: the loop observes the flag at the next
// tick boundary, and in-flight probes finish bounded by their own timeouts.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Pause suspends dispatching of new batches. In-flight probes are not
// cancelled and their outcomes are still recorded. Paused time is excluded
// from elapsed for both rate scheduling and duration accounting.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}
	e.state = StatePaused
	e.pausedAt = e.clock.Now()
	e.log.Info("run paused")
}

// Resume continues a paused run.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return
	}
	e.pausedTotal += e.clock.Now().Sub(e.pausedAt)
	e.state = StateRunning
	e.log.Info("run resumed", zap.Duration("paused_total", e.pausedTotal))
}

// Run executes the test to completion and blocks until the loop exits. The
// run always terminates in a terminal state and always produces a final
// report, even when most probes failed; only a refusal to start is an error.
func (e *Engine) Run(ctx context.Context) (rep Report, err error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return Report{}, fmt.Errorf("engine is %s, a new run needs a new engine", e.state)
	}
	e.state = StateRunning
	e.start = e.clock.Now()
	e.mu.Unlock()

	e.log.Info("starting load test",
		zap.String("target", e.cfg.Target),
		zap.String("protocol", string(e.cfg.Protocol)),
		zap.Int("rate", e.cfg.Rate),
		zap.Duration("duration", e.cfg.Duration),
	)

	final := StateStopped
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("scheduling loop failure", zap.Any("panic", r))
			final = StateStopped
		}
		rep = e.finish(final)
	}()

	for {
		if e.stopped(ctx) {
			break
		}
		if stop := e.waitWhilePaused(ctx); stop {
			break
		}

		n := e.ctrl.RequestsDue(e.activeElapsed())
		limited := e.dispatch(ctx, n)
		if n > 0 {
			e.ctrl.ObserveBatch(limited, n)
		}

		snap := e.snapshot()
		e.publish(snap, false)

		switch e.mon.Evaluate(snap) {
		case safety.Throttle:
			e.log.Warn("safety thresholds crossed, reducing load",
				zap.Uint64("errors", snap.ErrorCount),
				zap.Duration("avg_response", snap.AvgResponse))
			e.ctrl.Backoff()
		case safety.Abort:
			e.log.Error("safety thresholds exceeded, halting load",
				zap.Uint64("errors", snap.ErrorCount),
				zap.Float64("success_rate", snap.SuccessRate))
			e.Stop()
		}

		if e.activeElapsed() >= e.cfg.Duration {
			final = StateCompleted
			break
		}
		if stop := e.sleep(ctx, e.ctrl.Interval()); stop {
			break
		}
	}

	return rep, nil
}

// dispatch fans out one batch of concurrent probes and joins on all of them:
// the next throttle decision always sees this batch's complete outcome set.
// Returns the number of rate-limited (429) outcomes in the batch.
func (e *Engine) dispatch(ctx context.Context, n int) int {
	if n <= 0 {
		return 0
	}

	var limited int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			out := e.prober.Send(ctx)
			e.agg.Record(out)

			if out.Status == http.StatusTooManyRequests {
				atomic.AddInt64(&limited, 1)
				if out.RateLimit != "" {
					e.log.Debug("rate limit signaled", zap.String("headers", out.RateLimit))
				}
			}

			e.resMu.Lock()
			e.samples = append(e.samples, Sample{
				Timestamp: time.Now(),
				Elapsed:   out.Elapsed,
				Status:    out.Status,
				Success:   out.Success,
				Err:       out.Err,
			})
			e.resMu.Unlock()
		}()
	}

	wg.Wait()
	return int(atomic.LoadInt64(&limited))
}

func (e *Engine) finish(final State) Report {
	e.mu.Lock()
	e.state = final
	e.mu.Unlock()

	snap := e.agg.Snapshot(e.activeElapsed())
	snap.Progress = 100
	e.publish(snap, true)

	e.resMu.Lock()
	samples := make([]Sample, len(e.samples))
	copy(samples, e.samples)
	e.resMu.Unlock()

	rep := Report{
		Config:  e.cfg,
		State:   final.String(),
		Stats:   snap,
		Samples: samples,
	}

	if e.reportFn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Warn("report sink panicked", zap.Any("panic", r))
				}
			}()
			e.reportFn(rep)
		}()
	}

	if err := e.prober.Close(); err != nil {
		e.log.Warn("closing transport", zap.Error(err))
	}

	e.log.Info("run finished",
		zap.String("state", final.String()),
		zap.Uint64("requests", snap.RequestsSent),
		zap.Uint64("errors", snap.ErrorCount),
		zap.Float64("rate", snap.CurrentRate),
	)

	return rep
}

// snapshot builds the current aggregate view with progress attached.
func (e *Engine) snapshot() stats.Snapshot {
	elapsed := e.activeElapsed()
	s := e.agg.Snapshot(elapsed)
	if e.cfg.Duration > 0 {
		p := elapsed.Seconds() / e.cfg.Duration.Seconds() * 100
		if p > 100 {
			p = 100
		}
		s.Progress = p
	}
	return s
}

// publish delivers a snapshot to all observers, rate-capped unless forced.
func (e *Engine) publish(s stats.Snapshot, force bool) {
	e.mu.Lock()
	if !force && time.Since(e.lastPublish) < publishMinInterval {
		e.mu.Unlock()
		return
	}
	e.lastPublish = time.Now()
	obs := make([]Observer, len(e.observers))
	copy(obs, e.observers)
	e.mu.Unlock()

	for _, o := range obs {
		e.notify(o, s)
	}
}

func (e *Engine) notify(o Observer, s stats.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("observer panicked", zap.Any("panic", r))
		}
	}()
	o.OnSnapshot(s)
}

// activeElapsed is wall time since start minus time spent paused.
func (e *Engine) activeElapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.start.IsZero() {
		return 0
	}
	end := e.clock.Now()
	if e.state == StatePaused {
		end = e.pausedAt
	}
	return end.Sub(e.start) - e.pausedTotal
}

// waitWhilePaused blocks dispatching while paused. Returns true if a stop
// arrived in the meantime.
func (e *Engine) waitWhilePaused(ctx context.Context) bool {
	for e.State() == StatePaused {
		if e.sleep(ctx, pausePoll) {
			return true
		}
	}
	return false
}

// sleep waits for d, the stop flag, or context cancellation. Returns true
// when the run should stop.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-e.clock.After(d):
		return false
	case <-e.stopCh:
		return true
	case <-ctx.Done():
		return true
	}
}

func (e *Engine) stopped(ctx context.Context) bool {
	select {
	case <-e.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
