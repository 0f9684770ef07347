// Package probe issues single fire-and-forget requests over the configured
// transport and reports a normalized outcome. Probes never retry and never
// touch shared state; backoff policy lives with the rate controller.
package probe

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/config"
)

// Payload is the fixed marker written by TCP/UDP liveness probes.
const Payload = "PROBE\n"

// SocketTimeout bounds one TCP/UDP exchange.
const SocketTimeout = 5 * time.Second

// Outcome is the result of exactly one probe.
type Outcome struct {
	Success bool
	Elapsed time.Duration

	// Status carries the HTTP status code. It is 0 for TCP/UDP probes and
	// for transport-level failures, where Success is the liveness result.
	Status int

	// Err describes a transport failure. Empty on success and on a UDP
	// probe that simply got no reply before its deadline.
	Err string

	// RateLimit summarizes rate-limit response headers when Status is 429.
	RateLimit string
}

// Prober sends one probe per call. Implementations must be safe for
// concurrent use; the engine fans a batch of Send calls out per tick.
type Prober interface {
	Send(ctx context.Context) Outcome

	// Close releases pooled transport resources at end of run.
	Close() error
}

// New selects the transport for the configured protocol.
func New(cfg config.TestConfig) (Prober, error) {
	switch cfg.Protocol {
	case config.ProtocolHTTP, config.ProtocolHTTPS:
		return newHTTPProber(cfg), nil
	case config.ProtocolTCP:
		return &socketProber{network: "tcp", addr: cfg.Addr(), timeout: SocketTimeout}, nil
	case config.ProtocolUDP:
		return &socketProber{network: "udp", addr: cfg.Addr(), timeout: SocketTimeout}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}
