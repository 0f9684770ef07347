package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// socketProber covers TCP and UDP liveness probes: dial, write the fixed
// payload, wait for any reply within the deadline. Each probe uses its own
// connection; there is no pool to tear down.
type socketProber struct {
	network string
	addr    string
	timeout time.Duration
}

func (p *socketProber) Send(ctx context.Context) Outcome {
	start := time.Now()

	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, p.network, p.addr)
	if err != nil {
		return Outcome{Elapsed: time.Since(start), Err: err.Error()}
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(p.timeout))

	if _, err := conn.Write([]byte(Payload)); err != nil {
		return Outcome{Elapsed: time.Since(start), Err: err.Error()}
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	elapsed := time.Since(start)

	if err != nil {
		// UDP gives no delivery guarantee: a silent deadline expiry is a
		// failed probe, not a transport error.
		if p.network == "udp" && isTimeout(err) {
			return Outcome{Elapsed: elapsed}
		}
		return Outcome{Elapsed: elapsed, Err: err.Error()}
	}

	return Outcome{Success: n > 0, Elapsed: elapsed}
}

func (p *socketProber) Close() error { return nil }

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
