package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulse/internal/config"
)

// Connection ceiling for the shared pool. The engine fans out at most one
// tick's worth of probes at a time, so this is the outstanding-request bound.
const maxConns = 100

var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Encoding": "gzip, deflate, br",
}

type httpProber struct {
	url    string
	client *http.Client
}

func newHTTPProber(cfg config.TestConfig) *httpProber {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = maxConns
	t.MaxConnsPerHost = maxConns
	t.MaxIdleConnsPerHost = maxConns
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	return &httpProber{
		url: cfg.URL(),
		client: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

// Send issues one GET, follows redirects, and drains the body fully so the
// elapsed time covers the whole transfer rather than just the headers. A
// non-2xx/3xx status is still a successful transport-level exchange.
func (p *httpProber) Send(ctx context.Context) Outcome {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Outcome{Elapsed: time.Since(start), Err: err.Error()}
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Outcome{Elapsed: time.Since(start), Err: err.Error()}
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	out := Outcome{
		Success: resp.StatusCode < 400,
		Elapsed: time.Since(start),
		Status:  resp.StatusCode,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		out.RateLimit = rateLimitInfo(resp.Header)
	}
	return out
}

func (p *httpProber) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func rateLimitInfo(h http.Header) string {
	var parts []string
	for _, key := range []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if v := h.Get(key); v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", key, v))
		}
	}
	return strings.Join(parts, " ")
}
