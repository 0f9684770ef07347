// Package config defines the immutable test configuration and its validation
// rules. A TestConfig is constructed once, validated eagerly, and never
// mutated afterwards; reconfiguring a run means building a new instance.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Protocol selects the transport used for probes.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolTCP   Protocol = "tcp"
	ProtocolUDP   Protocol = "udp"
)

// DefaultTimeout bounds a single HTTP exchange (connect + transfer).
const DefaultTimeout = 30 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

// TestConfig holds everything needed to drive one load test run.
type TestConfig struct {
	Target   string        `mapstructure:"target" json:"target" validate:"required"`
	Port     int           `mapstructure:"port" json:"port" validate:"gt=0,lte=65535"`
	Protocol Protocol      `mapstructure:"protocol" json:"protocol" validate:"required,oneof=http https tcp udp"`
	Duration time.Duration `mapstructure:"duration" json:"duration" validate:"gt=0"`
	Rate     int           `mapstructure:"rate" json:"rate" validate:"gt=0"`

	// Timeout applies to HTTP(S) probes only; TCP/UDP probes carry their
	// own fixed 5s deadline.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// New normalizes and validates a configuration. Any failure is a
// configuration error: it happens before a run starts and performs no
// network activity.
func New(target string, port int, protocol string, duration time.Duration, rate int) (TestConfig, error) {
	cfg := TestConfig{
		Target:   strings.ToLower(strings.TrimSpace(target)),
		Port:     port,
		Protocol: Protocol(strings.ToLower(strings.TrimSpace(protocol))),
		Duration: duration,
		Rate:     rate,
		Timeout:  DefaultTimeout,
	}

	// Operators habitually pass the HTTP default port with --protocol https.
	if cfg.Protocol == ProtocolHTTPS && cfg.Port == 80 {
		cfg.Port = 443
	}

	if err := cfg.Validate(); err != nil {
		return TestConfig{}, err
	}

	if cfg.Protocol == ProtocolHTTP || cfg.Protocol == ProtocolHTTPS {
		if !strings.HasPrefix(cfg.Target, "http://") && !strings.HasPrefix(cfg.Target, "https://") {
			cfg.Target = string(cfg.Protocol) + "://" + cfg.Target
		}
	}

	return cfg, nil
}

// Validate re-checks the struct-level invariants. New calls this; it is
// exported for configs hydrated from viper instead of flags.
func (c TestConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid test config: %w", err)
	}
	return nil
}

// URL returns the request URL for HTTP(S) probes. The port is folded into
// the host unless it is the scheme default or the target already carries one.
func (c TestConfig) URL() string {
	u, err := url.Parse(c.Target)
	if err != nil || u.Host == "" {
		return c.Target
	}
	if u.Port() == "" && !c.portIsSchemeDefault() {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(c.Port))
	}
	return u.String()
}

// Addr returns the dial address for TCP/UDP probes.
func (c TestConfig) Addr() string {
	host := c.Target
	if u, err := url.Parse(c.Target); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func (c TestConfig) portIsSchemeDefault() bool {
	switch c.Protocol {
	case ProtocolHTTP:
		return c.Port == 80
	case ProtocolHTTPS:
		return c.Port == 443
	}
	return false
}
