package session

import "time"

// BackoffConfig defines retry backoff behavior for dialers.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session reliability defaults.
type Config struct {
	// ReceiveTimeout bounds each wait for a peer message. Ignored when
	// Debug is set, which makes waits unbounded.
	ReceiveTimeout time.Duration
	// ConnectTimeout bounds dialing the relay.
	ConnectTimeout time.Duration
	// Debug enables frame tracing and disables receive timeouts.
	Debug bool
	// UseTCP asks the relay to take per-CPU data over TCP sockets.
	// Client handles only.
	UseTCP bool

	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ReceiveTimeout: 5 * time.Second,
		ConnectTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// waitTimeout is the effective receive wait. Debug mode waits forever.
func (c Config) waitTimeout() time.Duration {
	if c.Debug {
		return 0
	}
	return c.ReceiveTimeout
}
