package streamreceiver

import (
	"fmt"
	"time"
)

// Config contains configuration for a Receiver
type Config struct {
	// ReconnectDelay is the wait between connection attempts (default: 2s)
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds the attempts of one Connecting phase (default: 5)
	MaxReconnectAttempts int
	// ExponentialBackoff doubles the delay after each failed attempt
	ExponentialBackoff bool
	// MaxReconnectDelay caps exponential delays (default: 30s)
	MaxReconnectDelay time.Duration

	// NoFrameTimeout is the silence before starvation warnings start (default: 2s)
	NoFrameTimeout time.Duration
	// NoFrameGracePeriod is the extra silence tolerated before reconnecting (default: 1s)
	NoFrameGracePeriod time.Duration
	// CaptureTimeout bounds each blocking capture call (default: 100ms)
	CaptureTimeout time.Duration

	// FallbackOnError publishes the test pattern when the receiver enters Error
	FallbackOnError bool
	// StatsWindow is the number of frame arrivals used for measured FPS (default: 120)
	StatsWindow int
	// StopTimeout bounds how long Disconnect waits for the capture goroutine (default: 3s)
	StopTimeout time.Duration

	// Clock overrides time.Now for latency and starvation measurements
	Clock func() time.Time
}

// DefaultConfig returns the default receiver configuration
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		MaxReconnectDelay:    30 * time.Second,
		NoFrameTimeout:       2 * time.Second,
		NoFrameGracePeriod:   1 * time.Second,
		CaptureTimeout:       100 * time.Millisecond,
		FallbackOnError:      true,
		StatsWindow:          120,
		StopTimeout:          3 * time.Second,
	}
}

// Validate checks the configuration (fail-fast)
func (c Config) Validate() error {
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("invalid reconnect delay: %s (must be >= 0)", c.ReconnectDelay)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("invalid max reconnect attempts: %d (must be >= 1)", c.MaxReconnectAttempts)
	}
	if c.ExponentialBackoff && c.MaxReconnectDelay < c.ReconnectDelay {
		return fmt.Errorf("invalid max reconnect delay: %s (must be >= reconnect delay %s)",
			c.MaxReconnectDelay, c.ReconnectDelay)
	}
	if c.NoFrameTimeout <= 0 {
		return fmt.Errorf("invalid no-frame timeout: %s (must be > 0)", c.NoFrameTimeout)
	}
	if c.NoFrameGracePeriod < 0 {
		return fmt.Errorf("invalid no-frame grace period: %s (must be >= 0)", c.NoFrameGracePeriod)
	}
	if c.CaptureTimeout <= 0 {
		return fmt.Errorf("invalid capture timeout: %s (must be > 0)", c.CaptureTimeout)
	}
	if c.CaptureTimeout > c.NoFrameTimeout {
		return fmt.Errorf("invalid capture timeout: %s (must not exceed no-frame timeout %s)",
			c.CaptureTimeout, c.NoFrameTimeout)
	}
	if c.StatsWindow < 0 {
		return fmt.Errorf("invalid stats window: %d (must be >= 0)", c.StatsWindow)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("invalid stop timeout: %s (must be >= 0)", c.StopTimeout)
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}
