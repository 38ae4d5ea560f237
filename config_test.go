package streamreceiver

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"negative_delay", func(c *Config) { c.ReconnectDelay = -time.Second }, "reconnect delay"},
		{"zero_attempts", func(c *Config) { c.MaxReconnectAttempts = 0 }, "max reconnect attempts"},
		{"cap_below_delay", func(c *Config) {
			c.ExponentialBackoff = true
			c.MaxReconnectDelay = time.Second
		}, "max reconnect delay"},
		{"zero_no_frame_timeout", func(c *Config) { c.NoFrameTimeout = 0 }, "no-frame timeout"},
		{"negative_grace", func(c *Config) { c.NoFrameGracePeriod = -1 }, "grace period"},
		{"zero_capture_timeout", func(c *Config) { c.CaptureTimeout = 0 }, "capture timeout"},
		{"capture_exceeds_timeout", func(c *Config) { c.CaptureTimeout = 3 * time.Second }, "must not exceed"},
		{"negative_window", func(c *Config) { c.StatsWindow = -1 }, "stats window"},
		{"negative_stop", func(c *Config) { c.StopTimeout = -1 }, "stop timeout"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.NoFrameTimeout)
	assert.Equal(t, time.Second, cfg.NoFrameGracePeriod)
	assert.True(t, cfg.FallbackOnError)
	assert.False(t, cfg.ExponentialBackoff)
}

func TestClassifyError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryUnknown},
		{"init_sentinel", fmt.Errorf("%w: no runtime", ErrInitialization), ErrCategoryInit},
		{"starvation_sentinel", fmt.Errorf("%w: 3s", ErrStreamStarvation), ErrCategoryStarvation},
		{"unsupported_sentinel", fmt.Errorf("frame: %w", ErrUnsupportedFormat), ErrCategoryCodec},
		{"auth", errors.New("401 Unauthorized"), ErrCategoryAuth},
		{"auth_beats_network", errors.New("connection rejected: forbidden"), ErrCategoryAuth},
		{"codec", errors.New("streaming stopped, reason not-negotiated (not negotiated)"), ErrCategoryCodec},
		{"network_refused", errors.New("dial tcp 10.0.0.5:5960: connect: connection refused"), ErrCategoryNetwork},
		{"network_timeout", errors.New("i/o timeout"), ErrCategoryNetwork},
		{"unknown", errors.New("something odd"), ErrCategoryUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
	assert.Equal(t, "starvation", ErrCategoryStarvation.String())
	assert.Equal(t, "frame_ready", EventFrameReady.String())

	assert.True(t, StateConnecting.Active())
	assert.True(t, StateReconnecting.Active())
	assert.False(t, StateIdle.Active())
	assert.False(t, StateError.Active())
}
