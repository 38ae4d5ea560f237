package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// Config represents the complete stream-receiverd configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	Backend          string           `yaml:"backend"`            // sim, gstreamer
	ShutdownTimeoutS float64          `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Source           capture.Source   `yaml:"source"`             // Connected at startup when set
	Sources          []capture.Source `yaml:"sources"`            // Advertised by the sim backend
	Receiver         ReceiverConfig   `yaml:"receiver"`
	GStreamer        GStreamerConfig  `yaml:"gstreamer"`
	Discovery        DiscoveryConfig  `yaml:"discovery"`
	Display          DisplayConfig    `yaml:"display"`
	Preview          PreviewConfig    `yaml:"preview"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
}

// ReceiverConfig contains connection and starvation timings
type ReceiverConfig struct {
	ReconnectDelayS      float64 `yaml:"reconnect_delay_s"`      // default: 2
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"` // default: 5
	ExponentialBackoff   bool    `yaml:"exponential_backoff"`
	MaxReconnectDelayS   float64 `yaml:"max_reconnect_delay_s"` // default: 30
	NoFrameTimeoutS      float64 `yaml:"no_frame_timeout_s"`    // default: 2
	NoFrameGraceS        float64 `yaml:"no_frame_grace_s"`      // default: 1
	CaptureTimeoutMS     int     `yaml:"capture_timeout_ms"`    // default: 100
	FallbackOnError      *bool   `yaml:"fallback_on_error"`     // default: true
	StatsWindow          int     `yaml:"stats_window"`          // default: 120
}

// GStreamerConfig contains GStreamer backend settings
type GStreamerConfig struct {
	Format          string `yaml:"format"`            // UYVY, BGRA
	LatencyMS       int    `yaml:"latency_ms"`        // rtspsrc jitter buffer
	ConnectTimeoutS int    `yaml:"connect_timeout_s"` // time allowed to reach PLAYING
}

// DiscoveryConfig contains source discovery settings
type DiscoveryConfig struct {
	Enabled   bool    `yaml:"enabled"`
	IntervalS float64 `yaml:"interval_s"` // default: 1
}

// DisplayConfig contains consumer tick settings
type DisplayConfig struct {
	FPS  int    `yaml:"fps"`  // tick rate (default: 60)
	Sink string `yaml:"sink"` // framewire destination: tcp address or file path (empty = none)
}

// PreviewConfig contains the HTTP preview server settings
type PreviewConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`       // default: :8090
	Width       int    `yaml:"width"`        // thumbnail width (default: 480)
	FPS         int    `yaml:"fps"`          // thumbnails per second (default: 5)
	JPEGQuality int    `yaml:"jpeg_quality"` // default: 70
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"` // empty disables MQTT
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Health  string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ReceiverConfig returns the receiver library configuration. Call after Validate.
func (c *Config) ReceiverConfig() streamreceiver.Config {
	rc := streamreceiver.DefaultConfig()
	rc.ReconnectDelay = seconds(c.Receiver.ReconnectDelayS)
	rc.MaxReconnectAttempts = c.Receiver.MaxReconnectAttempts
	rc.ExponentialBackoff = c.Receiver.ExponentialBackoff
	rc.MaxReconnectDelay = seconds(c.Receiver.MaxReconnectDelayS)
	rc.NoFrameTimeout = seconds(c.Receiver.NoFrameTimeoutS)
	rc.NoFrameGracePeriod = seconds(c.Receiver.NoFrameGraceS)
	rc.CaptureTimeout = time.Duration(c.Receiver.CaptureTimeoutMS) * time.Millisecond
	rc.StatsWindow = c.Receiver.StatsWindow
	if c.Receiver.FallbackOnError != nil {
		rc.FallbackOnError = *c.Receiver.FallbackOnError
	}
	return rc
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutS)
}

// DiscoveryInterval returns the discovery poll period
func (c *Config) DiscoveryInterval() time.Duration {
	return seconds(c.Discovery.IntervalS)
}

// DisplayInterval returns the consumer tick period
func (c *Config) DisplayInterval() time.Duration {
	return time.Second / time.Duration(c.Display.FPS)
}
