package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Backend == "" {
		cfg.Backend = "sim"
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Source.Name == "" && cfg.Source.Address != "" {
		cfg.Source.Name = cfg.Source.Address
	}
	for i, src := range cfg.Sources {
		if src.IsZero() {
			return fmt.Errorf("sources[%d]: name or address is required", i)
		}
	}

	if err := validateReceiver(&cfg.Receiver); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}

	// GStreamer output format
	if cfg.GStreamer.Format == "" {
		cfg.GStreamer.Format = "UYVY"
	}
	cfg.GStreamer.Format = strings.ToUpper(cfg.GStreamer.Format)
	fourcc, err := capture.ParseFourCC(cfg.GStreamer.Format)
	if err != nil || (fourcc != capture.FourCCUYVY && fourcc != capture.FourCCBGRA) {
		return fmt.Errorf("gstreamer.format must be UYVY or BGRA, got '%s'", cfg.GStreamer.Format)
	}

	if cfg.Discovery.IntervalS <= 0 {
		cfg.Discovery.IntervalS = 1
	}

	if cfg.Display.FPS <= 0 {
		cfg.Display.FPS = 60
	}
	if cfg.Display.FPS > 1000 {
		return fmt.Errorf("display.fps must be <= 1000, got %d", cfg.Display.FPS)
	}

	// Preview defaults
	if cfg.Preview.Listen == "" {
		cfg.Preview.Listen = ":8090"
	}
	if cfg.Preview.Width <= 0 {
		cfg.Preview.Width = 480
	}
	if cfg.Preview.FPS <= 0 {
		cfg.Preview.FPS = 5
	}
	if cfg.Preview.JPEGQuality <= 0 {
		cfg.Preview.JPEGQuality = 70
	}
	if cfg.Preview.JPEGQuality > 100 {
		return fmt.Errorf("preview.jpeg_quality must be 1-100, got %d", cfg.Preview.JPEGQuality)
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("receiver/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("receiver/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("receiver/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"state":   1,
			"error":   1,
			"metrics": 0,
			"health":  0,
		}
	}
	for name, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2, got %d", name, qos)
		}
	}

	return nil
}

func validateReceiver(rc *ReceiverConfig) error {
	if rc.ReconnectDelayS == 0 {
		rc.ReconnectDelayS = 2
	}
	if rc.ReconnectDelayS < 0 {
		return fmt.Errorf("reconnect_delay_s must be >= 0")
	}
	if rc.MaxReconnectAttempts == 0 {
		rc.MaxReconnectAttempts = 5
	}
	if rc.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must be > 0")
	}
	if rc.MaxReconnectDelayS <= 0 {
		rc.MaxReconnectDelayS = 30
	}
	if rc.NoFrameTimeoutS == 0 {
		rc.NoFrameTimeoutS = 2
	}
	if rc.NoFrameTimeoutS < 0 {
		return fmt.Errorf("no_frame_timeout_s must be > 0")
	}
	if rc.NoFrameGraceS == 0 {
		rc.NoFrameGraceS = 1
	}
	if rc.NoFrameGraceS < 0 {
		return fmt.Errorf("no_frame_grace_s must be >= 0")
	}
	if rc.CaptureTimeoutMS <= 0 {
		rc.CaptureTimeoutMS = 100
	}
	if float64(rc.CaptureTimeoutMS)/1000 > rc.NoFrameTimeoutS {
		return fmt.Errorf("capture_timeout_ms (%d) must not exceed no_frame_timeout_s (%.1f)",
			rc.CaptureTimeoutMS, rc.NoFrameTimeoutS)
	}
	if rc.StatsWindow <= 0 {
		rc.StatsWindow = 120
	}
	if rc.FallbackOnError == nil {
		enabled := true
		rc.FallbackOnError = &enabled
	}
	return nil
}
