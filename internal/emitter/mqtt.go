package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/health"
)

// EventMessage is the JSON payload published for a receiver event
type EventMessage struct {
	Type       string                          `json:"type"`
	InstanceID string                          `json:"instance_id"`
	Timestamp  time.Time                       `json:"timestamp"`
	Source     streamreceiver.SourceDescriptor `json:"source"`
	State      string                          `json:"state,omitempty"`
	Attempt    int                             `json:"attempt,omitempty"`
	Error      *string                         `json:"error,omitempty"` // "" = cleared
	Metrics    *streamreceiver.FrameMetrics    `json:"metrics,omitempty"`
	Frame      *streamreceiver.FrameInfo       `json:"frame,omitempty"`
}

// MQTTEmitter publishes receiver events and health to the MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// NewWithClient creates an emitter on an already connected client
func NewWithClient(cfg *config.Config, client mqtt.Client) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.Client = client
	e.connected = client.IsConnected()
	return e
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s", broker)
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// kindTopic maps an event kind to its topic suffix and QoS key
func kindTopic(k streamreceiver.EventKind) string {
	switch k {
	case streamreceiver.EventStateChanged:
		return "state"
	case streamreceiver.EventErrorChanged:
		return "error"
	case streamreceiver.EventMetricsUpdated:
		return "metrics"
	default:
		return "frame"
	}
}

// NewEventMessage converts a receiver event to its wire form
func NewEventMessage(instanceID string, ev streamreceiver.Event) EventMessage {
	msg := EventMessage{
		Type:       ev.Kind.String(),
		InstanceID: instanceID,
		Timestamp:  ev.Time,
		Source:     ev.Source,
	}
	switch ev.Kind {
	case streamreceiver.EventStateChanged:
		msg.State = ev.State.String()
		msg.Attempt = ev.Attempt
	case streamreceiver.EventErrorChanged:
		text := ev.Error
		msg.Error = &text
	case streamreceiver.EventMetricsUpdated:
		m := ev.Metrics
		msg.Metrics = &m
	case streamreceiver.EventFrameReady:
		f := ev.Frame
		msg.Frame = &f
	}
	return msg
}

// PublishEvent publishes a receiver event to {events}/{state|error|metrics|frame}.
// State messages are retained so late subscribers see the current state.
func (e *MQTTEmitter) PublishEvent(ev streamreceiver.Event) error {
	suffix := kindTopic(ev.Kind)
	topic := fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.Events, suffix)

	payload, err := json.Marshal(NewEventMessage(e.cfg.InstanceID, ev))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	retained := ev.Kind == streamreceiver.EventStateChanged
	return e.publish(topic, e.getQoS(suffix), retained, payload)
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(status health.Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal health: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Health, e.getQoS("health"), false, payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	// Update stats
	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("mqtt message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// Forward publishes events from a receiver subscription until ctx is
// cancelled or the channel closes. Frame-ready events are not forwarded.
func (e *MQTTEmitter) Forward(ctx context.Context, events <-chan streamreceiver.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == streamreceiver.EventFrameReady {
				continue
			}
			if err := e.PublishEvent(ev); err != nil {
				slog.Debug("event not published", "kind", ev.Kind.String(), "error", err)
			}
		}
	}
}

// RunHealth publishes status() every interval until ctx is cancelled.
func (e *MQTTEmitter) RunHealth(ctx context.Context, interval time.Duration, status func() health.Status) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.PublishHealth(status()); err != nil {
				slog.Debug("health not published", "error", err)
			}
		}
	}
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// IsConnected returns connection status
func (e *MQTTEmitter) IsConnected() bool {
	return e.isConnected()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// getQoS returns the QoS level for a message class
func (e *MQTTEmitter) getQoS(class string) byte {
	if qos, ok := e.cfg.MQTT.QoS[class]; ok {
		return qos
	}
	return 0 // default QoS 0
}
