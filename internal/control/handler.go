package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnConnect     func(src streamreceiver.SourceDescriptor) error
	OnDisconnect  func() error
	OnGetStatus   func() map[string]interface{}
	OnListSources func() []streamreceiver.SourceDescriptor
	OnShutdown    func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   mqtt.Client
	commands chan Command

	mu        sync.RWMutex
	handled   uint64
	stopped   bool
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	// Process commands
	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	slog.Info("control plane handler stopped")
	return nil
}

// Handled returns the number of executed commands
func (h *Handler) Handled() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handled
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	// Send to processing channel
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	defer func() {
		h.mu.Lock()
		h.handled++
		h.mu.Unlock()
	}()

	switch cmd.Command {
	case "connect":
		if h.callbacks.OnConnect == nil {
			resp.Status = "error"
			resp.Error = "connect not implemented"
			break
		}
		src := streamreceiver.SourceDescriptor{
			Name:    stringParam(cmd.Params, "name"),
			Address: stringParam(cmd.Params, "address"),
		}
		if src.IsZero() {
			resp.Status = "error"
			resp.Error = "missing 'name' or 'address' parameter (expected string)"
			break
		}
		if err := h.callbacks.OnConnect(src); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"source":  src.String(),
			"message": "connecting",
		}

	case "disconnect":
		if h.callbacks.OnDisconnect == nil {
			resp.Status = "error"
			resp.Error = "disconnect not implemented"
			break
		}
		if err := h.callbacks.OnDisconnect(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"message": "disconnected",
		}

	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "list_sources":
		if h.callbacks.OnListSources != nil {
			sources := h.callbacks.OnListSources()
			if sources == nil {
				sources = []streamreceiver.SourceDescriptor{}
			}
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"sources": sources,
				"count":   len(sources),
			}
		} else {
			resp.Status = "error"
			resp.Error = "list_sources not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Send response BEFORE triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(500 * time.Millisecond) // Brief delay to ensure response is sent
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// sendResponse sends a response to the health topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Health
	qos := h.cfg.MQTT.QoS["health"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
