// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes and routes Deliver calls to subscribed handlers.
// Subscriptions match topics exactly.
type Client struct {
	mu         sync.Mutex
	connected  bool
	published  []Published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

// NewClient returns a connected client.
func NewClient() *Client {
	return &Client{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

// SetConnected toggles IsConnected.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

// FailPublish makes subsequent publishes complete with err.
func (c *Client) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// Published returns a copy of all recorded publishes.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// PublishedTo returns the publishes on topic.
func (c *Client) PublishedTo(topic string) []Published {
	var out []Published
	for _, p := range c.Published() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Subscribed reports whether a handler is registered for topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Deliver invokes the handler subscribed to topic, if any.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &message{topic: topic, payload: payload})
	return true
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.SetConnected(true)
	return done(nil)
}

func (c *Client) Disconnect(quiesce uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return done(c.publishErr)
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return done(nil)
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic := range filters {
		c.handlers[topic] = callback
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return done(nil)
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// token is an already completed mqtt.Token.
type token struct {
	err  error
	done chan struct{}
}

func done(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
