package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/mqtttest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("instance_id: wall-1\nmqtt:\n  broker: localhost:1883\n"))
	require.NoError(t, err)
	return cfg
}

var camA = streamreceiver.SourceDescriptor{Name: "CamA", Address: "10.0.0.5"}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

// TestPublishEvent validates topic routing, QoS, retain flag and payload shape
func TestPublishEvent(t *testing.T) {
	client := mqtttest.NewClient()
	e := NewWithClient(testConfig(t), client)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []streamreceiver.Event{
		{Kind: streamreceiver.EventStateChanged, Time: now, Source: camA, State: streamreceiver.StateReconnecting, Attempt: 2},
		{Kind: streamreceiver.EventErrorChanged, Time: now, Source: camA, Error: ""},
		{Kind: streamreceiver.EventMetricsUpdated, Time: now, Source: camA, Metrics: streamreceiver.FrameMetrics{Width: 1920, Height: 1080, FramesPerSecond: 59.94}},
	}
	for _, ev := range events {
		require.NoError(t, e.PublishEvent(ev))
	}

	state := client.PublishedTo("receiver/events/wall-1/state")
	require.Len(t, state, 1)
	assert.True(t, state[0].Retained)
	assert.Equal(t, byte(1), state[0].QoS)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(state[0].Payload, &msg))
	assert.Equal(t, "state_changed", msg["type"])
	assert.Equal(t, "reconnecting", msg["state"])
	assert.EqualValues(t, 2, msg["attempt"])
	assert.Equal(t, "wall-1", msg["instance_id"])
	assert.Equal(t, map[string]any{"name": "CamA", "address": "10.0.0.5"}, msg["source"])

	errMsgs := client.PublishedTo("receiver/events/wall-1/error")
	require.Len(t, errMsgs, 1)
	msg = nil
	require.NoError(t, json.Unmarshal(errMsgs[0].Payload, &msg))
	assert.Contains(t, msg, "error", "cleared error is sent explicitly")
	assert.Equal(t, "", msg["error"])

	metrics := client.PublishedTo("receiver/events/wall-1/metrics")
	require.Len(t, metrics, 1)
	assert.Equal(t, byte(0), metrics[0].QoS)
	assert.False(t, metrics[0].Retained)

	st := e.Stats()
	assert.True(t, st.Connected)
	assert.EqualValues(t, 1, st.Published["receiver/events/wall-1/state"])
	assert.Zero(t, st.Errors)

	t.Log("✅ state/error/metrics routed to their topics")
}

func TestPublish_Failures(t *testing.T) {
	client := mqtttest.NewClient()
	e := NewWithClient(testConfig(t), client)

	client.FailPublish(errors.New("broker gone"))
	err := e.PublishHealth(health.Status{Status: health.StatusHealthy})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")

	require.NoError(t, e.Disconnect())
	err = e.PublishEvent(streamreceiver.Event{Kind: streamreceiver.EventStateChanged})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	st := e.Stats()
	assert.False(t, st.Connected)
	assert.EqualValues(t, 2, st.Errors)
}

func TestForward_SkipsFrameEvents(t *testing.T) {
	client := mqtttest.NewClient()
	e := NewWithClient(testConfig(t), client)

	events := make(chan streamreceiver.Event, 3)
	events <- streamreceiver.Event{Kind: streamreceiver.EventFrameReady}
	events <- streamreceiver.Event{Kind: streamreceiver.EventStateChanged, State: streamreceiver.StateConnected}
	events <- streamreceiver.Event{Kind: streamreceiver.EventFrameReady}
	close(events)

	e.Forward(context.Background(), events)

	pub := client.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "receiver/events/wall-1/state", pub[0].Topic)
}

func TestRunHealth(t *testing.T) {
	client := mqtttest.NewClient()
	e := NewWithClient(testConfig(t), client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.RunHealth(ctx, 5*time.Millisecond, func() health.Status {
			return health.Status{Status: health.StatusDegraded, State: "connecting"}
		})
	}()

	require.Eventually(t, func() bool {
		return len(client.PublishedTo("receiver/health/wall-1")) >= 2
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	var st health.Status
	require.NoError(t, json.Unmarshal(client.PublishedTo("receiver/health/wall-1")[0].Payload, &st))
	assert.Equal(t, health.StatusDegraded, st.Status)
}
