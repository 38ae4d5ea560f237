// Package health derives a service health summary from receiver statistics.
package health

import (
	"time"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of the receiver service
type Status struct {
	Status         string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64                       `json:"uptime_seconds"`
	Source         string                      `json:"source,omitempty"`
	State          string                      `json:"state"`
	Attempt        int                         `json:"attempt,omitempty"`
	LastError      string                      `json:"last_error,omitempty"`
	MQTTConnected  bool                        `json:"mqtt_connected"`
	Metrics        streamreceiver.FrameMetrics `json:"metrics"`
	FPSMeasured    float64                     `json:"fps_measured"`
	StaleDropRate  float64                     `json:"stale_drop_rate"`
	FramesAccepted uint64                      `json:"frames_accepted"`
	Reconnects     uint64                      `json:"reconnects"`
	Starvations    uint64                      `json:"starvations"`
}

// Evaluate summarizes st. Connected is healthy, a connection in progress or
// an idle receiver is degraded, and Error is unhealthy.
func Evaluate(st streamreceiver.StreamStats, mqttConnected bool, started time.Time) Status {
	s := Status{
		Status:         StatusHealthy,
		UptimeSeconds:  int64(time.Since(started).Seconds()),
		Source:         st.Source,
		State:          st.State.String(),
		Attempt:        st.Attempt,
		LastError:      st.LastError,
		MQTTConnected:  mqttConnected,
		Metrics:        st.Metrics,
		FPSMeasured:    st.FPSMeasured,
		FramesAccepted: st.FramesAccepted,
		Reconnects:     st.Reconnects,
		Starvations:    st.Starvations,
	}

	// Calculate drop rate
	if total := st.FramesAccepted + st.FramesStale; total > 0 {
		s.StaleDropRate = float64(st.FramesStale) / float64(total)
	}

	switch st.State {
	case streamreceiver.StateConnected:
	case streamreceiver.StateError:
		s.Status = StatusUnhealthy
	default:
		s.Status = StatusDegraded
	}
	return s
}
