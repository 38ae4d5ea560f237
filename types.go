package streamreceiver

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/convert"
)

// SourceDescriptor identifies a stream source by name and network address.
// Two descriptors are equal when both fields are equal.
type SourceDescriptor = capture.Source

// ConnectionState is the receiver's position in its connection lifecycle.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns a human-readable name for the state
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether a connection is in progress or established.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// PixelFormat is the layout of DecodedFrame.Pixels.
type PixelFormat = convert.PixelFormat

const (
	PixelFormatRGBA8 = convert.PixelFormatRGBA8
	PixelFormatBGRA8 = convert.PixelFormatBGRA8
)

// FrameMetrics describes the most recently accepted frame.
type FrameMetrics struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FramesPerSecond float64 `json:"fps"`        // nominal rate advertised by the sender
	LatencyMS       float64 `json:"latency_ms"` // receive time minus sender timestamp, >= 0
}

// DecodedFrame is a display-ready pixel buffer. len(Pixels) == Stride*Height.
type DecodedFrame struct {
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format of Pixels (RGBA8 or BGRA8)
	Format PixelFormat
	// Stride in bytes, always Width*4
	Stride int
	// Pixels holds Height rows of Stride bytes
	Pixels []byte
	// Seq is the monotonic sequence number within the receiver
	Seq uint64
	// TraceID is a unique identifier for distributed tracing
	TraceID string
	// CapturedAt is when the frame was received
	CapturedAt time.Time
	// Fallback is true for the placeholder test pattern
	Fallback bool
	// FallbackReason explains why the fallback is shown
	FallbackReason string
}

// FrameInfo is the pixel-free description of a frame carried by
// EventFrameReady.
type FrameInfo struct {
	Seq      uint64      `json:"seq"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Format   PixelFormat `json:"format"`
	TraceID  string      `json:"trace_id"`
	Fallback bool        `json:"fallback"`
}

// Info returns the frame's metadata.
func (f *DecodedFrame) Info() FrameInfo {
	return FrameInfo{
		Seq:      f.Seq,
		Width:    f.Width,
		Height:   f.Height,
		Format:   f.Format,
		TraceID:  f.TraceID,
		Fallback: f.Fallback,
	}
}

// EventKind tags a receiver notification.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventErrorChanged
	EventMetricsUpdated
	EventFrameReady
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventErrorChanged:
		return "error_changed"
	case EventMetricsUpdated:
		return "metrics_updated"
	case EventFrameReady:
		return "frame_ready"
	default:
		return "unknown"
	}
}

// Event is a receiver notification. Only the fields relevant to Kind are set.
//
// EventFrameReady announces a frame taken by Tick and describes it with
// FrameInfo. Pixel data never travels on the bus; the frame itself is
// returned by Tick to its caller.
type Event struct {
	Kind   EventKind
	Time   time.Time
	Source SourceDescriptor

	// EventStateChanged
	State   ConnectionState
	Attempt int

	// EventErrorChanged (empty = cleared)
	Error string

	// EventMetricsUpdated
	Metrics FrameMetrics

	// EventFrameReady, metadata of the frame Tick returned
	Frame FrameInfo
}

// classifyEvent lets the event bus coalesce high-rate notifications.
func classifyEvent(e Event) (int, bool) {
	switch e.Kind {
	case EventMetricsUpdated, EventFrameReady:
		return int(e.Kind), true
	default:
		return 0, false
	}
}

// StreamStats contains current receiver statistics
type StreamStats struct {
	// Source is the current source ("" when idle)
	Source string
	// Backend is the capture backend name
	Backend string
	// SessionID identifies the current Connect call
	SessionID string
	// State is the current connection state
	State ConnectionState
	// Attempt is the failed attempt number while Reconnecting
	Attempt int
	// LastError is the current error text
	LastError string
	// Metrics of the most recently accepted frame
	Metrics FrameMetrics

	// FramesAccepted is the number of frames converted and published
	FramesAccepted uint64
	// FramesStale is the number of video frames discarded by drain-to-latest
	FramesStale uint64
	// FramesUnsupported is the number of frames rejected by the converter
	FramesUnsupported uint64
	// AuxEventsFreed counts audio and metadata events discarded
	AuxEventsFreed uint64
	// FramesDelivered is the number of frames taken by Tick
	FramesDelivered uint64
	// FramesOverwritten is the number of frames replaced before Tick took them
	FramesOverwritten uint64

	// ConnectAttempts is the total number of connection attempts
	ConnectAttempts uint64
	// FailedAttempts is the number of attempts that failed
	FailedAttempts uint64
	// Reconnects counts sessions that ended and triggered a new Connecting phase
	Reconnects uint64
	// Starvations counts sessions ended by frame starvation
	Starvations uint64

	// Error telemetry by category
	ErrorsNetwork    uint64
	ErrorsCodec      uint64
	ErrorsAuth       uint64
	ErrorsInit       uint64
	ErrorsStarvation uint64
	ErrorsUnknown    uint64

	// FPSMeasured is the measured rate of accepted frames
	FPSMeasured float64
	// FPSStdDev is the standard deviation of the instantaneous rate
	FPSStdDev float64
	// IsStable is true if the delivered rate is steady
	IsStable bool

	// ConnectedFor is the time since the current session connected
	ConnectedFor time.Duration
}
