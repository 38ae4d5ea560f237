// Package capture defines the contract between the receive core and a native
// video source backend (GStreamer, simulated streams, vendor SDKs).
//
// A Backend opens a Handle for one Source. The Handle is polled with Capture,
// and every Event it returns must be handed back through Free exactly once.
// Handles are owned by a single goroutine; only Close may race with nothing.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Source identifies a discoverable stream. Two sources are equal when both
// fields are equal, so Source is usable as a map key.
type Source struct {
	Name    string `json:"name" yaml:"name" msgpack:"name"`
	Address string `json:"address" yaml:"address" msgpack:"address"`
}

// String renders "Name (Address)", or just the name when no address is set.
func (s Source) String() string {
	if s.Address == "" {
		return s.Name
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.Address)
}

// IsZero reports whether the source has neither name nor address.
func (s Source) IsZero() bool {
	return s.Name == "" && s.Address == ""
}

// FourCC is a packed pixel format code.
type FourCC uint32

func makeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FourCCUYVY = makeFourCC('U', 'Y', 'V', 'Y')
	FourCCBGRA = makeFourCC('B', 'G', 'R', 'A')
	FourCCRGBA = makeFourCC('R', 'G', 'B', 'A')
	FourCCNV12 = makeFourCC('N', 'V', '1', '2')
)

func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// ParseFourCC maps a four character code ("UYVY", "BGRA", ...) to a FourCC.
func ParseFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("capture: invalid fourcc %q", s)
	}
	return makeFourCC(s[0], s[1], s[2], s[3]), nil
}

// FrameType tags what a Capture call produced.
type FrameType int

const (
	FrameNone FrameType = iota
	FrameVideo
	FrameAudio
	FrameMetadata
)

func (t FrameType) String() string {
	switch t {
	case FrameNone:
		return "none"
	case FrameVideo:
		return "video"
	case FrameAudio:
		return "audio"
	case FrameMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// VideoFrame is a raw frame as delivered by the backend. Data stays owned by
// the backend until the enclosing Event is freed.
type VideoFrame struct {
	Width      int
	Height     int
	FourCC     FourCC
	Stride     int
	Data       []byte
	Timestamp  time.Time // sender timestamp, zero if unknown
	FrameRateN int
	FrameRateD int
}

// AudioFrame carries interleaved audio samples. The receive core never
// inspects it beyond freeing it.
type AudioFrame struct {
	SampleRate int
	Channels   int
	Samples    int
	Data       []byte
}

// Event is the result of one Capture call.
type Event struct {
	Type     FrameType
	Video    *VideoFrame
	Audio    *AudioFrame
	Metadata string

	// Token lets backends associate backend-side resources with the event.
	Token any
}

// Handle is an open connection to one source.
type Handle interface {
	// Capture waits up to timeout for the next event. A zero timeout polls.
	// An Event of type FrameNone means nothing arrived in time.
	Capture(timeout time.Duration) (Event, error)

	// Free returns the event's resources to the backend. Freeing a FrameNone
	// event is a no-op.
	Free(ev Event)

	// Close releases the connection. Events must be freed before Close.
	Close() error
}

// Backend opens handles for sources.
type Backend interface {
	Name() string
	Connect(ctx context.Context, src Source) (Handle, error)
}

// Finder is implemented by backends that can enumerate sources on the
// network.
type Finder interface {
	Sources(ctx context.Context) ([]Source, error)
}

// LifetimeHolder is implemented by backends built on a process-wide library.
// Components that call into the library outside a handle, such as source
// discovery, hold the returned Lifetime while they run.
type LifetimeHolder interface {
	Lifetime() *Lifetime
}

// LifetimeOf returns the backend's library lifetime, or nil.
func LifetimeOf(b Backend) *Lifetime {
	if lh, ok := b.(LifetimeHolder); ok {
		return lh.Lifetime()
	}
	return nil
}
