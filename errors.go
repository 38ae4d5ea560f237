package streamreceiver

import (
	"errors"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/convert"
)

var (
	// ErrInitialization means the capture backend is unavailable.
	ErrInitialization = errors.New("stream-receiver: capture backend unavailable")
	// ErrConnection means a handle could not be created or the stream was lost.
	ErrConnection = errors.New("stream-receiver: connection failure")
	// ErrStreamStarvation means a connected session received no video in time.
	ErrStreamStarvation = errors.New("stream-receiver: stream starvation")
	// ErrUnsupportedFormat means a frame could not be decoded. Per-frame only.
	ErrUnsupportedFormat = convert.ErrUnsupportedFormat
	// ErrInvalidSource means Connect was called with an empty descriptor.
	ErrInvalidSource = errors.New("stream-receiver: invalid source")
	// ErrClosed is returned by operations on a closed receiver.
	ErrClosed = errors.New("stream-receiver: receiver closed")
)

// ErrorCategory represents the classification of receive errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryInit indicates the backend could not be initialized
	ErrCategoryInit
	// ErrCategoryStarvation indicates a connected stream stopped delivering video
	ErrCategoryStarvation
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown

	numErrorCategories
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryInit:
		return "init"
	case ErrCategoryStarvation:
		return "starvation"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials", "password",
	}
	codecKeywords = []string{
		"codec", "decode", "format", "negotiation", "caps", "not negotiated", "no decoder", "missing plugin",
	}
	networkKeywords = []string{
		"connection", "timeout", "unreachable", "network", "dns", "resolve", "socket",
		"tcp", "udp", "refused", "not found", "could not connect", "failed to connect", "end of stream",
	}
)

// ClassifyError categorizes an error for telemetry.
//
// Sentinel errors are matched first; backend messages fall back to keyword
// heuristics in priority order auth → codec → network.
func ClassifyError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrCategoryUnknown
	case errors.Is(err, ErrInitialization):
		return ErrCategoryInit
	case errors.Is(err, ErrStreamStarvation):
		return ErrCategoryStarvation
	case errors.Is(err, ErrUnsupportedFormat):
		return ErrCategoryCodec
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authKeywords):
		return ErrCategoryAuth
	case containsAny(msg, codecKeywords):
		return ErrCategoryCodec
	case containsAny(msg, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
