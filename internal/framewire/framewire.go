// Package framewire streams decoded frames to an external display process.
//
// Wire format: each message is a 4-byte big-endian length followed by a
// MsgPack-encoded Message. Pixels travel as raw bytes.
package framewire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
)

// MaxMessageSize bounds a single message (a 3840x2160 RGBA frame is ~33MB).
const MaxMessageSize = 64 << 20

// ErrMessageTooLarge is returned for length prefixes above MaxMessageSize.
var ErrMessageTooLarge = errors.New("framewire: message too large")

// Message is one frame on the wire
type Message struct {
	InstanceID     string `msgpack:"instance_id"`
	Source         string `msgpack:"source"`
	Seq            uint64 `msgpack:"seq"`
	Timestamp      string `msgpack:"timestamp"` // RFC3339Nano
	Width          int    `msgpack:"width"`
	Height         int    `msgpack:"height"`
	Stride         int    `msgpack:"stride"`
	Format         string `msgpack:"format"`
	Pixels         []byte `msgpack:"frame_data"`
	TraceID        string `msgpack:"trace_id,omitempty"`
	Fallback       bool   `msgpack:"fallback"`
	FallbackReason string `msgpack:"fallback_reason,omitempty"`
}

// FromFrame fills m from f, reusing m.Pixels when large enough.
func (m *Message) FromFrame(f *streamreceiver.DecodedFrame, instanceID, source string) {
	pixels := m.Pixels
	if cap(pixels) >= len(f.Pixels) {
		pixels = pixels[:len(f.Pixels)]
	} else {
		pixels = make([]byte, len(f.Pixels))
	}
	copy(pixels, f.Pixels)

	*m = Message{
		InstanceID:     instanceID,
		Source:         source,
		Seq:            f.Seq,
		Timestamp:      f.CapturedAt.UTC().Format(time.RFC3339Nano),
		Width:          f.Width,
		Height:         f.Height,
		Stride:         f.Stride,
		Format:         f.Format.String(),
		Pixels:         pixels,
		TraceID:        f.TraceID,
		Fallback:       f.Fallback,
		FallbackReason: f.FallbackReason,
	}
}

// Writer writes length-prefixed messages. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix [4]byte
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes and writes one message.
func (w *Writer) Write(m *Message) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack frame: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	binary.BigEndian.PutUint32(w.prefix[:], uint32(len(data)))
	if _, err := w.w.Write(w.prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// Reader reads length-prefixed messages.
type Reader struct {
	r      io.Reader
	prefix [4]byte
	buf    []byte
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read decodes the next message. It returns io.EOF at a clean end of stream.
func (r *Reader) Read() (*Message, error) {
	if _, err := io.ReadFull(r.r, r.prefix[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(r.prefix[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	data := r.buf[:n]
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("failed to read msgpack data: %w", io.ErrUnexpectedEOF)
	}

	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal msgpack frame: %w", err)
	}
	return &m, nil
}

// Open returns a destination for a sink string: "tcp://host:port" dials a
// TCP listener, "-" is stdout, anything else is a file path.
func Open(sink string) (io.WriteCloser, error) {
	switch {
	case sink == "":
		return nil, fmt.Errorf("framewire: empty sink")
	case sink == "-":
		return nopCloser{os.Stdout}, nil
	case strings.HasPrefix(sink, "tcp://"):
		conn, err := net.DialTimeout("tcp", strings.TrimPrefix(sink, "tcp://"), 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("framewire: dial %s: %w", sink, err)
		}
		return conn, nil
	default:
		f, err := os.Create(sink)
		if err != nil {
			return nil, fmt.Errorf("framewire: create %s: %w", sink, err)
		}
		return f, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
