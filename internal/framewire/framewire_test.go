package framewire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
)

func testFrame(seq uint64, marker byte) *streamreceiver.DecodedFrame {
	pixels := bytes.Repeat([]byte{marker}, 4*2*4)
	return &streamreceiver.DecodedFrame{
		Width: 4, Height: 2, Stride: 16, Format: streamreceiver.PixelFormatRGBA8,
		Pixels: pixels, Seq: seq, TraceID: "trace-1",
		CapturedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// TestWriterReader validates the length-prefixed msgpack stream
func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	for i := uint64(1); i <= 3; i++ {
		var m Message
		m.FromFrame(testFrame(i, byte(i)), "wall-1", "CamA (10.0.0.5)")
		require.NoError(t, w.Write(&m))
	}

	// First prefix matches the first payload length
	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Greater(t, n, uint32(32))

	r := NewReader(&buf)
	for i := uint64(1); i <= 3; i++ {
		m, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, i, m.Seq)
		assert.Equal(t, "wall-1", m.InstanceID)
		assert.Equal(t, "CamA (10.0.0.5)", m.Source)
		assert.Equal(t, 4, m.Width)
		assert.Equal(t, 16, m.Stride)
		assert.Equal(t, "RGBA8", m.Format)
		assert.Equal(t, "2026-05-01T10:00:00Z", m.Timestamp)
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 32), m.Pixels)
	}

	_, err := r.Read()
	assert.ErrorIs(t, err, io.EOF)

	t.Log("✅ 3 frames round-tripped through the wire format")
}

func TestReader_Errors(t *testing.T) {
	t.Run("too_large", func(t *testing.T) {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], MaxMessageSize+1)
		_, err := NewReader(bytes.NewReader(prefix[:])).Read()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("truncated_payload", func(t *testing.T) {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], 100)
		data := append(prefix[:], 1, 2, 3)
		_, err := NewReader(bytes.NewReader(data)).Read()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("garbage_payload", func(t *testing.T) {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], 1)
		data := append(prefix[:], 0xc1) // never used in msgpack
		_, err := NewReader(bytes.NewReader(data)).Read()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal")
	})
}

func TestMessage_FromFrameReusesPixels(t *testing.T) {
	m := Message{Pixels: make([]byte, 0, 64)}
	buf := m.Pixels[:1]
	m.FromFrame(testFrame(1, 9), "i", "s")

	assert.Same(t, &buf[0], &m.Pixels[0])
	assert.Len(t, m.Pixels, 32)

	fb := streamreceiver.NewFallbackPresenter().Render("no signal")
	m.FromFrame(fb, "i", "s")
	assert.True(t, m.Fallback)
	assert.Equal(t, "no signal", m.FallbackReason)
	assert.Len(t, m.Pixels, streamreceiver.FallbackWidth*streamreceiver.FallbackHeight*4)
}

// blockingWriter blocks every Write until released.
type blockingWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
	closed  bool
}

func (b *blockingWriter) Write(p []byte) (int, error) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *blockingWriter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// TestSink_LatestWins verifies a slow destination never blocks Offer
func TestSink_LatestWins(t *testing.T) {
	dst := &blockingWriter{release: make(chan struct{})}
	s := NewSink(dst, "wall-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	start := time.Now()
	for i := uint64(1); i <= 10; i++ {
		s.Offer(testFrame(i, byte(i)), "CamA")
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Offer must not block")

	close(dst.release)
	require.Eventually(t, func() bool { return s.Stats().Sent >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Stats().Sent+s.Stats().Overwritten == 10 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	st := s.Stats()
	assert.EqualValues(t, 10, st.Offered)
	assert.Greater(t, st.Overwritten, uint64(0))

	dst.mu.Lock()
	defer dst.mu.Unlock()
	assert.True(t, dst.closed)

	// The newest frame is always the last one written
	r := NewReader(bytes.NewReader(dst.buf.Bytes()))
	var last *Message
	for {
		m, err := r.Read()
		if err != nil {
			break
		}
		last = m
	}
	require.NotNil(t, last)
	assert.EqualValues(t, 10, last.Seq)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (failingWriter) Close() error              { return nil }

func TestSink_WriteError(t *testing.T) {
	s := NewSink(failingWriter{}, "wall-1")
	s.Offer(testFrame(1, 1), "CamA")

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.EqualValues(t, 1, s.Stats().Errors)
}

func TestOpen(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "frames.bin")
	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := Open("tcp://" + ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}
