package framewire

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/handoff"
)

// Sink writes frames from the display loop without blocking it. Offer copies
// the frame into a pending slot; a writer goroutine sends the newest pending
// frame. Frames offered while the writer is busy replace each other.
type Sink struct {
	instanceID string
	dst        io.WriteCloser
	writer     *Writer

	slot  handoff.Slot[Message]
	spare chan *Message
	wake  chan struct{}

	sent   atomic.Uint64
	errors atomic.Uint64
}

// SinkStats contains sink statistics
type SinkStats struct {
	Offered     uint64
	Sent        uint64
	Overwritten uint64
	Errors      uint64
}

// NewSink returns a sink writing to dst.
func NewSink(dst io.WriteCloser, instanceID string) *Sink {
	return &Sink{
		instanceID: instanceID,
		dst:        dst,
		writer:     NewWriter(dst),
		spare:      make(chan *Message, 2),
		wake:       make(chan struct{}, 1),
	}
}

// Offer queues a copy of f for sending. Never blocks on the writer.
func (s *Sink) Offer(f *streamreceiver.DecodedFrame, source string) {
	var m *Message
	select {
	case m = <-s.spare:
	default:
		m = &Message{}
	}
	m.FromFrame(f, s.instanceID, source)

	if displaced := s.slot.Publish(m); displaced != nil {
		s.recycle(displaced)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sink) recycle(m *Message) {
	select {
	case s.spare <- m:
	default:
	}
}

// Run sends pending frames until ctx is cancelled, then closes the destination.
func (s *Sink) Run(ctx context.Context) error {
	defer s.dst.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}

		m, ok := s.slot.TryDrain()
		if !ok {
			continue
		}

		start := time.Now()
		seq := m.Seq
		err := s.writer.Write(m)
		s.recycle(m)
		if err != nil {
			s.errors.Add(1)
			slog.Error("framewire: write failed, stopping sink", "error", err)
			return err
		}
		s.sent.Add(1)
		slog.Debug("framewire: frame sent", "seq", seq, "duration", time.Since(start))
	}
}

// Stats returns sink statistics
func (s *Sink) Stats() SinkStats {
	st := s.slot.Stats()
	return SinkStats{
		Offered:     st.Published,
		Sent:        s.sent.Load(),
		Overwritten: st.Overwritten,
		Errors:      s.errors.Load(),
	}
}
