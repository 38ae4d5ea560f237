package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// maxBacklog caps how many frame intervals a slow reader can fall behind
// before the generator skips ahead.
const maxBacklog = 4

// ErrClosed is returned by Capture after Close.
var ErrClosed = errors.New("sim: handle closed")

var barColors = [8][3]byte{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
	{16, 16, 16},
}

type handle struct {
	backend *Backend
	src     capture.Source
	opts    Options

	interval time.Duration
	next     time.Time
	frames   int
	pending  []capture.Event

	mu          sync.Mutex
	closed      bool
	nextToken   uint64
	outstanding map[uint64]struct{}
	pool        [][]byte
}

func newHandle(b *Backend, src capture.Source, opts Options) *handle {
	interval := time.Duration(float64(time.Second) / opts.FPS)
	return &handle{
		backend:     b,
		src:         src,
		opts:        opts,
		interval:    interval,
		next:        time.Now(),
		outstanding: make(map[uint64]struct{}),
	}
}

func (h *handle) stride() int {
	bpp := 4
	if h.opts.FourCC == capture.FourCCUYVY {
		bpp = 2
	}
	return h.opts.Width*bpp + h.opts.Padding
}

// Capture returns queued audio/metadata first, then video on the frame clock.
func (h *handle) Capture(timeout time.Duration) (capture.Event, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return capture.Event{}, ErrClosed
	}

	if len(h.pending) > 0 {
		ev := h.pending[0]
		h.pending = h.pending[1:]
		return ev, nil
	}

	if h.opts.ErrorAfter > 0 && h.frames >= h.opts.ErrorAfter {
		return capture.Event{}, fmt.Errorf("sim: stream from %s lost after %d frames", h.src, h.frames)
	}

	if h.opts.StallAfter > 0 && h.frames >= h.opts.StallAfter {
		sleep(timeout)
		return capture.Event{Type: capture.FrameNone}, nil
	}

	now := time.Now()
	if wait := h.next.Sub(now); wait > 0 {
		if wait > timeout {
			sleep(timeout)
			return capture.Event{Type: capture.FrameNone}, nil
		}
		sleep(wait)
	} else if -wait > maxBacklog*h.interval {
		h.next = now.Add(-maxBacklog * h.interval)
	}
	h.next = h.next.Add(h.interval)

	ev := h.videoEvent()
	h.frames++

	if h.opts.Audio {
		h.pending = append(h.pending, h.audioEvent())
	}
	if h.opts.Metadata && h.frames%30 == 1 {
		h.pending = append(h.pending, h.track(capture.Event{
			Type:     capture.FrameMetadata,
			Metadata: fmt.Sprintf(`<sim frame="%d" pattern="%s"/>`, h.frames, h.opts.Pattern),
		}))
	}
	return ev, nil
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func (h *handle) track(ev capture.Event) capture.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextToken++
	h.outstanding[h.nextToken] = struct{}{}
	ev.Token = h.nextToken
	return ev
}

func (h *handle) buffer(size int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.pool) - 1; i >= 0; i-- {
		if cap(h.pool[i]) >= size {
			buf := h.pool[i][:size]
			h.pool = append(h.pool[:i], h.pool[i+1:]...)
			return buf
		}
	}
	return make([]byte, size)
}

func (h *handle) videoEvent() capture.Event {
	stride := h.stride()
	data := h.buffer(stride * h.opts.Height)
	h.paint(data, stride)

	n := int(h.opts.FPS * 1000)
	return h.track(capture.Event{
		Type: capture.FrameVideo,
		Video: &capture.VideoFrame{
			Width:      h.opts.Width,
			Height:     h.opts.Height,
			FourCC:     h.opts.FourCC,
			Stride:     stride,
			Data:       data,
			Timestamp:  time.Now(),
			FrameRateN: n,
			FrameRateD: 1000,
		},
	})
}

func (h *handle) audioEvent() capture.Event {
	const rate, channels = 48000, 2
	samples := int(float64(rate) / h.opts.FPS)
	return h.track(capture.Event{
		Type: capture.FrameAudio,
		Audio: &capture.AudioFrame{
			SampleRate: rate,
			Channels:   channels,
			Samples:    samples,
			Data:       make([]byte, samples*channels*4),
		},
	})
}

// paint draws scrolling colour bars ("bars") or a flat grey field (any other
// pattern) in the handle's pixel format.
func (h *handle) paint(data []byte, stride int) {
	w, ht := h.opts.Width, h.opts.Height
	barWidth := w / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	offset := h.frames * 4

	colorAt := func(x int) [3]byte {
		if h.opts.Pattern != "bars" {
			return [3]byte{128, 128, 128}
		}
		return barColors[((x+offset)/barWidth)%len(barColors)]
	}

	for y := 0; y < ht; y++ {
		row := data[y*stride : (y+1)*stride]
		switch h.opts.FourCC {
		case capture.FourCCUYVY:
			for x := 0; x+1 < w; x += 2 {
				c := colorAt(x)
				yy, u, v := rgbToYUV(c[0], c[1], c[2])
				i := x * 2
				row[i], row[i+1], row[i+2], row[i+3] = u, yy, v, yy
			}
		case capture.FourCCBGRA:
			for x := 0; x < w; x++ {
				c := colorAt(x)
				i := x * 4
				row[i], row[i+1], row[i+2], row[i+3] = c[2], c[1], c[0], 255
			}
		default:
			for x := 0; x < w; x++ {
				c := colorAt(x)
				i := x * 4
				row[i], row[i+1], row[i+2], row[i+3] = c[0], c[1], c[2], 255
			}
		}
	}
}

// rgbToYUV is the BT.601 studio-range forward transform.
func rgbToYUV(r, g, b byte) (y, u, v byte) {
	ri, gi, bi := int(r), int(g), int(b)
	y = byte(((66*ri+129*gi+25*bi+128)>>8) + 16)
	u = byte(((-38*ri-74*gi+112*bi+128)>>8) + 128)
	v = byte(((112*ri-94*gi-18*bi+128)>>8) + 128)
	return y, u, v
}

// Free returns the event's buffers to the handle pool.
func (h *handle) Free(ev capture.Event) {
	if ev.Type == capture.FrameNone {
		return
	}
	token, _ := ev.Token.(uint64)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.outstanding[token]; !ok {
		h.backend.doubleFrees.Add(1)
		slog.Warn("sim: free of unknown or already freed event",
			"source", h.src.String(),
			"type", ev.Type.String(),
		)
		return
	}
	delete(h.outstanding, token)

	if ev.Video != nil && len(h.pool) < maxBacklog {
		h.pool = append(h.pool, ev.Video.Data)
	}
}

// Close releases the handle. Events still outstanding are reported.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	// Queued events were never handed out.
	for _, ev := range h.pending {
		token, _ := ev.Token.(uint64)
		delete(h.outstanding, token)
	}
	h.pending = nil
	leaked := len(h.outstanding)
	h.mu.Unlock()

	if leaked > 0 {
		slog.Warn("sim: handle closed with unfreed events", "source", h.src.String(), "count", leaked)
	}
	h.backend.handleClosed()
	slog.Debug("sim: handle closed", "source", h.src.String(), "frames", h.frames)
	return nil
}
