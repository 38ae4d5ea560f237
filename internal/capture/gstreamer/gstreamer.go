// Package gstreamer implements a capture backend on top of GStreamer.
//
// Pipeline structure:
//
//	rtspsrc (rtsp://) | uridecodebin (other URIs) → decodebin → videoconvert →
//	capsfilter (UYVY or BGRA) → appsink
//
// The appsink keeps only the newest buffer (max-buffers=1, drop=true), so
// GStreamer drops stale frames before they reach the receive core.
package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// Name is the registry name of the GStreamer backend.
const Name = "gstreamer"

func init() {
	capture.Register(Name, func() (capture.Backend, error) {
		return New(DefaultConfig()), nil
	})
}

// Config configures pipeline creation.
type Config struct {
	Format         capture.FourCC // FourCCUYVY or FourCCBGRA
	Latency        time.Duration  // rtspsrc jitter buffer
	ConnectTimeout time.Duration  // time allowed to reach PLAYING
}

// DefaultConfig returns UYVY output, 200ms latency and a 10s connect timeout.
func DefaultConfig() Config {
	return Config{
		Format:         capture.FourCCUYVY,
		Latency:        200 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
	}
}

var lifetime = capture.NewLifetime("gstreamer", func() error {
	// Safe to call multiple times
	gst.Init(nil)
	return nil
}, nil)

// Backend opens GStreamer pipelines.
type Backend struct {
	cfg Config
}

// New returns a GStreamer backend.
func New(cfg Config) *Backend {
	if cfg.Format != capture.FourCCBGRA {
		cfg.Format = capture.FourCCUYVY
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return Name }

// Lifetime implements capture.LifetimeHolder. It is shared by every backend
// in the process.
func (b *Backend) Lifetime() *capture.Lifetime { return lifetime }

// launchString builds the gst-launch description for a source address.
func launchString(address string, cfg Config) (string, error) {
	if address == "" {
		return "", fmt.Errorf("gstreamer: empty source address")
	}

	var head string
	switch {
	case strings.HasPrefix(address, "rtsp://"), strings.HasPrefix(address, "rtsps://"):
		// protocols=4 (TCP only)
		head = fmt.Sprintf("rtspsrc location=%q protocols=4 latency=%d ! decodebin",
			address, cfg.Latency.Milliseconds())
	case strings.Contains(address, "://"):
		head = fmt.Sprintf("uridecodebin uri=%q", address)
	default:
		return "", fmt.Errorf("gstreamer: address %q is not a URI", address)
	}

	return fmt.Sprintf(
		"%s ! videoconvert ! video/x-raw,format=%s ! appsink name=sink sync=false max-buffers=1 drop=true",
		head, cfg.Format.String(),
	), nil
}

// Connect builds the pipeline and waits until it reaches PLAYING.
func (b *Backend) Connect(ctx context.Context, src capture.Source) (capture.Handle, error) {
	launch, err := launchString(src.Address, b.cfg)
	if err != nil {
		return nil, err
	}

	if err := lifetime.Acquire(); err != nil {
		return nil, err
	}

	h, err := b.open(ctx, src, launch)
	if err != nil {
		lifetime.Release()
		return nil, err
	}
	return h, nil
}

func (b *Backend) open(ctx context.Context, src capture.Source, launch string) (*handle, error) {
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstreamer: appsink not found: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstreamer: failed to start pipeline: %w", err)
	}

	if err := waitPlaying(ctx, pipeline, b.cfg.ConnectTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}

	slog.Info("gstreamer: pipeline playing", "source", src.String(), "format", b.cfg.Format.String())
	return &handle{src: src, pipeline: pipeline, sink: sink, format: b.cfg.Format}, nil
}

// waitPlaying polls the pipeline bus until PLAYING, an error, EOS, the
// timeout or cancellation.
func waitPlaying(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return busError(msg)
		case gst.MessageEOS:
			return fmt.Errorf("gstreamer: end of stream before playback started")
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					return nil
				}
			}
		}
	}
	return fmt.Errorf("gstreamer: connection timeout after %s", timeout)
}

func busError(msg *gst.Message) error {
	gerr := msg.ParseError()
	if gerr == nil {
		return fmt.Errorf("gstreamer: pipeline error")
	}
	return fmt.Errorf("gstreamer: %s (%s)", gerr.Error(), gerr.DebugString())
}

type sampleToken struct {
	sample *gst.Sample
	buffer *gst.Buffer
}

type handle struct {
	src      capture.Source
	pipeline *gst.Pipeline
	sink     *app.Sink
	format   capture.FourCC
	closed   bool
}

// Capture pulls the newest sample. Bus errors and EOS surface as errors.
func (h *handle) Capture(timeout time.Duration) (capture.Event, error) {
	if h.closed {
		return capture.Event{}, fmt.Errorf("gstreamer: handle closed")
	}

	if msg := h.pipeline.GetPipelineBus().TimedPop(0); msg != nil {
		switch msg.Type() {
		case gst.MessageError:
			return capture.Event{}, busError(msg)
		case gst.MessageEOS:
			return capture.Event{}, fmt.Errorf("gstreamer: end of stream")
		}
	}

	sample := h.sink.TryPullSample(timeout)
	if sample == nil {
		if h.sink.IsEOS() {
			return capture.Event{}, fmt.Errorf("gstreamer: end of stream")
		}
		return capture.Event{Type: capture.FrameNone}, nil
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		// Graceful degradation: treat as no frame
		return capture.Event{Type: capture.FrameNone}, nil
	}

	data := buffer.Map(gst.MapRead).Bytes()

	return capture.Event{
		Type:  capture.FrameVideo,
		Video: videoFrame(sample.GetCaps().String(), data, h.format),
		Token: &sampleToken{sample: sample, buffer: buffer},
	}, nil
}

// videoFrame describes a mapped sample. Buffer PTS is pipeline running time,
// not a sender wall clock, so Timestamp stays zero and latency reads as
// unknown.
func videoFrame(caps string, data []byte, format capture.FourCC) *capture.VideoFrame {
	width, height, fpsN, fpsD := parseCaps(caps)

	stride := 0
	if height > 0 {
		stride = len(data) / height
	}

	return &capture.VideoFrame{
		Width:      width,
		Height:     height,
		FourCC:     format,
		Stride:     stride,
		Data:       data,
		FrameRateN: fpsN,
		FrameRateD: fpsD,
	}
}

// Free unmaps the sample buffer.
func (h *handle) Free(ev capture.Event) {
	tok, ok := ev.Token.(*sampleToken)
	if !ok || tok == nil {
		return
	}
	tok.buffer.Unmap()
}

// Close stops the pipeline and releases GStreamer.
func (h *handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	defer lifetime.Release()

	if err := h.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: failed to set pipeline to NULL: %w", err)
	}
	slog.Debug("gstreamer: pipeline stopped", "source", h.src.String())
	return nil
}

var (
	widthRe     = regexp.MustCompile(`width=\(int\)(\d+)`)
	heightRe    = regexp.MustCompile(`height=\(int\)(\d+)`)
	framerateRe = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)
)

// parseCaps extracts size and frame rate from a caps string such as
// "video/x-raw, format=(string)UYVY, width=(int)1920, height=(int)1080, framerate=(fraction)30000/1001".
func parseCaps(caps string) (width, height, fpsN, fpsD int) {
	atoi := func(re *regexp.Regexp, idx int) int {
		m := re.FindStringSubmatch(caps)
		if len(m) <= idx {
			return 0
		}
		n, _ := strconv.Atoi(m[idx])
		return n
	}
	return atoi(widthRe, 1), atoi(heightRe, 1), atoi(framerateRe, 1), atoi(framerateRe, 2)
}
