package streamreceiver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/convert"
)

const msgWaitingForFrames = "No video frames available yet; waiting for stream data."

// runSession is the capture loop for one connected handle. It returns when
// the context is cancelled, the receiver supersedes gen, the stream starves
// (ErrStreamStarvation) or the backend fails (ErrConnection). The handle is closed on every path and
// every captured event is freed exactly once.
//
// Each iteration:
//  1. Capture with CaptureTimeout
//  2. Video: drain everything already queued, keep the newest frame, convert and publish it
//  3. Audio/metadata: free immediately
//  4. Nothing: advance the starvation clock
func (r *Receiver) runSession(ctx context.Context, src SourceDescriptor, gen uint64, h capture.Handle) error {
	defer func() {
		if err := h.Close(); err != nil {
			slog.Warn("stream-receiver: failed to close capture handle", "source", src.String(), "error", err)
		}
	}()

	var (
		accepted     uint64
		silenceSince time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := h.Capture(r.cfg.CaptureTimeout)
		if err != nil {
			return fmt.Errorf("%w: capture from %s: %w", ErrConnection, src, err)
		}

		switch ev.Type {
		case capture.FrameVideo:
			silenceSince = time.Time{}

			latest, drainErr := r.drainToLatest(ctx, h, ev)
			ok, current := r.processVideo(gen, latest.Video)
			if ok {
				accepted++
			}
			h.Free(latest)
			if !current {
				return errSuperseded
			}

			if drainErr != nil {
				return fmt.Errorf("%w: capture from %s: %w", ErrConnection, src, drainErr)
			}

		case capture.FrameAudio, capture.FrameMetadata:
			r.auxFreed.Add(1)
			h.Free(ev)

		default:
			now := r.cfg.now()
			if silenceSince.IsZero() {
				silenceSince = now
				if accepted == 0 {
					r.sessionErrorIfClear(gen, msgWaitingForFrames)
				}
				continue
			}

			silence := now.Sub(silenceSince)
			limit := r.cfg.NoFrameTimeout + r.cfg.NoFrameGracePeriod
			switch {
			case silence >= limit:
				r.sessionError(gen, fmt.Sprintf("No video frames for %.1fs; reconnecting.", silence.Seconds()))
				slog.Warn("stream-receiver: frame starvation, forcing reconnect",
					"source", src.String(),
					"silence", silence,
					"frames_accepted", accepted,
				)
				return fmt.Errorf("%w: no video from %s for %s", ErrStreamStarvation, src, silence.Round(time.Millisecond))

			case silence >= r.cfg.NoFrameTimeout:
				r.sessionError(gen, fmt.Sprintf("Video frame starvation detected (%.1fs/%.1fs)",
					(silence - r.cfg.NoFrameTimeout).Seconds(), r.cfg.NoFrameGracePeriod.Seconds()))
			}
		}
	}
}

// drainToLatest polls without waiting until the backend has nothing queued.
// Older video frames and all audio/metadata events are freed; the newest
// video event is returned unfreed.
func (r *Receiver) drainToLatest(ctx context.Context, h capture.Handle, first capture.Event) (capture.Event, error) {
	latest := first
	for ctx.Err() == nil {
		ev, err := h.Capture(0)
		if err != nil {
			return latest, err
		}

		switch ev.Type {
		case capture.FrameVideo:
			h.Free(latest)
			r.framesStale.Add(1)
			latest = ev
		case capture.FrameAudio, capture.FrameMetadata:
			r.auxFreed.Add(1)
			h.Free(ev)
		default:
			return latest, nil
		}
	}
	return latest, nil
}

// processVideo converts one frame and publishes it with its metrics. It
// reports whether the frame was accepted and whether gen is still current.
func (r *Receiver) processVideo(gen uint64, src *capture.VideoFrame) (accepted, current bool) {
	frame := r.acquireFrame()

	res, err := convert.Convert(src, frame.Pixels)
	if err != nil {
		r.framesUnsupported.Add(1)
		r.errorCounts[ErrCategoryCodec].Add(1)
		r.Recycle(frame)
		current = r.sessionError(gen, fmt.Sprintf("Unsupported video frame skipped: %v", err))
		slog.Debug("stream-receiver: frame skipped", "error", err)
		return false, current
	}

	now := r.cfg.now()
	*frame = DecodedFrame{
		Width:      res.Width,
		Height:     res.Height,
		Format:     res.Format,
		Stride:     res.Stride,
		Pixels:     res.Pixels,
		Seq:        r.seq.Add(1),
		TraceID:    uuid.New().String(),
		CapturedAt: now,
	}

	metrics := FrameMetrics{
		Width:           res.Width,
		Height:          res.Height,
		FramesPerSecond: frameRate(src.FrameRateN, src.FrameRateD),
		LatencyMS:       latencyMS(src.Timestamp, now),
	}

	if !r.sessionFrame(gen, frame, metrics) {
		r.Recycle(frame)
		return false, false
	}
	r.fps.Add(now)
	r.framesAccepted.Add(1)
	return true, true
}

// frameRate returns N/D, or 0 when either side is not positive.
func frameRate(n, d int) float64 {
	if n <= 0 || d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// latencyMS returns now minus the sender timestamp in milliseconds, clamped
// at zero. An unknown timestamp yields 0.
func latencyMS(sent, now time.Time) float64 {
	if sent.IsZero() {
		return 0
	}
	d := now.Sub(sent)
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
