// Package streamreceiver receives a live video stream from a network source,
// converts it into display-ready 32-bit pixel buffers and keeps the
// connection alive across transient failures.
//
// # Quick Start
//
//	backend, _ := capture.Open("gstreamer")
//	rx, err := streamreceiver.New(backend, streamreceiver.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rx.Close()
//
//	events, _ := rx.Subscribe("ui")
//	go func() {
//	    for ev := range events {
//	        log.Printf("%s: %s", ev.Kind, ev.State)
//	    }
//	}()
//
//	rx.Connect(streamreceiver.SourceDescriptor{Name: "CAM-A", Address: "rtsp://10.0.0.5/stream"})
//
//	// Display goroutine: drain the latest frame once per tick
//	streamreceiver.RunDisplay(ctx, rx, time.Second/60, func(f *streamreceiver.DecodedFrame) {
//	    upload(f.Pixels, f.Width, f.Height)
//	})
//
// # Connection Lifecycle
//
//	Idle → Connecting → Connected
//	          ↓  ↑           ↓ (starvation or capture error)
//	     Reconnecting ←──────┘
//	          ↓ (attempt budget exhausted)
//	        Error
//
// Connect starts a Connecting phase of up to MaxReconnectAttempts attempts
// separated by ReconnectDelay. Each failed attempt that will be retried is
// reported as Reconnecting with its attempt number. When the budget is
// exhausted the receiver enters Error and publishes a fallback test pattern.
// A connected session that receives no video for NoFrameTimeout plus
// NoFrameGracePeriod is torn down and a fresh Connecting phase begins with a
// full attempt budget.
//
// # Frame Path
//
// The capture goroutine polls the backend, drains every event already queued
// and keeps only the newest video frame (drain-to-latest). That frame is
// converted (UYVY → RGBA, or RGBA/BGRA repacked) and published into a
// single-slot mailbox. The display goroutine calls Tick to take it. Frames
// that were overwritten before being drained are recycled for the next
// conversion.
//
// # Notifications
//
// Subscribers receive state changes, error text changes (empty = cleared),
// metrics updates and frame-ready notices. State and error events are never
// dropped; metrics and frame-ready events are coalesced for slow readers.
//
// # Backends
//
// Backends register with the capture package:
//   - "gstreamer": RTSP and URI sources via GStreamer (requires gstreamer1.0 runtime)
//   - "sim": synthetic colour bars with scripted failures, for tests and demos
package streamreceiver
