package streamreceiver

import (
	"context"
	"fmt"
	"time"
)

// FrameDrainer is the consumer side of a receiver.
type FrameDrainer interface {
	Tick() (*DecodedFrame, bool)
	Recycle(f *DecodedFrame)
}

// RunDisplay calls d.Tick every interval and passes new frames to apply.
// The frame given to apply stays valid until the next call to apply; it is
// recycled afterwards. Blocks until ctx is cancelled.
func RunDisplay(ctx context.Context, d FrameDrainer, interval time.Duration, apply func(*DecodedFrame)) error {
	if interval <= 0 {
		return fmt.Errorf("stream-receiver: invalid display interval: %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var current *DecodedFrame
	defer func() { d.Recycle(current) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f, ok := d.Tick()
			if !ok {
				continue
			}
			apply(f)
			d.Recycle(current)
			current = f
		}
	}
}
