package streamreceiver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDrainer hands out frames from a list and records recycles.
type scriptedDrainer struct {
	mu       sync.Mutex
	frames   []*DecodedFrame
	recycled []*DecodedFrame
}

func (d *scriptedDrainer) Tick() (*DecodedFrame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil, false
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return f, true
}

func (d *scriptedDrainer) Recycle(f *DecodedFrame) {
	if f == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recycled = append(d.recycled, f)
}

func TestRunDisplay_RecyclesPreviousFrame(t *testing.T) {
	a, b := &DecodedFrame{Seq: 1}, &DecodedFrame{Seq: 2}
	d := &scriptedDrainer{frames: []*DecodedFrame{a, b}}

	var (
		mu      sync.Mutex
		applied []uint64
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunDisplay(ctx, d, time.Millisecond, func(f *DecodedFrame) {
			mu.Lock()
			applied = append(applied, f.Seq)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 2
	}, time.Second, time.Millisecond)

	d.mu.Lock()
	assert.Equal(t, []*DecodedFrame{a}, d.recycled, "only the replaced frame is recycled while running")
	d.mu.Unlock()

	cancel()
	require.NoError(t, <-done)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, []*DecodedFrame{a, b}, d.recycled, "current frame recycled on exit")
	assert.Equal(t, []uint64{1, 2}, applied)
}

func TestRunDisplay_InvalidInterval(t *testing.T) {
	err := RunDisplay(context.Background(), &scriptedDrainer{}, 0, func(*DecodedFrame) {})
	assert.Error(t, err)
}
