package streamreceiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// fakeBackend scripts connection outcomes and hands out fakeHandles.
type fakeBackend struct {
	mu         sync.Mutex
	failFirst  int
	alwaysFail bool
	connects   int
	handles    []*fakeHandle

	// prepare configures each new handle before the session sees it
	prepare func(n int, h *fakeHandle)
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(ctx context.Context, src capture.Source) (capture.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connects++
	if b.alwaysFail || b.connects <= b.failFirst {
		return nil, fmt.Errorf("fake: connection refused by %s", src.Address)
	}

	h := newFakeHandle()
	if b.prepare != nil {
		b.prepare(len(b.handles)+1, h)
	}
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBackend) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *fakeBackend) Handle(i int) *fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.handles) {
		return nil
	}
	return b.handles[i]
}

func (b *fakeBackend) Handles() []*fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeHandle(nil), b.handles...)
}

// blockingBackend models a driver whose Connect cannot be interrupted: the
// first call sleeps for delay without watching ctx and then succeeds.
type blockingBackend struct {
	delay time.Duration

	mu      sync.Mutex
	calls   int
	handles []*fakeHandle
}

func (b *blockingBackend) Name() string { return "blocking" }

func (b *blockingBackend) Connect(ctx context.Context, src capture.Source) (capture.Handle, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()

	if first {
		time.Sleep(b.delay)
	}

	h := newFakeHandle()
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
	return h, nil
}

func (b *blockingBackend) Handles() []*fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeHandle(nil), b.handles...)
}

// fakeHandle returns queued events in order, then FrameNone after waiting
// the capture timeout. Every issued event gets a token so frees can be
// counted per event.
type fakeHandle struct {
	mu         sync.Mutex
	queue      []capture.Event
	failWith   error
	nextToken  int
	issued     int
	frees      map[int]int
	closed     bool
	closeCalls int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{frees: make(map[int]int)}
}

func (h *fakeHandle) Push(evs ...capture.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, evs...)
}

func (h *fakeHandle) FailWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failWith = err
}

func (h *fakeHandle) Capture(timeout time.Duration) (capture.Event, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return capture.Event{}, errors.New("fake: handle closed")
	}
	if len(h.queue) > 0 {
		ev := h.queue[0]
		h.queue = h.queue[1:]
		h.nextToken++
		h.issued++
		ev.Token = h.nextToken
		h.mu.Unlock()
		return ev, nil
	}
	if h.failWith != nil {
		err := h.failWith
		h.mu.Unlock()
		return capture.Event{}, err
	}
	h.mu.Unlock()

	if timeout > 0 {
		time.Sleep(timeout)
	}
	return capture.Event{Type: capture.FrameNone}, nil
}

func (h *fakeHandle) Free(ev capture.Event) {
	if ev.Type == capture.FrameNone {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	token, _ := ev.Token.(int)
	h.frees[token]++
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.closeCalls++
	return nil
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// checkFreedOnce fails the test unless every issued event was freed exactly once.
func (h *fakeHandle) checkFreedOnce(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	for token := 1; token <= h.issued; token++ {
		if n := h.frees[token]; n != 1 {
			t.Errorf("event %d freed %d times (want 1)", token, n)
		}
	}
	if len(h.frees) != h.issued {
		t.Errorf("frees recorded for %d tokens, issued %d", len(h.frees), h.issued)
	}
}

// rgbaEvent builds a tightly packed RGBA frame whose pixels all carry marker.
func rgbaEvent(w, h int, marker byte) capture.Event {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = marker
	}
	return capture.Event{
		Type: capture.FrameVideo,
		Video: &capture.VideoFrame{
			Width: w, Height: h, FourCC: capture.FourCCRGBA, Stride: w * 4, Data: data,
			FrameRateN: 30000, FrameRateD: 1001,
		},
	}
}

func audioEvent() capture.Event {
	return capture.Event{Type: capture.FrameAudio, Audio: &capture.AudioFrame{SampleRate: 48000, Channels: 2}}
}

// testConfig uses short timings so scenarios finish in milliseconds.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 5
	cfg.NoFrameTimeout = time.Second
	cfg.NoFrameGracePeriod = 500 * time.Millisecond
	cfg.CaptureTimeout = 5 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	return cfg
}

// eventRecorder collects events from a subscription in the background.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(t *testing.T, r *Receiver) *eventRecorder {
	t.Helper()
	ch, err := r.Subscribe(t.Name())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	rec := &eventRecorder{done: make(chan struct{})}
	go func() {
		defer close(rec.done)
		for ev := range ch {
			rec.mu.Lock()
			rec.events = append(rec.events, ev)
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (rec *eventRecorder) Events() []Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Event(nil), rec.events...)
}

type stateStep struct {
	State   ConnectionState
	Attempt int
}

func (rec *eventRecorder) States() []stateStep {
	var out []stateStep
	for _, ev := range rec.Events() {
		if ev.Kind == EventStateChanged {
			out = append(out, stateStep{ev.State, ev.Attempt})
		}
	}
	return out
}

func (rec *eventRecorder) Errors() []string {
	var out []string
	for _, ev := range rec.Events() {
		if ev.Kind == EventErrorChanged {
			out = append(out, ev.Error)
		}
	}
	return out
}

// waitForState polls until the receiver has announced count occurrences of state.
func (rec *eventRecorder) waitForState(t *testing.T, state ConnectionState, count int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n := 0
		for _, s := range rec.States() {
			if s.State == state {
				n++
			}
		}
		if n >= count {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d× %s, states so far: %v", count, state, rec.States())
}
