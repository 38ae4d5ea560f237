package streamreceiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/eventbus"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/fpsstats"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/handoff"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/reconnect"
)

// framePoolSize is the number of recycled frames kept for reuse.
const framePoolSize = 3

// Receiver implements StreamReceiver on top of a capture backend
type Receiver struct {
	cfg      Config
	backend  capture.Backend
	fallback *FallbackPresenter

	// Frame output
	slot handoff.Slot[DecodedFrame]
	pool chan *DecodedFrame
	fps  *fpsstats.Window
	bus  *eventbus.Bus[Event]

	// Lifecycle (serializes Connect/Disconnect/Close)
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool

	// Observable state (mu). gen identifies the live supervisor; writes
	// from a goroutine holding an older gen are discarded.
	mu          sync.Mutex
	gen         uint64
	source      SourceDescriptor
	sessionID   string
	state       ConnectionState
	attempt     int
	errMsg      string
	metrics     FrameMetrics
	connectedAt time.Time

	// Statistics (atomic for thread-safety)
	seq               atomic.Uint64
	framesAccepted    atomic.Uint64
	framesStale       atomic.Uint64
	framesUnsupported atomic.Uint64
	auxFreed          atomic.Uint64
	connectAttempts   atomic.Uint64
	failedAttempts    atomic.Uint64
	reconnects        atomic.Uint64
	starvations       atomic.Uint64
	errorCounts       [numErrorCategories]atomic.Uint64
}

// New creates a receiver with fail-fast config validation. A nil backend is
// accepted; Connect then reports ErrInitialization and shows the fallback.
func New(backend capture.Backend, cfg Config) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stream-receiver: %w", err)
	}

	r := &Receiver{
		cfg:      cfg,
		backend:  backend,
		fallback: NewFallbackPresenter(),
		pool:     make(chan *DecodedFrame, framePoolSize),
		fps:      fpsstats.NewWindow(cfg.StatsWindow),
		bus:      eventbus.New(classifyEvent),
	}

	slog.Debug("stream-receiver: created",
		"backend", r.backendName(),
		"reconnect_delay", cfg.ReconnectDelay,
		"max_attempts", cfg.MaxReconnectAttempts,
		"no_frame_timeout", cfg.NoFrameTimeout,
		"grace_period", cfg.NoFrameGracePeriod,
	)
	return r, nil
}

func (r *Receiver) backendName() string {
	if r.backend == nil {
		return "none"
	}
	return r.backend.Name()
}

// Connect implements StreamReceiver.
func (r *Receiver) Connect(src SourceDescriptor) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.closed {
		return ErrClosed
	}
	if src.IsZero() {
		return ErrInvalidSource
	}

	r.mu.Lock()
	same := r.source == src && r.state.Active() && r.cancel != nil
	r.mu.Unlock()
	if same {
		slog.Debug("stream-receiver: already connected to source, ignoring", "source", src.String())
		return nil
	}

	stopErr := r.stopLocked()

	sessionID := uuid.New().String()
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.source = src
	r.sessionID = sessionID
	r.metrics = FrameMetrics{}
	r.mu.Unlock()
	r.fps.Reset()
	r.setError("")

	slog.Info("stream-receiver: connecting",
		"source", src.String(),
		"backend", r.backendName(),
		"session_id", sessionID,
	)

	if r.backend == nil {
		err := fmt.Errorf("%w: no capture backend configured", ErrInitialization)
		r.errorCounts[ErrCategoryInit].Add(1)
		r.enterError(gen, err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go r.supervise(ctx, src, gen, done)
	return stopErr
}

// Disconnect implements StreamReceiver.
func (r *Receiver) Disconnect() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.disconnectLocked()
}

func (r *Receiver) disconnectLocked() error {
	r.mu.Lock()
	idle := r.state == StateIdle && r.cancel == nil
	r.mu.Unlock()
	if idle {
		return nil
	}

	err := r.stopLocked()

	r.mu.Lock()
	r.metrics = FrameMetrics{}
	r.connectedAt = time.Time{}
	r.mu.Unlock()

	r.setState(StateIdle, 0)
	r.setError("")

	slog.Info("stream-receiver: disconnected",
		"source", r.Source().String(),
		"frames_accepted", r.framesAccepted.Load(),
		"reconnects", r.reconnects.Load(),
	)
	return err
}

// stopLocked cancels the supervisor, waits for it and drops the pending
// frame. Caller holds lifecycle.
func (r *Receiver) stopLocked() error {
	// Supersede the running supervisor first so nothing it does after this
	// point reaches the observable state or the slot, even if it outlives
	// StopTimeout.
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()

	var err error
	if r.cancel != nil {
		r.cancel()

		if r.cfg.StopTimeout > 0 {
			select {
			case <-r.done:
			case <-time.After(r.cfg.StopTimeout):
				err = fmt.Errorf("stream-receiver: stop timeout after %s", r.cfg.StopTimeout)
				slog.Warn("stream-receiver: capture goroutine did not stop in time", "timeout", r.cfg.StopTimeout)
			}
		} else {
			<-r.done
		}

		r.cancel = nil
		r.done = nil
	}

	if f := r.slot.Reset(); f != nil {
		r.Recycle(f)
	}
	return err
}

// Close implements StreamReceiver.
func (r *Receiver) Close() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.closed {
		return nil
	}
	err := r.disconnectLocked()
	r.closed = true
	r.bus.Close()
	return err
}

// supervise runs Connecting phases and sessions until cancelled or the
// attempt budget is exhausted.
func (r *Receiver) supervise(ctx context.Context, src SourceDescriptor, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil || !r.isCurrent(gen) {
			return
		}

		h, attempts, lastErr := r.connectPhase(ctx, src, gen)
		if ctx.Err() != nil || errors.Is(lastErr, errSuperseded) {
			return
		}
		if lastErr != nil {
			slog.Error("stream-receiver: connection attempts exhausted",
				"source", src.String(),
				"attempts", attempts,
				"error", lastErr,
			)
			r.enterError(gen, fmt.Sprintf("Failed to connect to %s after %d attempts: %v", src, attempts, lastErr))
			return
		}

		err := r.runSession(ctx, src, gen, h)
		if ctx.Err() != nil || errors.Is(err, errSuperseded) {
			return
		}

		r.reconnects.Add(1)
		category := ClassifyError(err)
		r.errorCounts[category].Add(1)
		if errors.Is(err, ErrStreamStarvation) {
			r.starvations.Add(1)
		} else {
			r.sessionError(gen, fmt.Sprintf("Connection to %s lost: %v", src, err))
		}

		slog.Warn("stream-receiver: session ended, reconnecting",
			"source", src.String(),
			"category", category.String(),
			"error", err,
			"reconnects", r.reconnects.Load(),
		)
		r.sessionState(gen, StateReconnecting, 0)
	}
}

// connectPhase makes up to MaxReconnectAttempts attempts. Each failure that
// will be retried is reported as Reconnecting with its attempt number. On
// exhaustion the last backend error is returned. A handle is returned only
// together with a nil error; on any other outcome it has been closed.
func (r *Receiver) connectPhase(ctx context.Context, src SourceDescriptor, gen uint64) (capture.Handle, int, error) {
	if !r.sessionState(gen, StateConnecting, 0) {
		return nil, 0, errSuperseded
	}

	policy := reconnect.Config{
		MaxAttempts: r.cfg.MaxReconnectAttempts,
		Delay:       r.cfg.ReconnectDelay,
		Exponential: r.cfg.ExponentialBackoff,
		MaxDelay:    r.cfg.MaxReconnectDelay,
	}

	var (
		h       capture.Handle
		lastErr error
	)
	attempts, err := reconnect.Run(ctx, policy,
		func(ctx context.Context, attempt int) error {
			r.connectAttempts.Add(1)

			handle, err := r.backend.Connect(ctx, src)
			if err != nil {
				lastErr = err
				r.failedAttempts.Add(1)
				r.errorCounts[ClassifyError(err)].Add(1)
				return err
			}
			h = handle
			return nil
		},
		func(attempt int, err error, delay time.Duration) {
			slog.Warn("stream-receiver: connection attempt failed, retrying",
				"source", src.String(),
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"delay", delay,
				"error", err,
			)
			r.sessionError(gen, fmt.Sprintf("Connection attempt %d/%d to %s failed: %v", attempt, policy.MaxAttempts, src, err))
			r.sessionState(gen, StateReconnecting, attempt)
		},
	)
	if err == nil {
		// The backend may have ignored cancellation and returned a handle late
		err = ctx.Err()
	}
	if err == nil && !r.sessionConnected(gen) {
		err = errSuperseded
	}
	if err != nil {
		if h != nil {
			if closeErr := h.Close(); closeErr != nil {
				slog.Warn("stream-receiver: failed to close abandoned handle", "source", src.String(), "error", closeErr)
			}
		}
		if ctx.Err() != nil || errors.Is(err, errSuperseded) || lastErr == nil {
			return nil, attempts, err
		}
		return nil, attempts, lastErr
	}

	slog.Info("stream-receiver: connected", "source", src.String(), "attempts", attempts)
	return h, attempts, nil
}

// enterError records a terminal error, switches to Error and publishes the
// fallback pattern. Nothing happens once gen has been superseded.
func (r *Receiver) enterError(gen uint64, msg string) {
	var f *DecodedFrame
	if r.cfg.FallbackOnError {
		f = r.acquireFrame()
		r.fallback.RenderInto(f, msg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != gen {
		r.Recycle(f)
		return
	}
	r.setErrorLocked(msg)

	// The pattern is in the slot before Error is announced
	if f != nil {
		f.Seq = r.seq.Add(1)
		if displaced := r.slot.Publish(f); displaced != nil {
			r.Recycle(displaced)
		}
	}
	r.setStateLocked(StateError, 0)
}

// errSuperseded ends a supervisor whose generation is no longer current.
var errSuperseded = errors.New("stream-receiver: supervisor superseded")

// isCurrent reports whether gen is the live supervisor generation.
func (r *Receiver) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

// sessionState is setState for the supervisor of generation gen. It reports
// false and changes nothing when gen is stale.
func (r *Receiver) sessionState(gen uint64, state ConnectionState, attempt int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.setStateLocked(state, attempt)
	return true
}

// sessionError is setError for the supervisor of generation gen.
func (r *Receiver) sessionError(gen uint64, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.setErrorLocked(msg)
	return true
}

// sessionErrorIfClear sets msg only when no other error text is showing.
func (r *Receiver) sessionErrorIfClear(gen uint64, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	if r.errMsg == "" {
		r.setErrorLocked(msg)
	}
	return true
}

// sessionConnected announces Connected and clears the error in one step.
func (r *Receiver) sessionConnected(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.connectedAt = r.cfg.now()
	r.setStateLocked(StateConnected, 0)
	r.setErrorLocked("")
	return true
}

// sessionFrame publishes a converted frame with its metrics and clears the
// error text. A stale generation gets false and keeps ownership of f.
func (r *Receiver) sessionFrame(gen uint64, f *DecodedFrame, m FrameMetrics) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	if displaced := r.slot.Publish(f); displaced != nil {
		r.Recycle(displaced)
	}
	r.setMetricsLocked(m)
	r.setErrorLocked("")
	return true
}

// setState records and announces a state change. Re-entering the same state
// with the same attempt number is not announced.
func (r *Receiver) setState(state ConnectionState, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStateLocked(state, attempt)
}

func (r *Receiver) setStateLocked(state ConnectionState, attempt int) {
	if r.state == state && r.attempt == attempt {
		return
	}
	from := r.state
	r.state = state
	r.attempt = attempt

	slog.Debug("stream-receiver: state changed",
		"source", r.source.String(),
		"from", from.String(),
		"to", state.String(),
		"attempt", attempt,
	)

	// Published under mu to keep notification order equal to state order
	r.bus.Publish(Event{
		Kind:    EventStateChanged,
		Time:    time.Now(),
		Source:  r.source,
		State:   state,
		Attempt: attempt,
	})
}

// setError records and announces the error text. Unchanged text is not
// announced; "" clears it.
func (r *Receiver) setError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setErrorLocked(msg)
}

func (r *Receiver) setErrorLocked(msg string) {
	if r.errMsg == msg {
		return
	}
	r.errMsg = msg

	r.bus.Publish(Event{
		Kind:   EventErrorChanged,
		Time:   time.Now(),
		Source: r.source,
		Error:  msg,
	})
}

func (r *Receiver) setMetricsLocked(m FrameMetrics) {
	r.metrics = m
	r.bus.Publish(Event{
		Kind:    EventMetricsUpdated,
		Time:    time.Now(),
		Source:  r.source,
		Metrics: m,
	})
}

// Tick implements StreamReceiver.
func (r *Receiver) Tick() (*DecodedFrame, bool) {
	f, ok := r.slot.TryDrain()
	if !ok {
		return nil, false
	}

	r.bus.Publish(Event{
		Kind:   EventFrameReady,
		Time:   time.Now(),
		Source: r.Source(),
		Frame:  f.Info(),
	})
	return f, true
}

// Recycle implements StreamReceiver.
func (r *Receiver) Recycle(f *DecodedFrame) {
	if f == nil {
		return
	}
	select {
	case r.pool <- f:
	default:
	}
}

func (r *Receiver) acquireFrame() *DecodedFrame {
	select {
	case f := <-r.pool:
		return f
	default:
		return &DecodedFrame{}
	}
}

// Subscribe implements StreamReceiver.
func (r *Receiver) Subscribe(id string) (<-chan Event, error) {
	ch, err := r.bus.Subscribe(id)
	if err != nil {
		return nil, fmt.Errorf("stream-receiver: subscribe %q: %w", id, err)
	}
	return ch, nil
}

// Unsubscribe implements StreamReceiver.
func (r *Receiver) Unsubscribe(id string) error {
	return r.bus.Unsubscribe(id)
}

// State implements StreamReceiver.
func (r *Receiver) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempt returns the failed attempt number reported with the current
// Reconnecting state (0 otherwise).
func (r *Receiver) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// ErrorMessage implements StreamReceiver.
func (r *Receiver) ErrorMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// Metrics implements StreamReceiver.
func (r *Receiver) Metrics() FrameMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// Source implements StreamReceiver.
func (r *Receiver) Source() SourceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// Stats implements StreamReceiver.
//
// Thread-safe - counters are atomic, state is read under the state mutex.
func (r *Receiver) Stats() StreamStats {
	r.mu.Lock()
	st := StreamStats{
		Backend:   r.backendName(),
		SessionID: r.sessionID,
		State:     r.state,
		Attempt:   r.attempt,
		LastError: r.errMsg,
		Metrics:   r.metrics,
	}
	if !r.source.IsZero() {
		st.Source = r.source.String()
	}
	if r.state == StateConnected && !r.connectedAt.IsZero() {
		st.ConnectedFor = r.cfg.now().Sub(r.connectedAt)
	}
	r.mu.Unlock()

	slot := r.slot.Stats()
	fps := r.fps.Stats()

	st.FramesAccepted = r.framesAccepted.Load()
	st.FramesStale = r.framesStale.Load()
	st.FramesUnsupported = r.framesUnsupported.Load()
	st.AuxEventsFreed = r.auxFreed.Load()
	st.FramesDelivered = slot.Drained
	st.FramesOverwritten = slot.Overwritten
	st.ConnectAttempts = r.connectAttempts.Load()
	st.FailedAttempts = r.failedAttempts.Load()
	st.Reconnects = r.reconnects.Load()
	st.Starvations = r.starvations.Load()
	st.ErrorsNetwork = r.errorCounts[ErrCategoryNetwork].Load()
	st.ErrorsCodec = r.errorCounts[ErrCategoryCodec].Load()
	st.ErrorsAuth = r.errorCounts[ErrCategoryAuth].Load()
	st.ErrorsInit = r.errorCounts[ErrCategoryInit].Load()
	st.ErrorsStarvation = r.errorCounts[ErrCategoryStarvation].Load()
	st.ErrorsUnknown = r.errorCounts[ErrCategoryUnknown].Load()
	st.FPSMeasured = fps.FPSMean
	st.FPSStdDev = fps.FPSStdDev
	st.IsStable = fps.IsStable
	return st
}
