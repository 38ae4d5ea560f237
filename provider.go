package streamreceiver

// StreamReceiver defines the contract for live stream reception
//
// Implementations must guarantee:
//   - Connect() returns immediately (connection proceeds asynchronously)
//   - Disconnect() is idempotent (safe to call multiple times)
//   - Tick() never blocks (returns false when no new frame is pending)
//   - State(), ErrorMessage(), Metrics() and Stats() are thread-safe
//   - Notifications for one subscriber arrive in the order they happened
type StreamReceiver interface {
	// Connect starts receiving from src.
	//
	// If the receiver is already connecting to, connected to or reconnecting
	// to an equal source, the call is a no-op. Otherwise any current session
	// is torn down and a new Connecting phase begins.
	//
	// Returns an error if:
	//   - src is empty (ErrInvalidSource)
	//   - no capture backend is configured (ErrInitialization); the receiver
	//     enters Error and shows the fallback pattern
	//   - the receiver is closed (ErrClosed)
	Connect(src SourceDescriptor) error

	// Disconnect stops the capture goroutine, releases the native handle,
	// discards any pending frame and returns to Idle.
	//
	// Safe to call multiple times. Returns an error only if the capture
	// goroutine did not stop within Config.StopTimeout.
	Disconnect() error

	// Tick takes the pending frame, if any, and emits its frame-ready
	// notification. Call once per display tick from the consuming goroutine.
	// Tick is the only path that hands out pixels; the notification carries
	// FrameInfo only.
	//
	// The returned frame belongs to the caller until it is passed to Recycle.
	Tick() (*DecodedFrame, bool)

	// Recycle hands a frame obtained from Tick back for buffer reuse.
	Recycle(f *DecodedFrame)

	// Subscribe registers an observer and returns its notification channel.
	// The channel is closed by Unsubscribe or Close.
	Subscribe(id string) (<-chan Event, error)

	// Unsubscribe removes an observer.
	Unsubscribe(id string) error

	// State returns the current connection state.
	State() ConnectionState

	// ErrorMessage returns the current error text ("" when clear).
	ErrorMessage() string

	// Metrics returns the metrics of the most recently accepted frame.
	Metrics() FrameMetrics

	// Source returns the source of the current or last Connect call.
	Source() SourceDescriptor

	// Stats returns current receiver statistics.
	Stats() StreamStats

	// Close disconnects and closes every subscription.
	Close() error
}

var _ StreamReceiver = (*Receiver)(nil)
