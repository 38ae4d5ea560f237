// Package preview serves health endpoints and a low-rate JPEG preview of the
// received stream over HTTP and WebSocket.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/handoff"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/health"
)

const writeTimeout = 2 * time.Second

// Config configures the preview server
type Config struct {
	Listen      string // default: :8090
	Width       int    // thumbnail width (default: 480)
	FPS         int    // thumbnails per second (default: 5)
	JPEGQuality int    // default: 70
}

// Stats contains preview statistics
type Stats struct {
	Clients       int
	Encoded       uint64
	EncodeErrors  uint64
	FramesSkipped uint64
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the preview and health HTTP server
type Server struct {
	cfg     Config
	status  func() health.Status
	started time.Time

	// Frames offered by the display loop, throttled to cfg.FPS
	pending  handoff.Slot[streamreceiver.DecodedFrame]
	spare    chan *streamreceiver.DecodedFrame
	wake     chan struct{}
	lastCopy time.Time
	interval time.Duration

	latest atomic.Pointer[[]byte]

	mu      sync.Mutex
	clients map[*client]struct{}

	encoded      atomic.Uint64
	encodeErrors atomic.Uint64
	skipped      atomic.Uint64
}

// New creates a preview server. status is called for /readiness.
func New(cfg Config, status func() health.Status) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8090"
	}
	if cfg.Width <= 0 {
		cfg.Width = 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 5
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 70
	}
	return &Server{
		cfg:      cfg,
		status:   status,
		started:  time.Now(),
		spare:    make(chan *streamreceiver.DecodedFrame, 1),
		wake:     make(chan struct{}, 1),
		interval: time.Second / time.Duration(cfg.FPS),
		clients:  make(map[*client]struct{}),
	}
}

// Offer hands a displayed frame to the preview. Frames arriving faster than
// the preview rate are skipped without copying. Must be called from a single
// goroutine (the display loop).
func (s *Server) Offer(f *streamreceiver.DecodedFrame) {
	now := time.Now()
	if now.Sub(s.lastCopy) < s.interval {
		s.skipped.Add(1)
		return
	}
	s.lastCopy = now

	var c *streamreceiver.DecodedFrame
	select {
	case c = <-s.spare:
	default:
		c = &streamreceiver.DecodedFrame{}
	}
	pixels := c.Pixels
	if cap(pixels) >= len(f.Pixels) {
		pixels = pixels[:len(f.Pixels)]
	} else {
		pixels = make([]byte, len(f.Pixels))
	}
	copy(pixels, f.Pixels)
	*c = *f
	c.Pixels = pixels

	if displaced := s.pending.Publish(c); displaced != nil {
		s.recycle(displaced)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Server) recycle(f *streamreceiver.DecodedFrame) {
	select {
	case s.spare <- f:
	default:
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readiness", s.handleReadiness)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Run serves HTTP on cfg.Listen and encodes thumbnails until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go s.encodeLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	slog.Info("preview: listening", "addr", ln.Addr().String(), "fps", s.cfg.FPS, "width", s.cfg.Width)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("preview: stopped", "encoded", s.encoded.Load())
	return nil
}

func (s *Server) encodeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		f, ok := s.pending.TryDrain()
		if !ok {
			continue
		}
		jpg, err := Thumbnail(f, s.cfg.Width, s.cfg.JPEGQuality)
		s.recycle(f)
		if err != nil {
			s.encodeErrors.Add(1)
			slog.Debug("preview: thumbnail failed", "error", err)
			continue
		}

		s.encoded.Add(1)
		s.latest.Store(&jpg)
		s.broadcast(jpg)
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	st := s.status()
	statusCode := http.StatusOK
	if st.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(st)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	jpg := s.latest.Load()
	if jpg == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(*jpg)
}

// Stats returns preview statistics
func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	return Stats{
		Clients:       n,
		Encoded:       s.encoded.Load(),
		EncodeErrors:  s.encodeErrors.Load(),
		FramesSkipped: s.skipped.Load(),
	}
}
