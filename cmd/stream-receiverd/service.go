package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture/sim"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/discovery"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/framewire"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/preview"
)

const healthInterval = 10 * time.Second

// Service wires the receiver to discovery, the frame sink, the preview
// server and the MQTT control plane.
type Service struct {
	cfg     *config.Config
	backend capture.Backend
	rx      *streamreceiver.Receiver
	poller  *discovery.Poller
	sink    *framewire.Sink
	preview *preview.Server
	emitter *emitter.MQTTEmitter
	control *control.Handler
	started time.Time

	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	isRunning  bool
	shutdownCh chan struct{}
}

// NewService loads the configuration and builds every component. Nothing
// is started until Run.
func NewService(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	rx, err := streamreceiver.New(backend, cfg.ReceiverConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create receiver: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		backend:    backend,
		rx:         rx,
		shutdownCh: make(chan struct{}),
	}

	if finder, ok := backend.(capture.Finder); ok && cfg.Discovery.Enabled {
		s.poller = discovery.New(finder, discovery.Config{
			Interval: cfg.DiscoveryInterval(),
			Lifetime: capture.LifetimeOf(backend),
		})
	}

	if cfg.Display.Sink != "" {
		dst, err := framewire.Open(cfg.Display.Sink)
		if err != nil {
			rx.Close()
			return nil, fmt.Errorf("failed to open frame sink: %w", err)
		}
		s.sink = framewire.NewSink(dst, cfg.InstanceID)
	}

	if cfg.Preview.Enabled {
		s.preview = preview.New(preview.Config{
			Listen:      cfg.Preview.Listen,
			Width:       cfg.Preview.Width,
			FPS:         cfg.Preview.FPS,
			JPEGQuality: cfg.Preview.JPEGQuality,
		}, s.status)
	}

	if cfg.MQTT.Broker != "" {
		s.emitter = emitter.NewMQTTEmitter(cfg)
	}

	slog.Info("stream-receiverd initialized",
		"instance_id", cfg.InstanceID,
		"backend", backend.Name(),
		"discovery", s.poller != nil,
		"sink", cfg.Display.Sink,
		"preview", cfg.Preview.Enabled,
		"mqtt", cfg.MQTT.Broker,
	)

	return s, nil
}

// openBackend builds the configured capture backend. Backends without
// settings in the file come from the registry.
func openBackend(cfg *config.Config) (capture.Backend, error) {
	switch cfg.Backend {
	case gstreamer.Name:
		gcfg := gstreamer.DefaultConfig()
		if cfg.GStreamer.Format != "" {
			format, err := capture.ParseFourCC(cfg.GStreamer.Format)
			if err != nil {
				return nil, fmt.Errorf("invalid gstreamer format: %w", err)
			}
			gcfg.Format = format
		}
		if cfg.GStreamer.LatencyMS > 0 {
			gcfg.Latency = time.Duration(cfg.GStreamer.LatencyMS) * time.Millisecond
		}
		if cfg.GStreamer.ConnectTimeoutS > 0 {
			gcfg.ConnectTimeout = time.Duration(cfg.GStreamer.ConnectTimeoutS) * time.Second
		}
		return gstreamer.New(gcfg), nil

	case sim.Name:
		return sim.New(cfg.Sources...), nil

	default:
		backend, err := capture.Open(cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to open backend: %w", err)
		}
		return backend, nil
	}
}

// Run starts all components and blocks until ctx is cancelled or a
// shutdown command arrives.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	if s.emitter != nil {
		if err := s.startControlPlane(ctx); err != nil {
			cancel()
			return err
		}
	}

	if s.poller != nil {
		s.goRun("discovery", func() error { return s.poller.Run(ctx) })
		s.goRun("discovery-log", func() error { s.logSources(ctx); return nil })
	}

	if s.sink != nil {
		s.goRun("frame-sink", func() error { return s.sink.Run(ctx) })
	}

	if s.preview != nil {
		s.goRun("preview", func() error { return s.preview.Run(ctx) })
	}

	s.goRun("display", func() error {
		return streamreceiver.RunDisplay(ctx, s.rx, s.cfg.DisplayInterval(), s.deliver)
	})

	if !s.cfg.Source.IsZero() {
		if err := s.rx.Connect(s.cfg.Source); err != nil {
			slog.Error("initial connect failed", "source", s.cfg.Source.String(), "error", err)
		}
	}

	slog.Info("stream-receiverd running")

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, stopping service")
	case <-s.shutdownCh:
		slog.Info("shutdown requested via control plane")
	}
	return nil
}

// goRun runs fn on the service wait group and logs its failure.
func (s *Service) goRun(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("component stopped with error", "component", name, "error", err)
		}
	}()
}

func (s *Service) startControlPlane(ctx context.Context) error {
	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	events, err := s.rx.Subscribe("mqtt")
	if err != nil {
		return fmt.Errorf("failed to subscribe to receiver events: %w", err)
	}
	s.goRun("mqtt-events", func() error { s.emitter.Forward(ctx, events); return nil })
	s.goRun("mqtt-health", func() error { s.emitter.RunHealth(ctx, healthInterval, s.status); return nil })

	s.control = control.NewHandler(s.cfg, s.emitter.Client, control.CommandCallbacks{
		OnConnect:     s.rx.Connect,
		OnDisconnect:  s.rx.Disconnect,
		OnGetStatus:   s.statusMap,
		OnListSources: s.listSources,
		OnShutdown:    s.requestShutdown,
	})
	if err := s.control.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control handler: %w", err)
	}
	return nil
}

// deliver hands a drained frame to the sink and the preview.
func (s *Service) deliver(f *streamreceiver.DecodedFrame) {
	if s.sink != nil {
		s.sink.Offer(f, s.rx.Source().String())
	}
	if s.preview != nil {
		s.preview.Offer(f)
	}
}

func (s *Service) logSources(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case list := <-s.poller.Updates():
			names := make([]string, len(list))
			for i, src := range list {
				names[i] = src.String()
			}
			slog.Info("sources changed", "count", len(list), "sources", names)
		}
	}
}

func (s *Service) status() health.Status {
	connected := s.emitter != nil && s.emitter.IsConnected()
	return health.Evaluate(s.rx.Stats(), connected, s.started)
}

func (s *Service) statusMap() map[string]interface{} {
	st := s.rx.Stats()
	status := map[string]interface{}{
		"health":          s.status().Status,
		"source":          st.Source,
		"backend":         st.Backend,
		"session_id":      st.SessionID,
		"state":           st.State.String(),
		"attempt":         st.Attempt,
		"last_error":      st.LastError,
		"width":           st.Metrics.Width,
		"height":          st.Metrics.Height,
		"fps":             st.Metrics.FramesPerSecond,
		"fps_measured":    st.FPSMeasured,
		"latency_ms":      st.Metrics.LatencyMS,
		"frames_accepted": st.FramesAccepted,
		"frames_stale":    st.FramesStale,
		"reconnects":      st.Reconnects,
		"starvations":     st.Starvations,
		"uptime_s":        time.Since(s.started).Seconds(),
	}
	if s.sink != nil {
		ss := s.sink.Stats()
		status["sink_sent"] = ss.Sent
		status["sink_overwritten"] = ss.Overwritten
	}
	if s.preview != nil {
		status["preview_clients"] = s.preview.Stats().Clients
	}
	return status
}

func (s *Service) listSources() []streamreceiver.SourceDescriptor {
	if s.poller != nil {
		return s.poller.Sources()
	}
	if finder, ok := s.backend.(capture.Finder); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		list, err := finder.Sources(ctx)
		if err != nil {
			slog.Warn("source query failed", "error", err)
			return nil
		}
		return list
	}
	return nil
}

func (s *Service) requestShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Shutdown stops the control plane, the receiver and every background
// component, waiting at most until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return s.rx.Close()
	}
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("shutting down stream-receiverd")

	if s.control != nil {
		if err := s.control.Stop(); err != nil {
			slog.Warn("control handler stop failed", "error", err)
		}
	}

	// Close before cancelling so subscribers see the final Idle state
	if err := s.rx.Close(); err != nil {
		slog.Warn("receiver close failed", "error", err)
	}

	if s.runCancel != nil {
		s.runCancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	if s.emitter != nil {
		s.emitter.Disconnect()
	}

	st := s.rx.Stats()
	slog.Info("stream-receiverd stopped",
		"frames_accepted", st.FramesAccepted,
		"frames_delivered", st.FramesDelivered,
		"reconnects", st.Reconnects,
		"uptime", time.Since(s.started).Round(time.Second),
	)
	return nil
}
