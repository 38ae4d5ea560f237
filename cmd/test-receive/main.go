package main

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	streamreceiver "github.com/e7canasta/orion-care-sensor/modules/stream-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
	_ "github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture/gstreamer"
	_ "github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture/sim"
)

const version = "v0.1.0"

var (
	flagName          string
	flagAddress       string
	flagBackend       string
	flagDisplayFPS    int
	flagOutputDir     string
	flagOutputFormat  string
	flagJPEGQuality   int
	flagSaveEvery     int
	flagMaxFrames     int
	flagDuration      time.Duration
	flagStatsInterval int
	flagRetries       int
	flagRetryDelay    time.Duration
	flagNoFrame       time.Duration
	flagDebug         bool
	flagVersion       bool
)

func init() {
	flag.StringVarP(&flagName, "source-name", "n", "TEST", "Source name")
	flag.StringVarP(&flagAddress, "address", "a", "sim://bars?fps=30&w=1280&h=720", "Source address")
	flag.StringVarP(&flagBackend, "backend", "b", "sim", "Capture backend: sim, gstreamer")
	flag.IntVarP(&flagDisplayFPS, "display-fps", "f", 60, "Display tick rate")
	flag.StringVarP(&flagOutputDir, "output", "o", "", "Directory to save drained frames (optional)")
	flag.StringVar(&flagOutputFormat, "format", "png", "Output format: png, jpeg")
	flag.IntVar(&flagJPEGQuality, "jpeg-quality", 90, "JPEG quality (1-100, only for jpeg format)")
	flag.IntVar(&flagSaveEvery, "save-every", 30, "Save one of every N drained frames")
	flag.IntVarP(&flagMaxFrames, "max-frames", "m", 0, "Stop after N drained frames (0 = unlimited)")
	flag.DurationVarP(&flagDuration, "duration", "t", 0, "Stop after this long (0 = until Ctrl+C)")
	flag.IntVar(&flagStatsInterval, "stats-interval", 10, "Seconds between stats reports")
	flag.IntVar(&flagRetries, "retries", 5, "Connection attempts per phase")
	flag.DurationVar(&flagRetryDelay, "retry-delay", 2*time.Second, "Delay between connection attempts")
	flag.DurationVar(&flagNoFrame, "no-frame-timeout", 2*time.Second, "Silence before starvation is reported")
	flag.BoolVarP(&flagDebug, "debug", "d", false, "Enable debug logging")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Show version and exit")
}

func main() {
	flag.Parse()

	if flagVersion {
		fmt.Printf("test-receive %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if flagDebug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if flagOutputFormat != "png" && flagOutputFormat != "jpeg" {
		log.Fatalf("Invalid output format: %s (must be png or jpeg)", flagOutputFormat)
	}
	if flagSaveEvery < 1 {
		flagSaveEvery = 1
	}

	if flagOutputDir != "" {
		if err := os.MkdirAll(flagOutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	backend, err := capture.Open(flagBackend)
	if err != nil {
		log.Fatalf("Failed to open backend: %v (available: %v)", err, capture.Names())
	}

	cfg := streamreceiver.DefaultConfig()
	cfg.MaxReconnectAttempts = flagRetries
	cfg.ReconnectDelay = flagRetryDelay
	cfg.NoFrameTimeout = flagNoFrame

	rx, err := streamreceiver.New(backend, cfg)
	if err != nil {
		log.Fatalf("Failed to create receiver: %v", err)
	}

	source := streamreceiver.SourceDescriptor{Name: flagName, Address: flagAddress}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Stream Receive Test - Orion 2.0 Module          ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Source:        %s\n", source)
	fmt.Printf("  Backend:       %s\n", backend.Name())
	fmt.Printf("  Display FPS:   %d\n", flagDisplayFPS)
	fmt.Printf("  Retries:       %d every %s\n", flagRetries, flagRetryDelay)
	if flagOutputDir != "" {
		fmt.Printf("  Output Dir:    %s (%s, every %d frames)\n", flagOutputDir, flagOutputFormat, flagSaveEvery)
	} else {
		fmt.Printf("  Output Dir:    (none - frames not saved)\n")
	}
	if flagMaxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", flagMaxFrames)
	} else {
		fmt.Printf("  Max Frames:    unlimited\n")
	}
	fmt.Printf("\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if flagDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, flagDuration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	events, err := rx.Subscribe("cli")
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	go printEvents(events)

	if err := rx.Connect(source); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	fmt.Printf("Receiving...\n")
	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	startTime := time.Now()
	go reportStats(ctx, rx, startTime)

	framesDrained := 0
	framesSaved := 0
	framesFailed := 0

	interval := time.Second / time.Duration(max(flagDisplayFPS, 1))
	err = streamreceiver.RunDisplay(ctx, rx, interval, func(f *streamreceiver.DecodedFrame) {
		framesDrained++

		if flagOutputDir != "" && (f.Fallback || framesDrained%flagSaveEvery == 1 || flagSaveEvery == 1) {
			if err := saveFrame(flagOutputDir, f, flagOutputFormat, flagJPEGQuality); err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", f.Seq)
				framesFailed++
			} else {
				framesSaved++
			}
		}

		if flagMaxFrames > 0 && framesDrained >= flagMaxFrames {
			fmt.Printf("\nReached maximum frames (%d), stopping...\n", flagMaxFrames)
			cancel()
		}
	})
	if err != nil {
		slog.Error("Display loop failed", "error", err)
	}

	slog.Info("Stopping receiver...")
	if err := rx.Close(); err != nil {
		slog.Error("Error stopping receiver", "error", err)
	}

	st := rx.Stats()
	uptime := time.Since(startTime)

	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Printf("  Frames Accepted:    %d frames\n", st.FramesAccepted)
	fmt.Printf("  Frames Drained:     %d frames\n", framesDrained)
	fmt.Printf("  Stale Discards:     %d frames\n", st.FramesStale)
	fmt.Printf("  Overwritten:        %d frames\n", st.FramesOverwritten)
	fmt.Printf("  Unsupported:        %d frames\n", st.FramesUnsupported)
	if flagOutputDir != "" {
		fmt.Printf("  Frames Saved:       %d frames\n", framesSaved)
		fmt.Printf("  Save Failures:      %d frames\n", framesFailed)
	}
	fmt.Printf("  Average FPS:        %.2f fps\n", st.FPSMeasured)
	fmt.Printf("  Connect Attempts:   %d (%d failed)\n", st.ConnectAttempts, st.FailedAttempts)
	fmt.Printf("  Reconnections:      %d (%d starvations)\n", st.Reconnects, st.Starvations)
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")

	slog.Info("Test receive completed")
}

// printEvents prints state and error changes as they arrive.
func printEvents(events <-chan streamreceiver.Event) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	for ev := range events {
		ts := time.Now().Format("15:04:05")
		switch ev.Kind {
		case streamreceiver.EventStateChanged:
			c := yellow
			switch ev.State {
			case streamreceiver.StateConnected:
				c = green
			case streamreceiver.StateError:
				c = red
			case streamreceiver.StateIdle:
				c = cyan
			}
			if ev.Attempt > 0 {
				c.Printf("[%s] state: %s (attempt %d)\n", ts, ev.State, ev.Attempt)
			} else {
				c.Printf("[%s] state: %s\n", ts, ev.State)
			}
		case streamreceiver.EventErrorChanged:
			if ev.Error == "" {
				green.Printf("[%s] error cleared\n", ts)
			} else {
				red.Printf("[%s] error: %s\n", ts, ev.Error)
			}
		case streamreceiver.EventMetricsUpdated:
			slog.Debug("metrics",
				"width", ev.Metrics.Width,
				"height", ev.Metrics.Height,
				"fps", ev.Metrics.FramesPerSecond,
				"latency_ms", ev.Metrics.LatencyMS,
			)
		}
	}
}

func reportStats(ctx context.Context, rx *streamreceiver.Receiver, startTime time.Time) {
	if flagStatsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(flagStatsInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := rx.Stats()
			uptime := time.Since(startTime)

			fmt.Printf("\n")
			fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
			fmt.Printf("│ Receiver Statistics (Uptime: %s)\n", uptime.Round(time.Second))
			fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
			fmt.Printf("│ State:              %s\n", st.State)
			fmt.Printf("│ Resolution:         %dx%d\n", st.Metrics.Width, st.Metrics.Height)
			fmt.Printf("│ Frames Accepted:    %6d frames\n", st.FramesAccepted)
			fmt.Printf("│ Frames Delivered:   %6d frames\n", st.FramesDelivered)
			if st.FramesStale > 0 || st.FramesOverwritten > 0 {
				fmt.Printf("│ Stale Discards:     %6d frames\n", st.FramesStale)
				fmt.Printf("│ Overwritten:        %6d frames\n", st.FramesOverwritten)
			}
			fmt.Printf("│ Sender FPS:         %6.2f fps\n", st.Metrics.FramesPerSecond)
			fmt.Printf("│ Measured FPS:       %6.2f fps (σ %.2f)\n", st.FPSMeasured, st.FPSStdDev)
			fmt.Printf("│ Latency:            %6.1f ms\n", st.Metrics.LatencyMS)
			fmt.Printf("│ Reconnects:         %6d\n", st.Reconnects)
			totalErrors := st.ErrorsNetwork + st.ErrorsCodec + st.ErrorsAuth + st.ErrorsInit + st.ErrorsStarvation + st.ErrorsUnknown
			if totalErrors > 0 {
				fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
				fmt.Printf("│ Error Telemetry\n")
				fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
				fmt.Printf("│ Network Errors:     %6d\n", st.ErrorsNetwork)
				fmt.Printf("│ Codec Errors:       %6d\n", st.ErrorsCodec)
				fmt.Printf("│ Auth Errors:        %6d\n", st.ErrorsAuth)
				fmt.Printf("│ Init Errors:        %6d\n", st.ErrorsInit)
				fmt.Printf("│ Starvations:        %6d\n", st.ErrorsStarvation)
				fmt.Printf("│ Unknown Errors:     %6d\n", st.ErrorsUnknown)
			}
			fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
			fmt.Printf("\n")
		}
	}
}

// saveFrame saves a drained frame to disk as PNG or JPEG
func saveFrame(outputDir string, f *streamreceiver.DecodedFrame, format string, jpegQuality int) error {
	tag := "frame"
	if f.Fallback {
		tag = "fallback"
	}
	filename := fmt.Sprintf("%s_%06d_%s.%s", tag, f.Seq, f.CapturedAt.Format("20060102_150405.000"), format)
	path := filepath.Join(outputDir, filename)

	img := &image.RGBA{
		Pix:    make([]uint8, f.Width*f.Height*4),
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}

	for y := 0; y < f.Height; y++ {
		src := f.Pixels[y*f.Stride : y*f.Stride+f.Width*4]
		dst := img.Pix[y*img.Stride : (y+1)*img.Stride]
		if f.Format == streamreceiver.PixelFormatBGRA8 {
			for i := 0; i < len(dst); i += 4 {
				dst[i+0] = src[i+2] // R
				dst[i+1] = src[i+1] // G
				dst[i+2] = src[i+0] // B
				dst[i+3] = src[i+3] // A
			}
		} else {
			copy(dst, src)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	return nil
}
