// Package sim implements a synthetic capture backend. Sources are described
// by their address:
//
//	sim://bars?fps=30&w=1280&h=720&format=UYVY&pad=64&fail=2&stall=90&error=300&audio=1&meta=1
//
// fps, w, h and format shape the generated video. pad adds bytes of row
// padding. fail rejects the first N connection attempts for the source.
// stall stops producing video after N frames of a session, error makes
// Capture fail after N frames. audio and meta interleave non-video events.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// Name is the registry name of the simulated backend.
const Name = "sim"

func init() {
	capture.Register(Name, func() (capture.Backend, error) {
		return New(), nil
	})
}

// Options is the parsed form of a sim:// address.
type Options struct {
	Pattern    string
	FPS        float64
	Width      int
	Height     int
	FourCC     capture.FourCC
	Padding    int
	FailFirst  int
	StallAfter int
	ErrorAfter int
	Audio      bool
	Metadata   bool
}

// DefaultOptions returns a 30 fps 640x360 UYVY colour bar stream.
func DefaultOptions() Options {
	return Options{
		Pattern: "bars",
		FPS:     30,
		Width:   640,
		Height:  360,
		FourCC:  capture.FourCCUYVY,
	}
}

// ParseAddress decodes a sim:// address. An empty address yields defaults.
func ParseAddress(addr string) (Options, error) {
	opts := DefaultOptions()
	if addr == "" {
		return opts, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return opts, fmt.Errorf("sim: invalid address %q: %w", addr, err)
	}
	if u.Scheme != "" && u.Scheme != "sim" {
		return opts, fmt.Errorf("sim: unsupported scheme %q", u.Scheme)
	}
	if u.Host != "" {
		opts.Pattern = u.Host
	}

	q := u.Query()
	intParam := func(key string, dst *int) error {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("sim: invalid %s=%q", key, v)
			}
			*dst = n
		}
		return nil
	}

	for key, dst := range map[string]*int{
		"w":     &opts.Width,
		"h":     &opts.Height,
		"pad":   &opts.Padding,
		"fail":  &opts.FailFirst,
		"stall": &opts.StallAfter,
		"error": &opts.ErrorAfter,
	} {
		if err := intParam(key, dst); err != nil {
			return opts, err
		}
	}

	if v := q.Get("fps"); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil || fps <= 0 {
			return opts, fmt.Errorf("sim: invalid fps=%q", v)
		}
		opts.FPS = fps
	}
	if v := q.Get("format"); v != "" {
		f, err := capture.ParseFourCC(strings.ToUpper(v))
		if err != nil {
			return opts, err
		}
		opts.FourCC = f
	}
	opts.Audio = q.Get("audio") == "1" || q.Get("audio") == "true"
	opts.Metadata = q.Get("meta") == "1" || q.Get("meta") == "true"

	if opts.Width <= 0 || opts.Height <= 0 {
		return opts, fmt.Errorf("sim: invalid dimensions %dx%d", opts.Width, opts.Height)
	}
	if opts.FourCC == capture.FourCCUYVY && opts.Width%2 != 0 {
		return opts, fmt.Errorf("sim: UYVY width must be even, got %d", opts.Width)
	}
	return opts, nil
}

// Backend is the simulated capture backend. It is safe for concurrent use.
type Backend struct {
	lifetime *capture.Lifetime

	mu       sync.Mutex
	attempts map[capture.Source]int
	sources  []capture.Source

	openHandles atomic.Int64
	doubleFrees atomic.Int64
}

// New returns a backend that advertises the given sources through Sources.
func New(sources ...capture.Source) *Backend {
	return &Backend{
		lifetime: capture.NewLifetime("sim", nil, nil),
		attempts: make(map[capture.Source]int),
		sources:  append([]capture.Source(nil), sources...),
	}
}

func (b *Backend) Name() string { return Name }

// SetSources replaces the advertised source list.
func (b *Backend) SetSources(sources ...capture.Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append([]capture.Source(nil), sources...)
}

// Sources implements capture.Finder.
func (b *Backend) Sources(ctx context.Context) ([]capture.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]capture.Source(nil), b.sources...), nil
}

// Lifetime implements capture.LifetimeHolder.
func (b *Backend) Lifetime() *capture.Lifetime { return b.lifetime }

// OpenHandles reports handles that were opened and not yet closed.
func (b *Backend) OpenHandles() int64 { return b.openHandles.Load() }

// DoubleFrees reports events that were freed more than once or never issued.
func (b *Backend) DoubleFrees() int64 { return b.doubleFrees.Load() }

// Connect opens a synthetic stream for src.
func (b *Backend) Connect(ctx context.Context, src capture.Source) (capture.Handle, error) {
	opts, err := ParseAddress(src.Address)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.attempts[src]++
	attempt := b.attempts[src]
	b.mu.Unlock()

	if attempt <= opts.FailFirst {
		return nil, fmt.Errorf("sim: connection refused by %s (attempt %d)", src, attempt)
	}

	if err := b.lifetime.Acquire(); err != nil {
		return nil, err
	}
	b.openHandles.Add(1)

	slog.Debug("sim: handle opened",
		"source", src.String(),
		"pattern", opts.Pattern,
		"fps", opts.FPS,
		"format", opts.FourCC.String(),
		"width", opts.Width,
		"height", opts.Height,
	)
	return newHandle(b, src, opts), nil
}

func (b *Backend) handleClosed() {
	b.openHandles.Add(-1)
	b.lifetime.Release()
}
