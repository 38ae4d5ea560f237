// Package discovery keeps an up-to-date list of the sources a capture backend
// can see and announces changes.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-receiver/internal/capture"
)

// DefaultInterval is the poll period when Config.Interval is zero.
const DefaultInterval = time.Second

// Config configures a Poller
type Config struct {
	// Interval between polls (default: 1s)
	Interval time.Duration
	// Lifetime, if set, is held while the poller runs
	Lifetime *capture.Lifetime
}

// Stats contains poller statistics
type Stats struct {
	Polls     uint64
	Changes   uint64
	Errors    uint64
	Available bool
	LastError string
	Sources   int
}

// Poller polls a capture.Finder and publishes the list whenever it differs
// from the previous one by value or order.
type Poller struct {
	finder   capture.Finder
	interval time.Duration
	lifetime *capture.Lifetime
	updates  chan []capture.Source

	mu        sync.RWMutex
	sources   []capture.Source
	available bool
	lastErr   string

	polls   atomic.Uint64
	changes atomic.Uint64
	errors  atomic.Uint64
}

// New creates a poller for finder.
func New(finder capture.Finder, cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		finder:   finder,
		interval: interval,
		lifetime: cfg.Lifetime,
		updates:  make(chan []capture.Source, 1),
	}
}

// Updates delivers the new source list after each change. Only the most
// recent list is kept when the reader falls behind.
func (p *Poller) Updates() <-chan []capture.Source {
	return p.updates
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.finder == nil {
		p.setUnavailable("discovery unavailable: backend cannot enumerate sources")
		return fmt.Errorf("discovery: no finder")
	}

	if p.lifetime != nil {
		if err := p.lifetime.Acquire(); err != nil {
			p.setUnavailable(fmt.Sprintf("discovery unavailable: %v", err))
			return fmt.Errorf("discovery: %w", err)
		}
		defer p.lifetime.Release()
	}

	slog.Info("discovery: started", "interval", p.interval)
	defer slog.Info("discovery: stopped", "polls", p.polls.Load(), "changes", p.changes.Load())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll performs one query and reports whether the list changed. A failed
// query counts as an empty list.
func (p *Poller) Poll(ctx context.Context) bool {
	p.polls.Add(1)

	found, err := p.finder.Sources(ctx)
	p.mu.Lock()
	if err != nil {
		p.errors.Add(1)
		p.available = false
		p.lastErr = err.Error()
		found = nil
	} else {
		p.available = true
		p.lastErr = ""
	}

	if Equal(p.sources, found) {
		p.mu.Unlock()
		return false
	}
	p.sources = append([]capture.Source(nil), found...)
	snapshot := append([]capture.Source(nil), found...)
	p.mu.Unlock()

	p.changes.Add(1)
	slog.Info("discovery: sources changed", "count", len(snapshot))
	if err != nil {
		slog.Warn("discovery: query failed", "error", err)
	}

	p.publish(snapshot)
	return true
}

func (p *Poller) publish(list []capture.Source) {
	for {
		select {
		case p.updates <- list:
			return
		default:
		}
		// Reader is behind; replace the stale list
		select {
		case <-p.updates:
		default:
		}
	}
}

func (p *Poller) setUnavailable(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = false
	p.lastErr = msg
	slog.Warn("discovery: " + msg)
}

// Sources returns the last known list.
func (p *Poller) Sources() []capture.Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]capture.Source(nil), p.sources...)
}

// Stats returns poller statistics
func (p *Poller) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Polls:     p.polls.Load(),
		Changes:   p.changes.Load(),
		Errors:    p.errors.Load(),
		Available: p.available,
		LastError: p.lastErr,
		Sources:   len(p.sources),
	}
}

// Equal reports whether a and b hold the same sources in the same order.
func Equal(a, b []capture.Source) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
