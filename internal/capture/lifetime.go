package capture

import (
	"fmt"
	"log/slog"
	"sync"
)

// Lifetime reference-counts a process-wide native library. The first Acquire
// runs init, the Release that brings the count back to zero runs destroy.
type Lifetime struct {
	name    string
	init    func() error
	destroy func()

	mu       sync.Mutex
	refCount int
}

// NewLifetime returns a Lifetime for the named library. Either function may
// be nil.
func NewLifetime(name string, init func() error, destroy func()) *Lifetime {
	return &Lifetime{name: name, init: init, destroy: destroy}
}

// Acquire takes a reference, initializing the library on the first one.
// A failed init leaves the count unchanged.
func (l *Lifetime) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refCount == 0 && l.init != nil {
		if err := l.init(); err != nil {
			return fmt.Errorf("capture: %s initialization failed: %w", l.name, err)
		}
		slog.Debug("capture: library initialized", "library", l.name)
	}
	l.refCount++
	return nil
}

// Release drops a reference. An unmatched Release is logged and ignored.
func (l *Lifetime) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refCount == 0 {
		slog.Warn("capture: release without matching acquire", "library", l.name)
		return
	}

	l.refCount--
	if l.refCount == 0 && l.destroy != nil {
		l.destroy()
		slog.Debug("capture: library destroyed", "library", l.name)
	}
}

// RefCount returns the number of outstanding references.
func (l *Lifetime) RefCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refCount
}
