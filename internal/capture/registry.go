package capture

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Factory builds a backend instance.
type Factory func() (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Backends call this from
// their init function.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names lists the registered backends in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open instantiates the backend registered under name.
func Open(name string) (Backend, error) {
	registryMu.RLock()
	factory, found := registry[name]
	registryMu.RUnlock()

	if !found {
		slog.Debug("capture: registered backends", "names", Names())
		return nil, errors.Errorf("capture backend '%s' not registered", name)
	}

	b, err := factory()
	if err != nil {
		return nil, errors.Wrapf(err, "capture backend '%s' failed to initialize", name)
	}
	return b, nil
}
