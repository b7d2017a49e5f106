// Package strategy provides pluggable entry signal sources
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"dca_trader/internal/core"
)

// Factory creates a signal source from configuration parameters
type Factory func(params map[string]float64) (core.ISignalSource, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a signal source factory under a name. Registering a
// duplicate name panics: it is a programming error.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy: duplicate registration for %q", name))
	}
	registry[name] = factory
}

// Create instantiates a registered signal source by name
func Create(name string, params map[string]float64) (core.ISignalSource, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return factory(params)
}

// Names lists registered strategies in stable order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
