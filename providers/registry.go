package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/erradvise/erradvise/core"
)

// Factory defines the interface for provider factories
type Factory interface {
	// Create creates a new provider client with the given configuration
	Create(config *Config) core.ProviderClient

	// DetectEnvironment checks whether this provider has a discoverable
	// credential. Returns priority (higher = preferred) and availability.
	DetectEnvironment() (priority int, available bool)

	// Name returns the provider id
	Name() string

	// Description returns a human-readable description
	Description() string
}

// Registry manages registered provider factories. Providers register
// from their package init functions, so the set is fixed at startup;
// a missing backend is recorded as unavailable instead of being
// discovered through an import failure at call time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var registry = &Registry{
	factories: make(map[string]Factory),
}

// Register registers a provider factory
func Register(factory Factory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	name := factory.Name()
	if name == "" {
		return fmt.Errorf("factory.Name() cannot be empty")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.factories[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	registry.factories[name] = factory
	return nil
}

// MustRegister registers a factory and panics on error.
// Use in init() functions where errors cannot be handled.
func MustRegister(factory Factory) {
	if err := Register(factory); err != nil {
		panic(fmt.Sprintf("failed to register provider: %v", err))
	}
}

// Get retrieves a registered factory by name
func Get(name string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, exists := registry.factories[name]
	return factory, exists
}

// List returns all registered provider ids, sorted
func List() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves the provider to use. A configured preferred provider
// wins when registered; otherwise the available factory with the
// highest priority is chosen, ties broken by name so selection is
// deterministic. Returns ("", nil, false) when no provider has a
// discoverable credential.
func Select(preferred string, logger core.Logger) (string, Factory, bool) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	if preferred != "" {
		factory, ok := Get(preferred)
		if !ok {
			logger.Warn("Configured provider is not registered", map[string]interface{}{
				"operation": "provider_selection",
				"provider":  preferred,
				"known":     List(),
			})
			return "", nil, false
		}
		_, available := factory.DetectEnvironment()
		if !available {
			return "", nil, false
		}
		logger.Info("Provider selected", map[string]interface{}{
			"operation": "provider_selection",
			"provider":  preferred,
			"reason":    "configured_default",
		})
		return preferred, factory, true
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	type candidate struct {
		name     string
		priority int
		factory  Factory
	}
	var candidates []candidate
	for name, factory := range registry.factories {
		priority, available := factory.DetectEnvironment()
		logger.Debug("Provider environment check", map[string]interface{}{
			"operation": "provider_check",
			"provider":  name,
			"priority":  priority,
			"available": available,
		})
		if available {
			candidates = append(candidates, candidate{name, priority, factory})
		}
	}

	if len(candidates) == 0 {
		return "", nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].name < candidates[j].name
	})

	selected := candidates[0]
	logger.Info("Provider selected", map[string]interface{}{
		"operation":  "provider_selection",
		"provider":   selected.name,
		"priority":   selected.priority,
		"candidates": len(candidates),
	})
	return selected.name, selected.factory, true
}
