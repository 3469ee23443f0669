package plugins

import (
	"sync"

	"github.com/listingcore/core/internal/logger"
)

// globalRegistry holds built-in plugin factories registered via init():
//
//	func init() {
//	    plugins.RegisterBuiltin("plugin-processing-normalize", NewNormalizer)
//	}
//
// Discovery merges this registry with manifests found on disk: a
// manifest whose entrypoint.module names a key registered here resolves
// to a built-in factory; everything else falls through to the dynamic
// loader in discovery.go.
var globalRegistry = newBuiltinRegistry()

type builtinRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func newBuiltinRegistry() *builtinRegistry {
	return &builtinRegistry{factories: make(map[string]Factory)}
}

// RegisterBuiltin registers a built-in plugin factory under module. Safe
// for concurrent use; re-registration overwrites and logs a warning,
// allowing a built-in to be swapped out in tests.
func RegisterBuiltin(module string, factory Factory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.factories[module]; exists {
		logger.PluginManager().Warn().Str("module", module).Msg("built-in plugin factory already registered, overwriting")
	}
	globalRegistry.factories[module] = factory
}

// LookupBuiltin returns the factory registered for module, if any.
func LookupBuiltin(module string) (Factory, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	f, ok := globalRegistry.factories[module]
	return f, ok
}

// ListBuiltins returns the module keys currently registered.
func ListBuiltins() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	names := make([]string, 0, len(globalRegistry.factories))
	for name := range globalRegistry.factories {
		names = append(names, name)
	}
	return names
}
