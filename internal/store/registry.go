// Package store selects a core.Store backend by driver name. Backends
// register themselves from init; import them for side effects:
//
//	import _ "github.com/JonMunkholm/TemplatePick/internal/store/sqlite"
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
)

// Factory opens a store from database configuration.
type Factory func(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under driver. It panics on an empty
// driver, a nil factory or a duplicate registration.
func Register(driver string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if driver == "" {
		panic("store: Register called with empty driver")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("store: factory already registered for driver=%q", driver))
	}
	factories[driver] = f
}

// Open constructs the store named by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("store: missing driver")
	}

	mu.RLock()
	f := factories[cfg.Driver]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported store driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	return f(ctx, cfg)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for d := range factories {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
