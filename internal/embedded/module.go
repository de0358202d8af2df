// Package embedded defines the contract for embedded server modules: servers
// compiled to run inside the host process, reachable only through the bridge
// boundary call, never through the network stack. Modules register by name
// (database/sql driver style) and receive an explicit capability environment
// at start — no ambient process or filesystem globals.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Storage is the persistent key/value surface handed to a module. Backed by
// the storage engine the bootstrap sequencer initializes first.
type Storage interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// FileInfo is the minimal stat result a module may ask for.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Env is the capability surface injected into a module at start. It is
// constructed once by the bootstrap sequencer and covers exactly what a
// module requires: storage, a filesystem stat stub rooted at the storage
// directory, and a process identity.
type Env struct {
	Storage   Storage
	Stat      func(path string) (FileInfo, error)
	ProcessID string
	Logger    *slog.Logger
}

// Module is an embedded server. Start must complete before HandleFrame is
// ever called; the bootstrap sequencer guarantees the storage engine in the
// Env is initialized before Start runs.
type Module interface {
	// Start brings the server up against the given environment.
	Start(ctx context.Context, env Env) error

	// HandleFrame is the single boundary entry point: one encoded request
	// frame in, one encoded response frame or an application error out.
	HandleFrame(frame string) (string, error)

	// Close shuts the server down.
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Module{}
)

// Register makes a module constructor available under the given name.
// Typically called from a module package's init.
func Register(name string, factory func() Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("embedded: Register called twice for module %q", name))
	}
	registry[name] = factory
}

// Open constructs a fresh, unstarted instance of the named module.
func Open(name string) (Module, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("embedded: unknown module %q (registered: %v)", name, Modules())
	}
	return factory(), nil
}

// Modules returns the registered module names, sorted.
func Modules() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
