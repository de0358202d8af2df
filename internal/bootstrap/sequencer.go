// Package bootstrap brings the embedded server up at the agent's
// activation boundary. The sequence is strict: the storage engine is
// initialized against its fixed-location image first, then the capability
// environment is built, then the embedded module is loaded and started,
// and only then is its frame handler bound as the bridge entry point. The
// module never starts against an uninitialized engine.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hostbridge/hostbridge/internal/bridge"
	"github.com/hostbridge/hostbridge/internal/embedded"
	"github.com/hostbridge/hostbridge/internal/store"
)

// EngineFactory opens a storage engine on the given image path. The
// default uses sqlite; tests substitute fakes.
type EngineFactory func(path string) (store.Engine, error)

// Sequencer runs the bootstrap exactly once per agent instance. Failure of
// any step is terminal for that activation: there is no retry, and the
// bound transport stays unavailable so eligible requests resolve as not
// ready until the operator restarts.
type Sequencer struct {
	storagePath string
	moduleName  string
	transport   *bridge.ModuleTransport
	newEngine   EngineFactory
	logger      *slog.Logger

	mu     sync.Mutex
	ran    bool
	runErr error
	engine store.Engine
	module embedded.Module
}

// Option configures the Sequencer.
type Option func(*Sequencer)

// WithEngineFactory overrides how the storage engine is opened.
func WithEngineFactory(f EngineFactory) Option {
	return func(s *Sequencer) { s.newEngine = f }
}

// New creates a Sequencer for the given storage image, embedded module
// name, and transport to bind on success.
func New(storagePath, moduleName string, transport *bridge.ModuleTransport, logger *slog.Logger, opts ...Option) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sequencer{
		storagePath: storagePath,
		moduleName:  moduleName,
		transport:   transport,
		newEngine: func(path string) (store.Engine, error) {
			return store.NewSQLiteEngine(path)
		},
		logger: logger.With("component", "bootstrap.Sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the bootstrap. The first call does the work; every later
// call returns the first call's result unchanged — a failed bootstrap is
// never retried within an instance's lifetime.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ran {
		return s.runErr
	}
	s.ran = true
	s.runErr = s.run(ctx)
	return s.runErr
}

func (s *Sequencer) run(ctx context.Context) error {
	s.logger.Info("bootstrap starting",
		"storage_path", s.storagePath,
		"module", s.moduleName,
	)

	// Step 1: storage engine against the fixed-location image.
	engine, err := s.newEngine(s.storagePath)
	if err != nil {
		return fmt.Errorf("bootstrap: failed to open storage image: %w", err)
	}
	if err := engine.Initialize(); err != nil {
		_ = engine.Close()
		return fmt.Errorf("bootstrap: failed to initialize storage engine: %w", err)
	}
	s.engine = engine

	// Step 2: the capability environment. Exactly the surface the module
	// requires, constructed once here and injected — no globals mutated.
	env := embedded.Env{
		Storage:   engine,
		Stat:      statStub(filepath.Dir(s.storagePath)),
		ProcessID: fmt.Sprintf("hostbridge-%d", os.Getpid()),
		Logger:    s.logger,
	}

	// Step 3: load and start the embedded module, storage first guaranteed.
	module, err := embedded.Open(s.moduleName)
	if err != nil {
		_ = engine.Close()
		s.engine = nil
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := module.Start(ctx, env); err != nil {
		_ = engine.Close()
		s.engine = nil
		return fmt.Errorf("bootstrap: failed to start module %q: %w", s.moduleName, err)
	}
	s.module = module

	// Step 4: expose the module as the bridge entry point.
	s.transport.Bind(module.HandleFrame)

	s.logger.Info("bootstrap complete", "module", s.moduleName)
	return nil
}

// Succeeded reports whether bootstrap ran and completed.
func (s *Sequencer) Succeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran && s.runErr == nil
}

// Engine returns the initialized storage engine, or nil before a
// successful Run.
func (s *Sequencer) Engine() store.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Close shuts the module down first, then the engine.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.module != nil {
		if err := s.module.Close(); err != nil {
			firstErr = err
		}
		s.module = nil
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.engine = nil
	}
	return firstErr
}

// statStub returns a filesystem stat function confined to root. Paths are
// resolved relative to root; escaping it is not possible.
func statStub(root string) func(path string) (embedded.FileInfo, error) {
	return func(path string) (embedded.FileInfo, error) {
		full := filepath.Join(root, filepath.Clean("/"+path))
		info, err := os.Stat(full)
		if err != nil {
			return embedded.FileInfo{}, err
		}
		return embedded.FileInfo{
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		}, nil
	}
}
