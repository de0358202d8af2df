package host

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the embedded module image on disk. When the image is
// replaced (a new build dropped in place) it fires the install callbacks —
// the host-side source of the "newer instance waiting" condition.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	imagePath string
	callbacks []func(path string)
	mu        sync.Mutex // protects callbacks slice
	done      chan struct{}
	logger    *slog.Logger
}

// NewWatcher creates a Watcher for the given module image path. The parent
// directory is watched so atomic rename-into-place replacements are seen.
// Call Start to begin processing events.
func NewWatcher(imagePath string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsWatcher: fsw,
		imagePath: filepath.Clean(imagePath),
		done:      make(chan struct{}),
		logger:    logger.With("component", "host.Watcher"),
	}

	if err := fsw.Add(filepath.Dir(w.imagePath)); err != nil {
		// Non-fatal: the directory may not exist yet at startup.
		w.logger.Warn("could not watch module image directory",
			"dir", filepath.Dir(w.imagePath),
			"error", err,
		)
	}

	return w, nil
}

// OnInstall registers a callback fired when the module image is replaced.
// Callbacks run synchronously on the watcher goroutine; keep them fast or
// dispatch to another goroutine.
func (w *Watcher) OnInstall(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start begins watching in a background goroutine. It returns immediately;
// call Stop to shut down.
func (w *Watcher) Start() error {
	go w.loop()
	return nil
}

// Stop shuts down the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.imagePath {
		return
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	w.logger.Info("module image replaced", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	cbs := make([]func(string), len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	for _, fn := range cbs {
		fn(event.Name)
	}
}
