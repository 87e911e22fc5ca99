package registry

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"roundtable/internal/logging"
)

// Watcher monitors a descriptor directory and reloads profiles when
// files settle. Rapid saves are debounced so an editor writing a file
// in several bursts triggers a single reload.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	loader      *Loader
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	Creates       int
	Modifies      int
	Deletes       int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// NewWatcher creates a watcher that keeps the given loader in sync with
// its descriptor directory.
func NewWatcher(dir string, loader *Loader) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		loader:      loader,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		// Directory may not exist yet. Reload still works once it appears
		// and the caller re-adds it, so warn rather than fail startup.
		logging.Get(logging.CategoryWatch).Warn("watch failed for %s: %v", w.dir, err)
	} else {
		logging.Watch("watching descriptor directory: %s", w.dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("descriptor watcher stopped")
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns a copy of the current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("descriptor watcher: context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("descriptor watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.reloadSettled()
		}
	}
}

// handleEvent records a descriptor file event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isYAMLFile(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	switch eventType {
	case "create":
		w.stats.Creates++
	case "modify":
		w.stats.Modifies++
	case "delete", "rename":
		w.stats.Deletes++
	}
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// reloadSettled triggers one reload if any recorded event has settled
// past the debounce window. The loader diffs the whole directory, so a
// single reload covers every settled file.
func (w *Watcher) reloadSettled() {
	w.mu.Lock()
	now := time.Now()
	settled := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			settled = true
		}
	}
	w.mu.Unlock()

	if !settled {
		return
	}

	count, err := w.loader.Load()
	w.mu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Reloads++
	}
	w.mu.Unlock()

	if err != nil {
		// Bad descriptor on disk. Keep serving the last good set.
		logging.Get(logging.CategoryWatch).Error("descriptor reload failed: %v", err)
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditDescriptorReload,
			Category:  string(logging.CategoryWatch),
			Target:    w.dir,
			Success:   false,
			Error:     err.Error(),
		})
		return
	}

	logging.Watch("descriptor reload complete: %d profiles", count)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditDescriptorReload,
		Category:  string(logging.CategoryWatch),
		Target:    w.dir,
		Success:   true,
		Message:   "reload complete",
		Fields:    map[string]interface{}{"profiles": count},
	})
}
