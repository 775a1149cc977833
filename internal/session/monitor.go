package session

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Monitor watches the credential file for changes made by other
// instances. When the token transitions from present to absent it
// fires OnInvalidated exactly once, so the caller can reset all
// job-scoped state.
type Monitor struct {
	store         Store
	path          string
	logger        *slog.Logger
	onInvalidated func()

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	hadToken bool
	closed   bool
}

// MonitorConfig wires a monitor's collaborators.
type MonitorConfig struct {
	Store  *JSONStore
	Logger *slog.Logger
	// OnInvalidated fires once per external sign-out.
	OnInvalidated func()
}

// NewMonitor builds a credential monitor. Call Start to begin watching.
func NewMonitor(cfg MonitorConfig) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:         cfg.Store,
		path:          filepath.Clean(cfg.Store.Path()),
		logger:        logger,
		onInvalidated: cfg.OnInvalidated,
	}
}

// Start records the current auth state and begins watching the
// credential file's directory. Watching the directory instead of the
// file survives atomic replace and delete.
func (m *Monitor) Start() error {
	creds, err := m.store.Load()
	if err != nil {
		m.logger.Warn("credential load failed", "path", m.path, "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	m.mu.Lock()
	m.hadToken = creds.Authenticated()
	m.watcher = watcher
	m.mu.Unlock()

	go m.run(watcher)
	return nil
}

// Close stops watching. Safe to call more than once.
func (m *Monitor) Close() error {
	m.mu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.closed = true
	m.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.Close()
}

// MarkSignedOut records a sign-out initiated by this instance so the
// resulting file event is not reported as an external invalidation.
func (m *Monitor) MarkSignedOut() {
	m.mu.Lock()
	m.hadToken = false
	m.mu.Unlock()
}

func (m *Monitor) run(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.recheck()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Debug("credential watch error", "error", err)
		}
	}
}

// recheck reloads the file and fires the hook on a present-to-absent
// token transition. The hadToken latch keeps duplicate file events
// from firing the hook twice.
func (m *Monitor) recheck() {
	creds, err := m.store.Load()
	authenticated := err == nil && creds.Authenticated()

	m.mu.Lock()
	invalidated := m.hadToken && !authenticated && !m.closed
	m.hadToken = authenticated
	m.mu.Unlock()

	if invalidated {
		m.logger.Info("session invalidated by another instance", "path", m.path)
		if m.onInvalidated != nil {
			m.onInvalidated()
		}
	}
}
