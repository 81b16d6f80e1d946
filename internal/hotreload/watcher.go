package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports changes to watched config files.
//
// Files are watched through their parent directory, so editors and
// orchestrators that replace a file by rename keep being seen.
type Watcher struct {
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	dirs       map[string]int
	files      map[string]bool
	events     chan Event
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	isWatching bool
}

// Event is a change to a watched file. Manual triggers carry an empty Path.
type Event struct {
	Path string
	Op   fsnotify.Op
}

func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		watcher: fsWatcher,
		logger:  logger,
		dirs:    make(map[string]int),
		files:   make(map[string]bool),
		events:  make(chan Event, 100),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Add starts watching a file.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if w.files[absPath] {
		return nil
	}

	dir := filepath.Dir(absPath)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[absPath] = true

	w.logger.Debug("Added watch path", zap.String("path", absPath))
	return nil
}

// Remove stops watching a file.
func (w *Watcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if !w.files[absPath] {
		return fmt.Errorf("path %s is not watched", absPath)
	}
	delete(w.files, absPath)

	dir := filepath.Dir(absPath)
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		if err := w.watcher.Remove(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}

	w.logger.Debug("Removed watch path", zap.String("path", absPath))
	return nil
}

// Paths returns the watched files.
func (w *Watcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	return paths
}

func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) Start() {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return
	}
	w.isWatching = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watch()
	w.logger.Info("File watcher started")
}

// Stop ends watching. A stopped watcher cannot be restarted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasWatching := w.isWatching
	w.isWatching = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Failed to close file watcher", zap.Error(err))
	}
	if wasWatching {
		w.logger.Info("File watcher stopped")
	}
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("File system event", zap.String("path", event.Name), zap.Stringer("operation", event.Op))

			select {
			case w.events <- Event{Path: event.Name, Op: event.Op}:
			case <-w.ctx.Done():
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod || shouldSkipEvent(event.Name) {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.files[event.Name]
}

// shouldSkipEvent filters editor temporaries.
func shouldSkipEvent(path string) bool {
	base := filepath.Base(path)
	switch filepath.Ext(path) {
	case ".tmp", ".swp":
		return true
	}
	return base[0] == '.' || base[0] == '~'
}

func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isWatching
}
