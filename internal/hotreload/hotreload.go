// Package hotreload re-applies configuration when the config file changes.
package hotreload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leslieo2/depwatch/internal/config"
)

// Manager wires the watcher, the coordinator and the outcome broadcaster.
type Manager struct {
	logger      *zap.Logger
	watcher     *Watcher
	coordinator *Coordinator
	broadcaster *Broadcaster

	mu      sync.Mutex
	started bool
}

// NewManager creates a stopped manager using the debounce from cfg.
func NewManager(cfg config.HotReloadConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("hotreload")

	watcher, err := NewWatcher(logger)
	if err != nil {
		return nil, err
	}

	broadcaster := NewBroadcaster(logger)
	coordinator := NewCoordinator(watcher, broadcaster, logger)
	if cfg.Debounce > 0 {
		coordinator.SetDebounceTime(cfg.Debounce)
	}

	return &Manager{
		logger:      logger,
		watcher:     watcher,
		coordinator: coordinator,
		broadcaster: broadcaster,
	}, nil
}

func (m *Manager) AddWatch(path string) error {
	return m.watcher.Add(path)
}

func (m *Manager) RemoveWatch(path string) error {
	return m.watcher.Remove(path)
}

func (m *Manager) RegisterReloadable(reloadable Reloadable) error {
	return m.coordinator.Register(reloadable)
}

// AddListener subscribes to reload outcomes.
func (m *Manager) AddListener(name string, listener Listener) error {
	return m.broadcaster.AddListener(name, listener)
}

func (m *Manager) RemoveListener(name string) {
	m.broadcaster.RemoveListener(name)
}

// Trigger requests a reload without a file change, e.g. on SIGHUP.
func (m *Manager) Trigger() {
	m.coordinator.Trigger()
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	if err := m.coordinator.Start(); err != nil {
		return err
	}

	m.started = true
	m.logger.Info("Hot reload system started", zap.Strings("paths", m.watcher.Paths()))
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	m.coordinator.Stop()
	m.broadcaster.Close()
	m.started = false
	m.logger.Info("Hot reload system stopped")
}

func (m *Manager) SetDebounceTime(d time.Duration) {
	m.coordinator.SetDebounceTime(d)
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Shutdown stops the manager, giving up when ctx ends first.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
