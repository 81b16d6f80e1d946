package hotreload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome describes one completed reload cycle.
type Outcome struct {
	Events []Event
	Err    error
	At     time.Time
}

// Listener is notified after every reload cycle.
type Listener func(ctx context.Context, outcome Outcome) error

// Broadcaster fans reload outcomes out to named listeners.
type Broadcaster struct {
	logger    *zap.Logger
	listeners map[string]Listener
	mu        sync.RWMutex
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		logger:    logger,
		listeners: make(map[string]Listener),
	}
}

func (b *Broadcaster) AddListener(name string, listener Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.listeners[name]; exists {
		return fmt.Errorf("listener %s already exists", name)
	}

	b.listeners[name] = listener
	b.logger.Debug("Added reload listener", zap.String("name", name))
	return nil
}

func (b *Broadcaster) RemoveListener(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, name)
	b.logger.Debug("Removed reload listener", zap.String("name", name))
}

// Broadcast calls every listener concurrently and joins their errors.
func (b *Broadcaster) Broadcast(ctx context.Context, outcome Outcome) error {
	b.mu.RLock()
	listeners := make(map[string]Listener, len(b.listeners))
	for name, listener := range b.listeners {
		listeners[name] = listener
	}
	b.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, listener := range listeners {
		wg.Add(1)
		go func(n string, l Listener) {
			defer wg.Done()
			if err := l(ctx, outcome); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("listener %s failed: %w", n, err))
				mu.Unlock()
			}
		}(name, listener)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close removes all listeners.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[string]Listener)
	b.logger.Debug("Reload broadcaster closed")
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Broadcaster) HasListener(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.listeners[name]
	return exists
}
