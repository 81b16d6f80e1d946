package hotreload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reloadable is a component that re-reads its configuration on demand.
type Reloadable interface {
	Reload(ctx context.Context) error
	Name() string
}

// Coordinator debounces change events and reloads every registered component.
type Coordinator struct {
	watcher      *Watcher
	broadcaster  *Broadcaster
	logger       *zap.Logger
	reloadables  map[string]Reloadable
	eventChan    chan Event
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	debounceTime time.Duration
	wg           sync.WaitGroup
	isRunning    bool
}

func NewCoordinator(watcher *Watcher, broadcaster *Broadcaster, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		watcher:      watcher,
		broadcaster:  broadcaster,
		logger:       logger,
		reloadables:  make(map[string]Reloadable),
		eventChan:    make(chan Event, 100),
		ctx:          ctx,
		cancel:       cancel,
		debounceTime: 500 * time.Millisecond,
	}
}

func (c *Coordinator) Register(reloadable Reloadable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := reloadable.Name()
	if _, exists := c.reloadables[name]; exists {
		return fmt.Errorf("reloadable %s already registered", name)
	}

	c.reloadables[name] = reloadable
	c.logger.Info("Registered reloadable component", zap.String("name", name))
	return nil
}

func (c *Coordinator) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.reloadables, name)
	c.logger.Info("Unregistered reloadable component", zap.String("name", name))
}

func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.isRunning = true
	c.mu.Unlock()

	c.watcher.Start()

	c.wg.Add(2)
	go c.processEvents()
	go c.coordinateReloads()

	c.logger.Info("Hot reload coordinator started")
	return nil
}

// Stop cancels any in-flight reload and waits for the loops to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	c.mu.Unlock()

	c.cancel()
	c.watcher.Stop()
	c.wg.Wait()

	c.logger.Info("Hot reload coordinator stopped")
}

// Trigger queues a reload as if the watched files had changed.
func (c *Coordinator) Trigger() {
	select {
	case c.eventChan <- Event{}:
	case <-c.ctx.Done():
	default:
		// A full queue already guarantees a reload.
	}
}

func (c *Coordinator) processEvents() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case event := <-c.watcher.Events():
			select {
			case c.eventChan <- event:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Coordinator) coordinateReloads() {
	defer c.wg.Done()

	var (
		debounceTimer *time.Timer
		fire          <-chan time.Time // nil until an event arms the timer
		events        []Event
	)

	for {
		select {
		case <-c.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event := <-c.eventChan:
			events = append(events, event)

			wait := c.debounce()
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(wait)
			} else {
				debounceTimer.Reset(wait)
			}
			fire = debounceTimer.C

		case <-fire:
			c.triggerReload(events)
			events = events[:0]
			fire = nil
		}
	}
}

func (c *Coordinator) debounce() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debounceTime
}

// triggerReload reloads all components concurrently and broadcasts the
// combined outcome.
func (c *Coordinator) triggerReload(events []Event) {
	c.mu.RLock()
	reloadables := make([]Reloadable, 0, len(c.reloadables))
	for _, r := range c.reloadables {
		reloadables = append(reloadables, r)
	}
	c.mu.RUnlock()

	if len(reloadables) == 0 {
		return
	}

	c.logger.Info("Triggering hot reload", zap.Int("events", len(events)))
	for _, event := range events {
		c.logger.Debug("Reload triggered by", zap.String("path", event.Path), zap.Stringer("operation", event.Op))
	}

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		reloads []error
	)
	for _, reloadable := range reloadables {
		wg.Add(1)
		go func(r Reloadable) {
			defer wg.Done()
			if err := r.Reload(c.ctx); err != nil {
				errMu.Lock()
				reloads = append(reloads, fmt.Errorf("failed to reload %s: %w", r.Name(), err))
				errMu.Unlock()
				return
			}
			c.logger.Info("Successfully reloaded component", zap.String("name", r.Name()))
		}(reloadable)
	}
	wg.Wait()

	err := errors.Join(reloads...)
	if err != nil {
		c.logger.Error("Hot reload completed with errors", zap.Int("errors", len(reloads)), zap.Error(err))
	} else {
		c.logger.Info("Hot reload completed successfully")
	}

	if c.broadcaster != nil {
		outcome := Outcome{Events: append([]Event(nil), events...), Err: err, At: time.Now()}
		if berr := c.broadcaster.Broadcast(c.ctx, outcome); berr != nil {
			c.logger.Warn("Reload listeners failed", zap.Error(berr))
		}
	}
}

func (c *Coordinator) SetDebounceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounceTime = d
}

func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}
