package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/moolen/boxfixer/internal/logging"
)

// DefaultStopTimeout bounds the Stop call of each component.
const DefaultStopTimeout = 10 * time.Second

// Manager starts components in registration order and stops them in
// reverse. A component that depends on another must be registered after it.
type Manager struct {
	mu          sync.Mutex
	components  []Component
	started     []Component
	stopTimeout time.Duration
	logger      *logging.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		stopTimeout: DefaultStopTimeout,
		logger:      logging.GetLogger("lifecycle"),
	}
}

// Register appends components. Nil components are skipped so optional
// services can be passed unconditionally.
func (m *Manager) Register(components ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range components {
		if isNil(c) {
			continue
		}
		if c.Name() == "" {
			return fmt.Errorf("component must have a non-empty name")
		}
		for _, existing := range m.components {
			if existing == c {
				return fmt.Errorf("component %s is already registered", c.Name())
			}
		}
		m.components = append(m.components, c)
		m.logger.Debug("Registered component %s", c.Name())
	}
	return nil
}

// Start starts every registered component that is not running yet. When one
// fails, the components started by this call are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	firstNew := len(m.started)
	for _, c := range m.components[len(m.started):] {
		start := time.Now()
		if err := c.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", c.Name(), err)
			m.rollback(firstNew)
			return fmt.Errorf("failed to start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Debug("%s started (took %dms)", c.Name(), time.Since(start).Milliseconds())
	}
	return nil
}

func (m *Manager) rollback(from int) {
	for i := len(m.started) - 1; i >= from; i-- {
		c := m.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", c.Name(), err)
		}
		cancel()
	}
	m.started = m.started[:from]
}

// Stop stops the running components in reverse start order, each under its
// own timeout. All components are stopped even if some fail; the failures
// are returned joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
		err := c.Stop(stopCtx)
		cancel()
		if err != nil {
			m.logger.Warn("Error stopping %s: %v", c.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		m.logger.Debug("%s stopped", c.Name())
	}
	m.started = nil
	return errors.Join(errs...)
}

// Running returns the names of the started components in start order.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.started))
	for i, c := range m.started {
		names[i] = c.Name()
	}
	return names
}

// SetStopTimeout changes the per-component stop timeout.
func (m *Manager) SetStopTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimeout = timeout
}

func isNil(c Component) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
