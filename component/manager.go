package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
)

// managedComponent tracks a component and its lifecycle state
type managedComponent struct {
	Component  LifecycleComponent
	State      State
	StartOrder int
	LastError  error
}

// Manager owns a set of lifecycle components. Components start in the order
// they were added and stop in reverse, so sinks outlive their producers.
type Manager struct {
	mu         sync.Mutex
	components []*managedComponent
	byName     map[string]*managedComponent
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// NewManager creates a manager. registry may be nil.
func NewManager(logger *slog.Logger, registry *metric.MetricsRegistry) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		byName: make(map[string]*managedComponent),
		logger: logger,
	}
	if registry != nil {
		m.metrics = registry.CoreMetrics()
	}
	return m
}

// Add registers and initializes a component. Names must be unique.
func (m *Manager) Add(comp LifecycleComponent) error {
	name := comp.Meta().Name

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q already registered", name),
			"Manager", "Add", "register component")
	}

	mc := &managedComponent{Component: comp, State: StateCreated}
	if err := comp.Initialize(); err != nil {
		mc.State = StateFailed
		mc.LastError = err
		return errors.Wrap(err, "Manager", "Add", fmt.Sprintf("initialize %s", name))
	}
	mc.State = StateInitialized

	m.components = append(m.components, mc)
	m.byName[name] = mc
	m.recordState(name, mc.State)
	return nil
}

// Start starts every component in registration order. On failure, components
// already started are stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mc := range m.components {
		name := mc.Component.Meta().Name
		if err := mc.Component.Start(ctx); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.recordState(name, mc.State)
			m.stopLocked(i-1, 5*time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", name))
		}
		mc.State = StateStarted
		mc.StartOrder = i
		m.recordState(name, mc.State)
		m.logger.Debug("Component started", "component", name)
	}
	return nil
}

// Stop stops components in reverse start order, giving each up to timeout.
// Stop errors are logged and the first one is returned.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(len(m.components)-1, timeout)
}

func (m *Manager) stopLocked(from int, timeout time.Duration) error {
	var first error
	for i := from; i >= 0; i-- {
		mc := m.components[i]
		if mc.State != StateStarted {
			continue
		}
		name := mc.Component.Meta().Name
		if err := mc.Component.Stop(timeout); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.logger.Warn("Component stop failed", "component", name, "error", err)
			if first == nil {
				first = err
			}
		} else {
			mc.State = StateStopped
			m.logger.Debug("Component stopped", "component", name)
		}
		m.recordState(name, mc.State)
	}
	return first
}

// Components returns the managed components in registration order
func (m *Manager) Components() []Discoverable {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Discoverable, len(m.components))
	for i, mc := range m.components {
		out[i] = mc.Component
	}
	return out
}

// State returns the lifecycle state of a named component
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.byName[name]
	if !ok {
		return StateCreated, false
	}
	return mc.State, true
}

func (m *Manager) recordState(name string, s State) {
	if m.metrics == nil {
		return
	}
	// Gauge values follow the core metric help text: 0=stopped 1=starting 2=running 3=stopping 4=failed
	value := 0
	switch s {
	case StateInitialized:
		value = 1
	case StateStarted:
		value = 2
	case StateFailed:
		value = 4
	}
	m.metrics.RecordComponentStatus(name, value)
}
