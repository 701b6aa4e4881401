package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/metric"
)

// Monitor tracks the health of named components. Statuses are either pushed
// with Update or pulled from watched components on Refresh.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	watched  map[string]component.Discoverable
	metrics  *metric.Metrics
}

// NewMonitor creates a new health monitor. registry may be nil.
func NewMonitor(registry *metric.MetricsRegistry) *Monitor {
	m := &Monitor{
		statuses: make(map[string]Status),
		watched:  make(map[string]component.Discoverable),
	}
	if registry != nil {
		m.metrics = registry.CoreMetrics()
	}
	return m
}

// Update sets the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordHealth(name, status.IsHealthy(), status.IsDegraded())
	}
}

// Watch registers a component whose Health is polled on each Refresh
func (m *Monitor) Watch(comp component.Discoverable) {
	name := comp.Meta().Name
	m.mu.Lock()
	m.watched[name] = comp
	m.mu.Unlock()
	m.Update(name, FromComponentHealth(name, comp.Health()))
}

// Refresh polls every watched component
func (m *Monitor) Refresh() {
	m.mu.RLock()
	watched := make(map[string]component.Discoverable, len(m.watched))
	for name, comp := range m.watched {
		watched[name] = comp
	}
	m.mu.RUnlock()

	for name, comp := range watched {
		m.Update(name, FromComponentHealth(name, comp.Health()))
	}
}

// Run refreshes on every tick until ctx is done
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, exists := m.statuses[name]
	return status, exists
}

// Remove stops tracking a component
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.watched, name)
}

// AggregateHealth returns the system status with sub-statuses sorted by component name
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(systemName, subs)
}

// Report refreshes and returns the aggregate in the shape metric.HealthFunc expects.
// Degraded counts as serving.
func (m *Monitor) Report(systemName string) (any, bool) {
	m.Refresh()
	agg := m.AggregateHealth(systemName)
	return agg, !agg.IsUnhealthy()
}

// Count returns the number of components being tracked
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}
