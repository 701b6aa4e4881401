package component

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/metric"
)

type fakeComponent struct {
	name     string
	startErr error
	log      *[]string
	mu       *sync.Mutex
}

func (f *fakeComponent) record(event string) {
	f.mu.Lock()
	*f.log = append(*f.log, event+":"+f.name)
	f.mu.Unlock()
}

func (f *fakeComponent) Meta() Metadata        { return Metadata{Name: f.name, Type: "processor"} }
func (f *fakeComponent) Health() HealthStatus  { return HealthStatus{Healthy: true} }
func (f *fakeComponent) DataFlow() FlowMetrics { return FlowMetrics{} }
func (f *fakeComponent) Initialize() error     { f.record("init"); return nil }
func (f *fakeComponent) Start(context.Context) error {
	f.record("start")
	return f.startErr
}
func (f *fakeComponent) Stop(time.Duration) error { f.record("stop"); return nil }

func newFakes(names ...string) ([]*fakeComponent, *[]string) {
	log := &[]string{}
	mu := &sync.Mutex{}
	out := make([]*fakeComponent, len(names))
	for i, n := range names {
		out[i] = &fakeComponent{name: n, log: log, mu: mu}
	}
	return out, log
}

func TestManager_StartStopOrder(t *testing.T) {
	fakes, log := newFakes("sink", "processor", "input")
	m := NewManager(nil, metric.NewMetricsRegistry())
	for _, f := range fakes {
		require.NoError(t, m.Add(f))
	}

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(time.Second))

	assert.Equal(t, []string{
		"init:sink", "init:processor", "init:input",
		"start:sink", "start:processor", "start:input",
		"stop:input", "stop:processor", "stop:sink",
	}, *log)

	state, ok := m.State("processor")
	require.True(t, ok)
	assert.Equal(t, StateStopped, state)
	assert.Len(t, m.Components(), 3)
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	fakes, log := newFakes("sink", "input")
	fakes[1].startErr = errors.New("bind: address already in use")

	m := NewManager(nil, nil)
	for _, f := range fakes {
		require.NoError(t, m.Add(f))
	}

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start input")

	assert.Equal(t, []string{"init:sink", "init:input", "start:sink", "start:input", "stop:sink"}, *log)

	state, _ := m.State("input")
	assert.Equal(t, StateFailed, state)
}

func TestManager_DuplicateName(t *testing.T) {
	fakes, _ := newFakes("a", "a")
	m := NewManager(nil, nil)
	require.NoError(t, m.Add(fakes[0]))
	assert.Error(t, m.Add(fakes[1]))

	_, ok := m.State("missing")
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "unknown", State(-1).String())
}
