package component

import (
	"context"
	"time"
)

// State is where a component is in its lifecycle, as tracked by the Manager
type State int

// Lifecycle states
const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateCreated:     "created",
	StateInitialized: "initialized",
	StateStarted:     "started",
	StateStopped:     "stopped",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// LifecycleComponent is a Discoverable that owns sockets or goroutines.
//
// Initialize allocates and validates without I/O. Start binds and launches
// work; ctx covers the start itself. Stop stops accepting input and drains
// within timeout. Stop on a component that never started returns nil.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
