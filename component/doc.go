// Package component defines the contracts every corazonn component follows.
//
// A component is Discoverable: it reports Metadata, a HealthStatus and
// FlowMetrics. Components with goroutines or sockets also implement
// LifecycleComponent:
//
//	Initialize() error                  // allocate, validate; no I/O
//	Start(ctx context.Context) error    // bind sockets, launch goroutines
//	Stop(timeout time.Duration) error   // stop accepting, drain, release
//
// The Manager starts components in registration order and stops them in
// reverse. Register sinks and outputs first and inputs last so that, on
// shutdown, inputs stop before the processor drains and the processor
// drains before the outputs close.
package component
