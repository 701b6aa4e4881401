// Package sink delivers beat events from the processor to output transports.
//
// The processor only sees EventSink, whose Accept never blocks. Async puts a
// bounded drop-oldest queue between Accept and one or more Publishers, so a
// slow transport loses stale beats instead of stalling detection.
package sink

import (
	"context"

	"github.com/c360/corazonn/ppg"
)

// EventSink receives beat events. Accept must not block.
type EventSink interface {
	Accept(ev ppg.BeatEvent)
}

// Func adapts a function to EventSink
type Func func(ev ppg.BeatEvent)

// Accept calls f(ev)
func (f Func) Accept(ev ppg.BeatEvent) { f(ev) }

// Discard drops every event
var Discard EventSink = Func(func(ppg.BeatEvent) {})

// Fanout delivers each event to every sink in order
type Fanout []EventSink

// Accept forwards ev to each sink
func (f Fanout) Accept(ev ppg.BeatEvent) {
	for _, s := range f {
		s.Accept(ev)
	}
}

// Publisher delivers events to an external destination. Unlike EventSink it
// may block and may fail.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev ppg.BeatEvent) error
}
