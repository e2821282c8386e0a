package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it, and callers that
// run without progress tracking can use Discard.
type Emitter interface {
	Emit(evt Event)
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}
