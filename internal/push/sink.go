package push

import "context"

// Sink consumes batches of push events. Implementations must honor ctx
// deadlines and tolerate repeated Consume/Close cycles.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// the queue manager stays agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}
