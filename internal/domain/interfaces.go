package domain

import (
	"context"
	"encoding/json"
)

// Persistence interface. Implementations are a local file store on
// device and a Redis store for shared-cache deployments.
type SnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Transport interfaces
type Emitter interface {
	Emit(event string, payload interface{}) error
	IsConnected() bool
}

// MessageSink receives every decoded frame from the read pump, in
// arrival order.
type MessageSink interface {
	HandleMessage(event string, data json.RawMessage)
}

// Notification interfaces. Toasts and the bid sound cue live behind
// these so reconciliation stays testable without a UI.
type Notifier interface {
	Success(message string)
	Error(message string)
	BidSound()
}

// Navigator is the cross-boundary hook the store uses when an auction
// closes: advance to the next car or fall back to the listing.
type Navigator interface {
	GoToCar(carID string)
	GoToListing()
}
