package pubsub

import (
	"context"
	"errors"
)

// Sentinel errors for transport operations.
var (
	ErrNilClient    = errors.New("pubsub: client is nil")
	ErrEmptyChannel = errors.New("pubsub: channel is empty")
	ErrNilHandler   = errors.New("pubsub: handler is nil")
	ErrUnsubscribed = errors.New("pubsub: subscription already closed")
)

// Handler processes a message received on a subscribed channel.
// Handlers must not block; slow work should be handed off.
type Handler func(payload []byte)

// Subscription represents an active channel subscription.
type Subscription interface {
	// Unsubscribe stops delivery and releases the subscription.
	// Calling it twice returns ErrUnsubscribed.
	Unsubscribe() error
}

// Transport is a minimal publish/subscribe fabric.
//
// Contract:
// - Concurrency: Publish is safe to call concurrently without locking; the
//   transport serializes at a lower layer.
// - Delivery: at-least-once; messages may be duplicated or reordered.
// - Errors: Publish errors indicate the message may not have been delivered.
type Transport interface {
	// Publish sends a payload to every subscriber of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a handler for the channel. Delivery starts
	// before Subscribe returns.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
}
