package pubsub

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport for single-node deployments
// and tests. Delivery is synchronous: Publish returns after every handler
// has run, which keeps tests deterministic. Handlers must therefore not
// publish from within a delivery.
type MemoryTransport struct {
	mu   sync.RWMutex
	subs map[string][]*memorySubscription
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]*memorySubscription)}
}

// Publish delivers the payload to every subscriber of the channel.
func (t *MemoryTransport) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	t.mu.RLock()
	subs := make([]*memorySubscription, len(t.subs[channel]))
	copy(subs, t.subs[channel])
	t.mu.RUnlock()

	for _, sub := range subs {
		dispatch(sub.handler, payload)
	}
	return nil
}

// Subscribe registers a handler for the channel.
func (t *MemoryTransport) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &memorySubscription{transport: t, channel: channel, handler: handler}
	t.mu.Lock()
	t.subs[channel] = append(t.subs[channel], sub)
	t.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	transport *MemoryTransport
	channel   string
	handler   Handler
	once      sync.Once
}

// Unsubscribe removes the subscription from the transport.
func (s *memorySubscription) Unsubscribe() error {
	err := ErrUnsubscribed
	s.once.Do(func() {
		t := s.transport
		t.mu.Lock()
		subs := t.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				t.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		err = nil
	})
	return err
}

// Ensure MemoryTransport implements Transport
var _ Transport = (*MemoryTransport)(nil)
