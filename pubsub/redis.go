package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisTransport is a Transport over Redis pub/sub channels.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisTransport(client *redis.Client) (*RedisTransport, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisTransport{client: client}, nil
}

// Publish sends a payload to every subscriber of the channel.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("pubsub: redis publish: %w", err)
	}
	return nil
}

// Subscribe registers a handler for the channel. Messages are delivered on
// a dedicated goroutine until Unsubscribe is called; a handler panic is
// recovered so it cannot kill the receive loop.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	ps := t.client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pubsub: redis subscribe: %w", err)
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	go sub.loop(handler)
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	once sync.Once
	done chan struct{}
}

func (s *redisSubscription) loop(handler Handler) {
	ch := s.ps.Channel()
	for msg := range ch {
		dispatch(handler, []byte(msg.Payload))
	}
	close(s.done)
}

// Unsubscribe closes the underlying subscription and waits for the receive
// loop to drain.
func (s *redisSubscription) Unsubscribe() error {
	err := ErrUnsubscribed
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// dispatch invokes the handler, recovering panics.
func dispatch(handler Handler, payload []byte) {
	defer func() {
		_ = recover()
	}()
	handler(payload)
}

// Ensure RedisTransport implements Transport
var _ Transport = (*RedisTransport)(nil)
