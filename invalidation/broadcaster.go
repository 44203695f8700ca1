package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/cachekit/observe"
	"github.com/jonwraymond/cachekit/pubsub"
	"github.com/jonwraymond/cachekit/resilience"
)

// Sentinel errors for the broadcaster.
var (
	ErrNilTracker   = errors.New("invalidation: tracker is nil")
	ErrNilTransport = errors.New("invalidation: transport is nil")
)

// Broadcaster wraps a Tracker and mirrors every invalidation to peer
// processes over a pub/sub channel.
//
// Every exposed invalidation method performs the local action and
// broadcasts; local-only invalidation is reserved for messages received
// from peers, which are applied through the wrapped tracker and never
// re-broadcast. Messages whose source instance ID matches this node are
// discarded, which is what prevents an echo loop.
//
// Consistency is at-least-once and eventual: a node that misses a message
// serves stale data until the local TTL expires. That is an accepted
// trade-off, not a defect.
type Broadcaster struct {
	tracker    *Tracker
	transport  pubsub.Transport
	channel    string
	instanceID string
	logger     observe.Logger
	retry      *resilience.Retry

	mu  sync.Mutex
	sub pubsub.Subscription

	obsMu     sync.RWMutex
	observers []func(Envelope)
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger sets the broadcaster logger.
func WithBroadcasterLogger(logger observe.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = logger }
}

// WithPublishRetry overrides the retry policy for publishing.
func WithPublishRetry(retry *resilience.Retry) BroadcasterOption {
	return func(b *Broadcaster) { b.retry = retry }
}

// NewBroadcaster creates a broadcaster for the namespace's invalidation
// channel ("{namespace}:invalidation"). The instance ID is derived from
// host, pid and a random suffix, unique per process.
func NewBroadcaster(tracker *Tracker, transport pubsub.Transport, namespace string, opts ...BroadcasterOption) (*Broadcaster, error) {
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if namespace == "" {
		namespace = "cache"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	b := &Broadcaster{
		tracker:    tracker,
		transport:  transport,
		channel:    namespace + ":invalidation",
		instanceID: fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8]),
		logger:     observe.NewNopLogger(),
		retry: resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent("broadcaster")
	return b, nil
}

// InstanceID returns the process-unique identity used for echo suppression.
func (b *Broadcaster) InstanceID() string {
	return b.instanceID
}

// Channel returns the pub/sub channel invalidations travel on.
func (b *Broadcaster) Channel() string {
	return b.channel
}

// StartListening subscribes to the invalidation channel. Idempotent.
func (b *Broadcaster) StartListening(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.transport.Subscribe(ctx, b.channel, b.handle)
	if err != nil {
		return fmt.Errorf("invalidation: subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

// StopListening unsubscribes from the invalidation channel. Idempotent.
func (b *Broadcaster) StopListening() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}

// Notify registers an observer invoked for every envelope applied from a
// peer. Observers must return quickly.
func (b *Broadcaster) Notify(fn func(Envelope)) {
	if fn == nil {
		return
	}
	b.obsMu.Lock()
	b.observers = append(b.observers, fn)
	b.obsMu.Unlock()
}

// Invalidate invalidates the table locally, then broadcasts it.
func (b *Broadcaster) Invalidate(ctx context.Context, tableName string) (Result, error) {
	res, err := b.tracker.Invalidate(ctx, tableName)
	if err != nil {
		return res, err
	}
	return res, b.publish(ctx, NewTableMessage(tableName))
}

// InvalidateByPattern invalidates by pattern locally, then broadcasts it.
func (b *Broadcaster) InvalidateByPattern(ctx context.Context, pattern string) error {
	if err := b.tracker.InvalidateByPattern(ctx, pattern); err != nil {
		return err
	}
	return b.publish(ctx, NewPatternMessage(pattern))
}

// InvalidateBatch invalidates the tables locally, then broadcasts them.
func (b *Broadcaster) InvalidateBatch(ctx context.Context, tableNames []string) (Result, error) {
	res, err := b.tracker.InvalidateBatch(ctx, tableNames)
	if err != nil {
		return res, err
	}
	return res, b.publish(ctx, NewBatchMessage(tableNames))
}

// publish fans an envelope out to peers, retrying transient transport
// failures. Under the tracker's silent-fallback policy a publish failure
// is logged and swallowed: the local invalidation already succeeded and
// peers converge once their TTLs expire.
func (b *Broadcaster) publish(ctx context.Context, msg Message) error {
	env := Envelope{
		SourceInstanceID: b.instanceID,
		Message:          msg,
		Timestamp:        time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("invalidation: encode envelope: %w", err)
	}

	err = b.retry.Execute(ctx, func(ctx context.Context) error {
		return b.transport.Publish(ctx, b.channel, payload)
	})
	if err == nil {
		return nil
	}
	if b.tracker.config.SilentFallback {
		b.logger.Warn(ctx, "invalidation broadcast failed",
			observe.Field{Key: "correlation_id", Value: msg.CorrelationID},
			observe.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return fmt.Errorf("invalidation: broadcast: %w", err)
}

// handle applies an inbound envelope. Malformed payloads are dropped, own
// broadcasts are discarded, everything else goes through the local tracker
// only.
func (b *Broadcaster) handle(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn(context.Background(), "dropping malformed invalidation message",
			observe.Field{Key: "error", Value: err.Error()})
		return
	}
	if env.SourceInstanceID == b.instanceID {
		return
	}

	ctx := context.Background()
	var err error
	switch env.Message.Type {
	case MessageTable:
		for _, table := range env.Message.TableNames {
			if _, ierr := b.tracker.Invalidate(ctx, table); ierr != nil && err == nil {
				err = ierr
			}
		}
	case MessagePattern:
		err = b.tracker.InvalidateByPattern(ctx, env.Message.Pattern)
	case MessageBatch:
		_, err = b.tracker.InvalidateBatch(ctx, env.Message.TableNames)
	default:
		b.logger.Warn(ctx, "dropping invalidation message with unknown type",
			observe.Field{Key: "type", Value: string(env.Message.Type)},
			observe.Field{Key: "correlation_id", Value: env.Message.CorrelationID})
		return
	}
	if err != nil {
		b.logger.Warn(ctx, "failed to apply peer invalidation",
			observe.Field{Key: "correlation_id", Value: env.Message.CorrelationID},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	b.obsMu.RLock()
	observers := b.observers
	b.obsMu.RUnlock()
	for _, fn := range observers {
		fn(env)
	}
}
