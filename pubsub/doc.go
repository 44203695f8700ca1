// Package pubsub provides the publish/subscribe transport the distributed
// invalidation protocol runs over.
//
// It provides a minimal Transport interface with a Redis implementation for
// fleet-wide fan-out and an in-process implementation for single-node use
// and tests. Delivery is at-least-once; consumers must tolerate duplicates
// and reordering.
package pubsub
