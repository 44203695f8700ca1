package invalidation

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of invalidation a message carries.
type MessageType string

const (
	// MessageTable invalidates one or more tables by name.
	MessageTable MessageType = "Table"
	// MessagePattern invalidates keys matching a glob pattern.
	MessagePattern MessageType = "Pattern"
	// MessageBatch invalidates several tables as one batch operation.
	MessageBatch MessageType = "Batch"
)

// Message is the body of a distributed invalidation.
type Message struct {
	Type          MessageType `json:"type"`
	TableNames    []string    `json:"tableNames,omitempty"`
	Pattern       string      `json:"pattern,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// Envelope is the wire wrapper around a Message. The source instance ID is
// what lets a node discard its own broadcasts.
type Envelope struct {
	SourceInstanceID string    `json:"sourceInstanceId"`
	Message          Message   `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewTableMessage builds a single-table invalidation message.
func NewTableMessage(tableName string) Message {
	return Message{
		Type:          MessageTable,
		TableNames:    []string{tableName},
		CorrelationID: uuid.NewString(),
	}
}

// NewPatternMessage builds a pattern invalidation message.
func NewPatternMessage(pattern string) Message {
	return Message{
		Type:          MessagePattern,
		Pattern:       pattern,
		CorrelationID: uuid.NewString(),
	}
}

// NewBatchMessage builds a batch invalidation message.
func NewBatchMessage(tableNames []string) Message {
	return Message{
		Type:          MessageBatch,
		TableNames:    tableNames,
		CorrelationID: uuid.NewString(),
	}
}
