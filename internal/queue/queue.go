// Package queue provides the message queue abstraction between the
// dispatch scheduler (producer side) and the message router (consumer
// side). Implementations exist for NATS JetStream (external or embedded)
// and AWS SQS.
package queue

import (
	"context"
	"time"
)

// Message represents a message received from a queue
type Message interface {
	// ID returns the broker's unique message identifier
	ID() string

	// Data returns the message payload
	Data() []byte

	// Subject returns the message subject/topic
	Subject() string

	// MessageGroup returns the message group for ordered processing
	MessageGroup() string

	// Ack acknowledges successful processing
	Ack() error

	// Nak signals processing failure (will be redelivered)
	Nak() error

	// NakWithDelay signals failure with a delay before redelivery
	NakWithDelay(delay time.Duration) error

	// InProgress extends the processing deadline
	InProgress() error

	// Metadata returns message metadata
	Metadata() map[string]string
}

// ReceiptHandleUpdatable is an optional interface for messages whose
// delivery receipt can go stale. SQS receipt handles expire; when a
// redelivery of an in-flight message arrives, the pipeline swaps in the
// fresh handle so the eventual Ack/Nak still works.
type ReceiptHandleUpdatable interface {
	// UpdateReceiptHandle replaces the receipt handle after a redelivery
	UpdateReceiptHandle(newReceiptHandle string)

	// GetReceiptHandle returns the current receipt handle
	GetReceiptHandle() string
}

// Publisher publishes messages to a queue
type Publisher interface {
	// Publish sends a message to the specified subject
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishWithGroup sends a message with a message group for ordered
	// processing
	PublishWithGroup(ctx context.Context, subject string, data []byte, messageGroup string) error

	// PublishWithDeduplication sends a message with a broker-side
	// deduplication ID
	PublishWithDeduplication(ctx context.Context, subject string, data []byte, deduplicationID string) error

	// Close closes the publisher
	Close() error
}

// Consumer consumes messages from a queue
type Consumer interface {
	// Consume starts consuming messages and calls the handler for each.
	// Blocks until the context is cancelled or an error occurs.
	Consume(ctx context.Context, handler func(Message) error) error

	// Close closes the consumer
	Close() error
}

// Queue combines Publisher and Consumer
type Queue interface {
	Publisher
	Consumer
}

// Config holds queue configuration
type Config struct {
	// Type is the queue implementation: "embedded", "nats", "sqs"
	Type string

	// DataDir is the JetStream storage directory for embedded NATS
	DataDir string

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds NATS-specific configuration
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// StreamName is the JetStream stream name
	StreamName string

	// ConsumerName is the durable consumer name
	ConsumerName string

	// Subjects is the list of subjects the stream captures
	Subjects []string

	// MaxPending is the maximum number of unacknowledged messages
	MaxPending int

	// AckWait is the time to wait for message acknowledgment
	AckWait time.Duration

	// MaxDeliver is the maximum number of delivery attempts
	MaxDeliver int

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration
}

// SQSConfig holds AWS SQS-specific configuration
type SQSConfig struct {
	// QueueURL is the SQS queue URL
	QueueURL string

	// Region is the AWS region
	Region string

	// Endpoint overrides the SQS endpoint (LocalStack)
	Endpoint string

	// WaitTimeSeconds is the long-polling wait time (max 20)
	WaitTimeSeconds int32

	// VisibilityTimeout is the visibility timeout in seconds
	VisibilityTimeout int32

	// MaxNumberOfMessages is the max messages per receive (1-10)
	MaxNumberOfMessages int32
}
