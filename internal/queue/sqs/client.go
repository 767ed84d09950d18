// Package sqs implements the queue abstraction on AWS SQS. FIFO queues
// carry the message group; standard queues work but lose ordering.
package sqs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"log/slog"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/queue"
)

const queueType = "sqs"

// SQSClientAPI defines the interface for SQS client operations (for testing)
type SQSClientAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Visibility timeout bounds in seconds
const (
	FastFailVisibilitySeconds = 10    // Rate limited or pool full
	DefaultVisibilitySeconds  = 30    // Real processing failure
	MaxVisibilitySeconds      = 43200 // SQS maximum (12 hours)
)

// Client provides AWS SQS queue operations
type Client struct {
	sqs       SQSClientAPI
	config    *queue.SQSConfig
	consumers map[string]*Consumer
	mu        sync.RWMutex
}

// NewClient creates a new SQS client. When cfg.Endpoint is set the client
// targets that endpoint with static credentials (LocalStack).
func NewClient(ctx context.Context, cfg *queue.SQSConfig) (*Client, error) {
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = 20 // Long polling (SQS max)
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 120
	}
	if cfg.MaxNumberOfMessages == 0 {
		cfg.MaxNumberOfMessages = 10 // SQS max per batch
	}

	if cfg.Endpoint != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				"test", "test", "",
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})

		return &Client{
			sqs:       sqsClient,
			config:    cfg,
			consumers: make(map[string]*Consumer),
		}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		sqs:       sqs.NewFromConfig(awsCfg),
		config:    cfg,
		consumers: make(map[string]*Consumer),
	}, nil
}

// NewClientWithAPI creates a client around an existing SQS API implementation.
// Used by tests to inject a mock.
func NewClientWithAPI(api SQSClientAPI, cfg *queue.SQSConfig) *Client {
	return &Client{
		sqs:       api,
		config:    cfg,
		consumers: make(map[string]*Consumer),
	}
}

// Publisher returns an SQS publisher for the configured queue
func (c *Client) Publisher() queue.Publisher {
	return &Publisher{
		client:   c.sqs,
		queueURL: c.config.QueueURL,
	}
}

// CreateConsumer creates a new consumer. The filterSubject parameter exists
// for parity with the NATS client and is ignored; SQS has no subject filter.
func (c *Client) CreateConsumer(ctx context.Context, name, filterSubject string) (*Consumer, error) {
	consumer := &Consumer{
		client:              c.sqs,
		queueURL:            c.config.QueueURL,
		name:                name,
		waitTimeSeconds:     c.config.WaitTimeSeconds,
		visibilityTimeout:   c.config.VisibilityTimeout,
		maxNumberOfMessages: c.config.MaxNumberOfMessages,
		pendingDeletes:      make(map[string]struct{}),
	}

	c.mu.Lock()
	c.consumers[name] = consumer
	c.mu.Unlock()

	slog.Info("SQS consumer created", "name", name, "queueURL", c.config.QueueURL, "maxMessages", c.config.MaxNumberOfMessages, "waitTime", c.config.WaitTimeSeconds)

	return consumer, nil
}

// GetConsumer returns an existing consumer by name
func (c *Client) GetConsumer(name string) *Consumer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consumers[name]
}

// Connection returns the underlying SQS client for health checks
func (c *Client) Connection() SQSClientAPI {
	return c.sqs
}

// QueueURL returns the configured queue URL
func (c *Client) QueueURL() string {
	return c.config.QueueURL
}

// HealthCheck verifies that the SQS queue is accessible
func (c *Client) HealthCheck(ctx context.Context) error {
	input := &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	}

	_, err := c.sqs.GetQueueAttributes(ctx, input)
	return err
}

// Close closes the client and all consumers
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, consumer := range c.consumers {
		if err := consumer.Close(); err != nil {
			slog.Error("Error closing consumer", "error", err, "consumer", name)
		}
	}
	c.consumers = make(map[string]*Consumer)

	return nil
}

// Publisher publishes messages to SQS
type Publisher struct {
	client   SQSClientAPI
	queueURL string
}

// Publish sends a message to the queue
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(data)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Subject": {
				DataType:    aws.String("String"),
				StringValue: aws.String(subject),
			},
		},
	}

	_, err := p.client.SendMessage(ctx, input)
	if err != nil {
		metrics.QueuePublishErrors.WithLabelValues(queueType).Inc()
		return fmt.Errorf("failed to send SQS message: %w", err)
	}
	metrics.QueueMessagesPublished.WithLabelValues(queueType).Inc()
	return nil
}

// PublishWithGroup sends a message with a message group for FIFO queues
func (p *Publisher) PublishWithGroup(ctx context.Context, subject string, data []byte, messageGroup string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:       aws.String(p.queueURL),
		MessageBody:    aws.String(string(data)),
		MessageGroupId: aws.String(messageGroup),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Subject": {
				DataType:    aws.String("String"),
				StringValue: aws.String(subject),
			},
		},
	}

	_, err := p.client.SendMessage(ctx, input)
	if err != nil {
		metrics.QueuePublishErrors.WithLabelValues(queueType).Inc()
		return fmt.Errorf("failed to send SQS message with group: %w", err)
	}
	metrics.QueueMessagesPublished.WithLabelValues(queueType).Inc()
	return nil
}

// PublishWithDeduplication sends a message with a deduplication ID for FIFO
// queues
func (p *Publisher) PublishWithDeduplication(ctx context.Context, subject string, data []byte, deduplicationID string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:               aws.String(p.queueURL),
		MessageBody:            aws.String(string(data)),
		MessageDeduplicationId: aws.String(deduplicationID),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Subject": {
				DataType:    aws.String("String"),
				StringValue: aws.String(subject),
			},
		},
	}

	_, err := p.client.SendMessage(ctx, input)
	if err != nil {
		metrics.QueuePublishErrors.WithLabelValues(queueType).Inc()
		return fmt.Errorf("failed to send SQS message with deduplication: %w", err)
	}
	metrics.QueueMessagesPublished.WithLabelValues(queueType).Inc()
	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	return nil
}

// Consumer consumes messages from SQS
type Consumer struct {
	client              SQSClientAPI
	queueURL            string
	name                string
	waitTimeSeconds     int32
	visibilityTimeout   int32
	maxNumberOfMessages int32

	// SQS message IDs that were processed but whose delete failed because
	// the receipt handle had expired. When they reappear, delete immediately.
	pendingDeletes   map[string]struct{}
	pendingDeletesMu sync.RWMutex

	running bool
	mu      sync.Mutex
}

// Consume starts consuming messages and calls the handler for each
func (c *Consumer) Consume(ctx context.Context, handler func(queue.Message) error) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	slog.Info("Starting SQS consumer", "consumer", c.name, "queueURL", c.queueURL)

	for {
		select {
		case <-ctx.Done():
			slog.Info("SQS consumer context cancelled, stopping", "consumer", c.name)
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return ctx.Err()
		default:
			c.mu.Lock()
			running := c.running
			c.mu.Unlock()
			if !running {
				slog.Info("SQS consumer stopped", "consumer", c.name)
				return nil
			}

			batchSize, err := c.pollMessages(ctx, handler)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("Error polling SQS messages", "error", err, "consumer", c.name)
				time.Sleep(time.Second)
				continue
			}

			// Adaptive delay: empty batch means the queue is likely empty,
			// partial batch allows accumulation, full batch keeps going.
			if batchSize == 0 {
				time.Sleep(time.Second)
			} else if batchSize < int(c.maxNumberOfMessages) {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// pollMessages receives and processes a batch of messages
func (c *Consumer) pollMessages(ctx context.Context, handler func(queue.Message) error) (int, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.maxNumberOfMessages,
		WaitTimeSeconds:       c.waitTimeSeconds,
		VisibilityTimeout:     c.visibilityTimeout,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{"All"},
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}

	processedCount := 0
	for _, msg := range result.Messages {
		sqsMessageID := aws.ToString(msg.MessageId)

		c.pendingDeletesMu.RLock()
		_, isPendingDelete := c.pendingDeletes[sqsMessageID]
		c.pendingDeletesMu.RUnlock()

		if isPendingDelete {
			slog.Info("SQS message was previously processed, deleting now", "sqsMessageId", sqsMessageID)

			if err := c.deleteMessage(ctx, msg.ReceiptHandle); err != nil {
				slog.Warn("Failed to delete previously processed message", "error", err, "sqsMessageId", sqsMessageID)
			} else {
				c.pendingDeletesMu.Lock()
				delete(c.pendingDeletes, sqsMessageID)
				c.pendingDeletesMu.Unlock()
			}
			continue
		}

		metrics.QueueMessagesConsumed.WithLabelValues(queueType).Inc()

		wrapped := &SQSMessage{
			msg:               &msg,
			client:            c.client,
			queueURL:          c.queueURL,
			sqsMessageID:      sqsMessageID,
			receiptHandle:     aws.ToString(msg.ReceiptHandle),
			visibilityTimeout: c.visibilityTimeout,
			consumer:          c,
		}

		if err := handler(wrapped); err != nil {
			slog.Error("Message handler error", "error", err, "messageId", sqsMessageID, "consumer", c.name)
		}

		processedCount++
	}

	return processedCount, nil
}

// deleteMessage deletes a message from the queue
func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle *string) error {
	if receiptHandle == nil {
		return nil
	}

	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	}

	_, err := c.client.DeleteMessage(ctx, input)
	return err
}

// markForDeletion adds a message ID to the pending delete set
func (c *Consumer) markForDeletion(sqsMessageID string) {
	c.pendingDeletesMu.Lock()
	c.pendingDeletes[sqsMessageID] = struct{}{}
	c.pendingDeletesMu.Unlock()
	slog.Info("SQS message marked for deletion on next poll", "sqsMessageId", sqsMessageID)
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Close closes the consumer
func (c *Consumer) Close() error {
	c.Stop()
	slog.Info("SQS consumer closed", "consumer", c.name)
	return nil
}

// SQSMessage wraps an SQS message with visibility control
type SQSMessage struct {
	msg               *types.Message
	client            SQSClientAPI
	queueURL          string
	sqsMessageID      string
	receiptHandle     string
	visibilityTimeout int32
	consumer          *Consumer
}

// ID returns the SQS message ID
func (m *SQSMessage) ID() string {
	return m.sqsMessageID
}

// Data returns the message payload
func (m *SQSMessage) Data() []byte {
	if m.msg.Body != nil {
		return []byte(*m.msg.Body)
	}
	return nil
}

// Subject returns the message subject from attributes
func (m *SQSMessage) Subject() string {
	if attr, ok := m.msg.MessageAttributes["Subject"]; ok {
		if attr.StringValue != nil {
			return *attr.StringValue
		}
	}
	return ""
}

// MessageGroup returns the message group ID
func (m *SQSMessage) MessageGroup() string {
	if m.msg.Attributes != nil {
		if group, ok := m.msg.Attributes["MessageGroupId"]; ok {
			return group
		}
	}
	return ""
}

// Ack acknowledges successful processing by deleting the message
func (m *SQSMessage) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.queueURL),
		ReceiptHandle: aws.String(m.receiptHandle),
	}

	_, err := m.client.DeleteMessage(ctx, input)
	if err != nil {
		if isReceiptHandleExpiredError(err) {
			m.consumer.markForDeletion(m.sqsMessageID)
			slog.Info("Receipt handle expired, marked for deletion on next poll", "sqsMessageId", m.sqsMessageID)
			return nil
		}
		return fmt.Errorf("failed to delete SQS message: %w", err)
	}

	slog.Debug("SQS message deleted successfully", "sqsMessageId", m.sqsMessageID)
	return nil
}

// Nak signals processing failure. For SQS this is a no-op: the message
// becomes visible again when the visibility timeout expires.
func (m *SQSMessage) Nak() error {
	slog.Debug("SQS NACK, message will become visible after visibility timeout", "sqsMessageId", m.sqsMessageID)
	return nil
}

// NakWithDelay signals failure with a custom visibility delay before redelivery
func (m *SQSMessage) NakWithDelay(delay time.Duration) error {
	seconds := int32(delay.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	if seconds > MaxVisibilitySeconds {
		seconds = MaxVisibilitySeconds
	}
	return m.changeVisibility(seconds)
}

// InProgress extends the processing deadline
func (m *SQSMessage) InProgress() error {
	return m.changeVisibility(m.visibilityTimeout)
}

// SetFastFailVisibility shortens visibility for rate limit retries
func (m *SQSMessage) SetFastFailVisibility() error {
	return m.changeVisibility(FastFailVisibilitySeconds)
}

// ResetVisibilityToDefault resets visibility for real processing failures
func (m *SQSMessage) ResetVisibilityToDefault() error {
	return m.changeVisibility(DefaultVisibilitySeconds)
}

// ExtendVisibility extends the visibility timeout
func (m *SQSMessage) ExtendVisibility(seconds int32) error {
	if seconds < 0 {
		seconds = 0
	}
	if seconds > MaxVisibilitySeconds {
		seconds = MaxVisibilitySeconds
	}
	return m.changeVisibility(seconds)
}

// changeVisibility changes the message visibility timeout
func (m *SQSMessage) changeVisibility(timeout int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(m.queueURL),
		ReceiptHandle:     aws.String(m.receiptHandle),
		VisibilityTimeout: timeout,
	}

	_, err := m.client.ChangeMessageVisibility(ctx, input)
	if err != nil {
		if isReceiptHandleExpiredError(err) {
			slog.Debug("Receipt handle expired, cannot change visibility", "sqsMessageId", m.sqsMessageID)
			return nil
		}
		return fmt.Errorf("failed to change message visibility: %w", err)
	}

	slog.Debug("Changed message visibility", "sqsMessageId", m.sqsMessageID, "timeout", timeout)
	return nil
}

// UpdateReceiptHandle replaces the receipt handle after a redelivery
func (m *SQSMessage) UpdateReceiptHandle(newReceiptHandle string) {
	slog.Info("Updating receipt handle due to redelivery", "sqsMessageId", m.sqsMessageID)
	m.receiptHandle = newReceiptHandle
}

// GetReceiptHandle returns the current receipt handle
func (m *SQSMessage) GetReceiptHandle() string {
	return m.receiptHandle
}

// Metadata returns message metadata
func (m *SQSMessage) Metadata() map[string]string {
	result := make(map[string]string)
	for k, v := range m.msg.MessageAttributes {
		if v.StringValue != nil {
			result[k] = *v.StringValue
		}
	}
	return result
}

func isReceiptHandleExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "receipt handle has expired") ||
		strings.Contains(errStr, "ReceiptHandleIsInvalid")
}
