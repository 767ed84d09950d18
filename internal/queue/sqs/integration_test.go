//go:build integration

// Integration tests that require Docker and LocalStack.
package sqs

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/queue"
	"go.flowcatalyst.tech/dispatch/internal/queue/sqs/testutil"
)

// TestSQSIntegration_PublishAndConsume tests basic message publishing and consumption
func TestSQSIntegration_PublishAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateQueue(ctx, "test-queue")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1, // Short wait for tests
		VisibilityTimeout:   30,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	publisher := client.Publisher()
	testData := `{"test": "data", "value": 123}`
	err = publisher.Publish(ctx, "test.subject", []byte(testData))
	if err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	consumer, err := client.CreateConsumer(ctx, "test-consumer", "")
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}

	received := make(chan queue.Message, 1)
	consumeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	go func() {
		consumer.Consume(consumeCtx, func(msg queue.Message) error {
			received <- msg
			return msg.Ack()
		})
	}()

	select {
	case msg := <-received:
		if string(msg.Data()) != testData {
			t.Errorf("Unexpected message data: got %s, want %s", msg.Data(), testData)
		}
		if msg.Subject() != "test.subject" {
			t.Errorf("Unexpected subject: got %s, want test.subject", msg.Subject())
		}
	case <-consumeCtx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

// TestSQSIntegration_FIFOQueue tests FIFO queue message ordering
func TestSQSIntegration_FIFOQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateFIFOQueue(ctx, "test-fifo-queue")
	if err != nil {
		t.Fatalf("Failed to create FIFO queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1,
		VisibilityTimeout:   30,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	// Publish ordered messages within a single message group
	publisher := client.Publisher().(*Publisher)
	messageGroup := "order-group-1"
	messages := []string{"first", "second", "third", "fourth", "fifth"}

	for _, msg := range messages {
		err = publisher.PublishWithGroup(ctx, "order.test", []byte(msg), messageGroup)
		if err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}

	consumer, err := client.CreateConsumer(ctx, "fifo-consumer", "")
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}

	var received []string
	var mu sync.Mutex

	consumeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	go func() {
		consumer.Consume(consumeCtx, func(msg queue.Message) error {
			mu.Lock()
			received = append(received, string(msg.Data()))
			mu.Unlock()
			return msg.Ack()
		})
	}()

	deadline := time.After(10 * time.Second)
	for {
		mu.Lock()
		count := len(received)
		mu.Unlock()
		if count >= len(messages) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Timeout: received only %d/%d messages", count, len(messages))
		case <-time.After(100 * time.Millisecond):
		}
	}

	// FIFO guarantees order within a message group
	mu.Lock()
	defer mu.Unlock()
	for i, expected := range messages {
		if received[i] != expected {
			t.Errorf("Message %d: got %s, want %s", i, received[i], expected)
		}
	}
}

// TestSQSIntegration_VisibilityTimeout tests message redelivery after visibility timeout
func TestSQSIntegration_VisibilityTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateQueue(ctx, "visibility-test-queue")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1,
		VisibilityTimeout:   2, // Very short for testing
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	publisher := client.Publisher()
	err = publisher.Publish(ctx, "visibility.test", []byte("test-message"))
	if err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	consumer, err := client.CreateConsumer(ctx, "visibility-consumer", "")
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}

	deliveryCount := 0
	var mu sync.Mutex

	consumeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	go func() {
		consumer.Consume(consumeCtx, func(msg queue.Message) error {
			mu.Lock()
			deliveryCount++
			count := deliveryCount
			mu.Unlock()

			if count == 1 {
				// First delivery: NAK to trigger redelivery
				return msg.Nak()
			}
			return msg.Ack()
		})
	}()

	deadline := time.After(10 * time.Second)
	for {
		mu.Lock()
		count := deliveryCount
		mu.Unlock()
		if count >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Timeout waiting for redelivery, got %d deliveries", count)
		case <-time.After(100 * time.Millisecond):
		}
	}

	mu.Lock()
	if deliveryCount < 2 {
		t.Errorf("Expected at least 2 deliveries, got %d", deliveryCount)
	}
	mu.Unlock()
}

// TestSQSIntegration_MessageAttributes tests message metadata/attributes
func TestSQSIntegration_MessageAttributes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateQueue(ctx, "attributes-test-queue")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1,
		VisibilityTimeout:   30,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	publisher := client.Publisher()
	testSubject := "custom.subject.test"
	err = publisher.Publish(ctx, testSubject, []byte("attribute-test"))
	if err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	consumer, err := client.CreateConsumer(ctx, "attributes-consumer", "")
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}

	received := make(chan queue.Message, 1)
	consumeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	go func() {
		consumer.Consume(consumeCtx, func(msg queue.Message) error {
			received <- msg
			return msg.Ack()
		})
	}()

	select {
	case msg := <-received:
		if msg.Subject() != testSubject {
			t.Errorf("Subject mismatch: got %s, want %s", msg.Subject(), testSubject)
		}

		metadata := msg.Metadata()
		if metadata["Subject"] != testSubject {
			t.Errorf("Metadata Subject mismatch: got %s, want %s", metadata["Subject"], testSubject)
		}

		if msg.ID() == "" {
			t.Error("Message ID should not be empty")
		}
	case <-consumeCtx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

// TestSQSIntegration_Deduplication tests FIFO queue deduplication
func TestSQSIntegration_Deduplication(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateFIFOQueueWithDeduplication(ctx, "dedup-test-queue")
	if err != nil {
		t.Fatalf("Failed to create FIFO queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1,
		VisibilityTimeout:   30,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	publisher := client.Publisher().(*Publisher)
	deduplicationID := "unique-dedup-id-123"

	// Same deduplication ID three times: only one delivery expected
	for i := 0; i < 3; i++ {
		err = publisher.PublishWithDeduplication(ctx, "dedup.test", []byte("duplicate-message"), deduplicationID)
		if err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}

	err = publisher.PublishWithDeduplication(ctx, "dedup.test", []byte("unique-message"), "different-dedup-id")
	if err != nil {
		t.Fatalf("Failed to publish unique message: %v", err)
	}

	consumer, err := client.CreateConsumer(ctx, "dedup-consumer", "")
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}

	var receivedMessages []string
	var mu sync.Mutex

	consumeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	go func() {
		consumer.Consume(consumeCtx, func(msg queue.Message) error {
			mu.Lock()
			receivedMessages = append(receivedMessages, string(msg.Data()))
			mu.Unlock()
			return msg.Ack()
		})
	}()

	time.Sleep(5 * time.Second)

	mu.Lock()
	count := len(receivedMessages)
	mu.Unlock()

	if count != 2 {
		t.Errorf("Expected 2 messages (1 deduplicated + 1 unique), got %d", count)
	}
}

// TestSQSIntegration_HealthCheck tests the health check functionality
func TestSQSIntegration_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateQueue(ctx, "health-test-queue")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1,
		VisibilityTimeout:   30,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	err = client.HealthCheck(ctx)
	if err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}

// TestSQSIntegration_MultipleConsumers tests multiple consumers on the same queue
func TestSQSIntegration_MultipleConsumers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	ls, err := testutil.StartLocalStack(ctx, t)
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer ls.Terminate(ctx)

	queueURL, err := ls.CreateQueue(ctx, "multi-consumer-queue")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	client, err := NewClient(ctx, &queue.SQSConfig{
		QueueURL:            queueURL,
		Region:              "us-east-1",
		Endpoint:            ls.Endpoint,
		WaitTimeSeconds:     1,
		VisibilityTimeout:   30,
		MaxNumberOfMessages: 5,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	publisher := client.Publisher()
	for i := 0; i < 20; i++ {
		err = publisher.Publish(ctx, "multi.test", []byte(`{"index": `+string(rune('0'+i%10))+`}`))
		if err != nil {
			t.Fatalf("Failed to publish message %d: %v", i, err)
		}
	}

	var consumers []*Consumer
	for i := 0; i < 3; i++ {
		consumer, err := client.CreateConsumer(ctx, "consumer-"+string(rune('A'+i)), "")
		if err != nil {
			t.Fatalf("Failed to create consumer %d: %v", i, err)
		}
		consumers = append(consumers, consumer)
	}

	receivedCount := 0
	var mu sync.Mutex

	consumeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	for _, consumer := range consumers {
		go func(c *Consumer) {
			c.Consume(consumeCtx, func(msg queue.Message) error {
				mu.Lock()
				receivedCount++
				mu.Unlock()
				return msg.Ack()
			})
		}(consumer)
	}

	deadline := time.After(15 * time.Second)
	for {
		mu.Lock()
		count := receivedCount
		mu.Unlock()
		if count >= 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Timeout: received only %d/20 messages", count)
		case <-time.After(100 * time.Millisecond):
		}
	}

	mu.Lock()
	if receivedCount != 20 {
		t.Errorf("Expected 20 messages, got %d", receivedCount)
	}
	mu.Unlock()
}
