package nats

import (
	"testing"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/queue"
)

func TestNewPublisher(t *testing.T) {
	// No NATS connection needed to verify construction
	publisher := NewPublisher(nil, "TEST")

	if publisher == nil {
		t.Fatal("NewPublisher returned nil")
	}
	if publisher.stream != "TEST" {
		t.Errorf("Expected stream 'TEST', got '%s'", publisher.stream)
	}
	if err := publisher.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestNewConsumer(t *testing.T) {
	consumer := NewConsumer(nil, "test-consumer")

	if consumer == nil {
		t.Fatal("NewConsumer returned nil")
	}
	if consumer.name != "test-consumer" {
		t.Errorf("Expected name 'test-consumer', got '%s'", consumer.name)
	}
	if err := consumer.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestDefaultEmbeddedConfig(t *testing.T) {
	cfg := DefaultEmbeddedConfig()

	if cfg.StreamName != "DISPATCH" {
		t.Errorf("Expected stream 'DISPATCH', got '%s'", cfg.StreamName)
	}
	if len(cfg.Subjects) != 1 || cfg.Subjects[0] != "dispatch.>" {
		t.Errorf("Expected subjects [dispatch.>], got %v", cfg.Subjects)
	}
	if cfg.ConsumerName != "dispatch-router" {
		t.Errorf("Expected consumer 'dispatch-router', got '%s'", cfg.ConsumerName)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 4222 {
		t.Errorf("Unexpected bind address %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.MaxAge != 24*time.Hour {
		t.Errorf("Expected max age 24h, got %v", cfg.MaxAge)
	}
}

func TestQueueInterfaceCompliance(t *testing.T) {
	var _ queue.Publisher = (*Publisher)(nil)
	var _ queue.Consumer = (*Consumer)(nil)
	var _ queue.Message = (*NATSMessage)(nil)
}
