package nats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"log/slog"

	"go.flowcatalyst.tech/dispatch/internal/queue"
)

// EmbeddedServer wraps an in-process NATS server with JetStream. This is
// the default broker for single-node deployments: no external
// infrastructure, file-backed stream under DataDir.
type EmbeddedServer struct {
	server    *server.Server
	conn      *nats.Conn
	js        jetstream.JetStream
	dataDir   string
	port      int
	publisher *Publisher
}

// EmbeddedConfig holds configuration for the embedded NATS server
type EmbeddedConfig struct {
	// DataDir is the directory for JetStream data persistence
	DataDir string

	// Host is the bind address (default: 127.0.0.1)
	Host string

	// Port is the server port (default: 4222)
	Port int

	// StreamName is the JetStream stream name
	StreamName string

	// Subjects is the list of subjects for the stream
	Subjects []string

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration

	// ConsumerName is the durable consumer name
	ConsumerName string
}

// DefaultEmbeddedConfig returns default embedded server configuration
func DefaultEmbeddedConfig() *EmbeddedConfig {
	return &EmbeddedConfig{
		DataDir:      "./data/nats",
		Host:         "127.0.0.1",
		Port:         4222,
		StreamName:   "DISPATCH",
		Subjects:     []string{"dispatch.>"},
		MaxAge:       24 * time.Hour,
		ConsumerName: "dispatch-router",
	}
}

// NewEmbeddedServer creates and starts a new embedded NATS server
func NewEmbeddedServer(cfg *EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg == nil {
		cfg = DefaultEmbeddedConfig()
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := &server.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.DataDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server failed to start within timeout")
	}

	slog.Info("Embedded NATS server started", "host", cfg.Host, "port", cfg.Port, "dataDir", cfg.DataDir)

	url := fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	embedded := &EmbeddedServer{
		server:  ns,
		conn:    conn,
		js:      js,
		dataDir: cfg.DataDir,
		port:    cfg.Port,
	}

	if err := embedded.ensureStream(context.Background(), cfg); err != nil {
		embedded.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	embedded.publisher = NewPublisher(js, cfg.StreamName)

	slog.Info("JetStream stream configured", "stream", cfg.StreamName, "subjects", cfg.Subjects)

	return embedded, nil
}

// ensureStream creates or updates the work-queue stream. WorkQueuePolicy
// removes a message once its consumer acknowledges it.
func (e *EmbeddedServer) ensureStream(ctx context.Context, cfg *EmbeddedConfig) error {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.Subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    cfg.MaxAge,
		Replicas:  1,
		Discard:   jetstream.DiscardOld,
		MaxMsgs:   -1,
		MaxBytes:  -1,
		NoAck:     false,
	}

	_, err := e.js.Stream(ctx, cfg.StreamName)
	if err != nil {
		_, err = e.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		slog.Info("Created JetStream stream", "stream", cfg.StreamName)
	} else {
		_, err = e.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
		slog.Info("Updated JetStream stream", "stream", cfg.StreamName)
	}

	return nil
}

// CreateConsumer creates a durable consumer for the given subject pattern
func (e *EmbeddedServer) CreateConsumer(ctx context.Context, name, filterSubject string, cfg *queue.NATSConfig) (*Consumer, error) {
	ackWait := 2 * time.Minute
	if cfg != nil && cfg.AckWait > 0 {
		ackWait = cfg.AckWait
	}

	maxDeliver := 5
	if cfg != nil && cfg.MaxDeliver > 0 {
		maxDeliver = cfg.MaxDeliver
	}

	consumerCfg := jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: 1000,
	}

	streamName := "DISPATCH"
	if cfg != nil && cfg.StreamName != "" {
		streamName = cfg.StreamName
	}

	stream, err := e.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return NewConsumer(consumer, name), nil
}

// Publisher returns the embedded server's publisher
func (e *EmbeddedServer) Publisher() queue.Publisher {
	return e.publisher
}

// JetStream returns the JetStream context
func (e *EmbeddedServer) JetStream() jetstream.JetStream {
	return e.js
}

// Connection returns the NATS connection
func (e *EmbeddedServer) Connection() *nats.Conn {
	return e.conn
}

// DataDir returns the data directory
func (e *EmbeddedServer) DataDir() string {
	return e.dataDir
}

// Port returns the server port
func (e *EmbeddedServer) Port() int {
	return e.port
}

// Close shuts down the embedded server
func (e *EmbeddedServer) Close() error {
	slog.Info("Shutting down embedded NATS server")

	if e.conn != nil {
		e.conn.Close()
	}

	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}

	// A crashed process can leave the JetStream lock behind
	lockFile := filepath.Join(e.dataDir, "jetstream", "lock.lck")
	if _, err := os.Stat(lockFile); err == nil {
		os.Remove(lockFile)
	}

	slog.Info("Embedded NATS server shut down")
	return nil
}
