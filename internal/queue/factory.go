package queue

// Type identifies a queue implementation
type Type string

const (
	TypeEmbedded Type = "embedded" // Embedded NATS, the dev/single-node default
	TypeNATS     Type = "nats"     // External NATS
	TypeSQS      Type = "sqs"      // AWS SQS
)

// Factory inspects queue configuration so binaries can decide which
// implementation to construct.
type Factory struct {
	config *Config
}

// NewFactory creates a new queue factory
func NewFactory(cfg *Config) *Factory {
	return &Factory{config: cfg}
}

// Type returns the configured queue type
func (f *Factory) Type() Type {
	if f.config.Type == "" {
		return TypeEmbedded
	}
	return Type(f.config.Type)
}

// IsEmbedded returns true if using embedded NATS
func (f *Factory) IsEmbedded() bool {
	return f.Type() == TypeEmbedded
}

// IsNATS returns true if using external NATS
func (f *Factory) IsNATS() bool {
	return f.Type() == TypeNATS
}

// IsSQS returns true if using AWS SQS
func (f *Factory) IsSQS() bool {
	return f.Type() == TypeSQS
}

// Config returns the queue configuration
func (f *Factory) Config() *Config {
	return f.config
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() *Config {
	return &Config{
		Type:    string(TypeEmbedded),
		DataDir: "./data/nats",
		NATS: NATSConfig{
			StreamName:   "DISPATCH",
			ConsumerName: "dispatch-router",
			Subjects:     []string{"dispatch.>"},
		},
		SQS: SQSConfig{
			WaitTimeSeconds:     20,
			VisibilityTimeout:   120,
			MaxNumberOfMessages: 10,
		},
	}
}
