// Package config loads dispatch service configuration from environment
// variables, optionally pre-populated from a TOML file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dispatch service
type Config struct {
	// HTTP server configuration (monitoring + processing endpoints)
	HTTP HTTPConfig

	// MongoDB configuration
	MongoDB MongoDBConfig

	// Queue configuration (embedded NATS, remote NATS, or SQS)
	Queue QueueConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Router configuration
	Router RouterConfig

	// Mediator configuration
	Mediator MediatorConfig

	// Leader election configuration
	Leader LeaderConfig

	// Redis configuration (router standby gate)
	Redis RedisConfig

	// Notification configuration (warning email/Teams forwarding)
	Notification NotificationConfig

	// Traffic configuration (load balancer registration on failover)
	Traffic TrafficConfig

	// Secrets provider configuration (webhook signing keys)
	Secrets SecretsConfig

	// Data directory for embedded services
	DataDir string

	// Development mode
	DevMode bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	Type string // "embedded", "nats", "sqs"

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	DataDir string
}

// SQSConfig holds AWS SQS configuration
type SQSConfig struct {
	QueueURL          string
	Region            string
	WaitTimeSeconds   int
	VisibilityTimeout int
}

// SchedulerConfig holds dispatch scheduler configuration
type SchedulerConfig struct {
	// Enabled controls whether this instance runs the scheduler loops
	Enabled bool

	// PollInterval is how often the promote loop runs
	PollInterval time.Duration

	// BatchSize is the maximum jobs promoted per cycle
	BatchSize int64

	// MaxConcurrentPools bounds parallel per-pool dispatch goroutines
	MaxConcurrentPools int

	// StaleThreshold is how long a job may sit QUEUED before recovery
	StaleThreshold time.Duration

	// StaleCheckInterval is how often the recovery loop runs
	StaleCheckInterval time.Duration

	// ProcessingEndpoint is the mediation target published in pointers
	ProcessingEndpoint string

	// AppKey signs per-job auth tokens
	AppKey string
}

// RouterConfig holds message router configuration
type RouterConfig struct {
	// ConfigSyncInterval is how often the pool roster is refreshed
	ConfigSyncInterval time.Duration

	// FailOnInitialSyncError aborts startup when the first sync fails
	FailOnInitialSyncError bool

	// DefaultPoolConcurrency applies when a pool omits concurrency
	DefaultPoolConcurrency int

	// QueueCapacityMultiplier sizes ingress queues relative to concurrency
	QueueCapacityMultiplier int

	// MinQueueCapacity is the ingress queue floor
	MinQueueCapacity int
}

// MediatorConfig holds HTTP mediator configuration
type MediatorConfig struct {
	// Timeout is the ceiling for a single mediation request
	Timeout time.Duration

	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration

	// HTTPVersion selects "HTTP_2" or "HTTP_1_1"
	HTTPVersion string

	// Circuit breaker tuning
	BreakerRequests uint32
	BreakerInterval time.Duration
	BreakerRatio    float64
	BreakerTimeout  time.Duration
}

// LeaderConfig holds leader election configuration
type LeaderConfig struct {
	// Enabled controls whether leader election is active
	Enabled bool

	// Backend selects the lease store: "mongo" (default) or "redis"
	Backend string

	// InstanceID uniquely identifies this instance (defaults to HOSTNAME)
	InstanceID string

	// TTL is how long the lock is valid before expiring
	TTL time.Duration

	// RefreshInterval is how often to refresh the lock while primary
	RefreshInterval time.Duration
}

// RedisConfig holds Redis connection configuration for the standby gate
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NotificationConfig holds warning notification configuration
type NotificationConfig struct {
	// MinSeverity is the lowest severity that is forwarded
	MinSeverity string

	// BatchWindow is how long warnings are collected before a summary goes out
	BatchWindow time.Duration

	// Email notification settings
	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string
	EmailTo      string

	// Teams webhook settings
	TeamsEnabled    bool
	TeamsWebhookURL string
}

// TrafficConfig holds load balancer registration configuration
type TrafficConfig struct {
	// Enabled controls whether instances register with a load balancer on
	// primary/standby transitions
	Enabled bool

	// Strategy selects the registration strategy ("noop")
	Strategy string
}

// SecretsConfig selects and configures the secret provider used to resolve
// webhook signing keys. An empty Provider defers to the secrets package's
// own environment-driven defaults.
type SecretsConfig struct {
	Provider      string
	EncryptionKey string
	DataDir       string

	// AWS Secrets Manager
	AWSRegion   string
	AWSPrefix   string
	AWSEndpoint string

	// HashiCorp Vault
	VaultAddr      string
	VaultPath      string
	VaultNamespace string

	// GCP Secret Manager
	GCPProject string
	GCPPrefix  string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:4200"}),
		},

		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			Database: getEnv("MONGODB_DATABASE", "flowcatalyst"),
		},

		Queue: QueueConfig{
			Type: getEnv("QUEUE_TYPE", "embedded"),
			NATS: NATSConfig{
				URL:     getEnv("NATS_URL", "nats://localhost:4222"),
				DataDir: getEnv("NATS_DATA_DIR", "./data/nats"),
			},
			SQS: SQSConfig{
				QueueURL:          getEnv("SQS_QUEUE_URL", ""),
				Region:            getEnv("AWS_REGION", "us-east-1"),
				WaitTimeSeconds:   getEnvInt("SQS_WAIT_TIME_SECONDS", 20),
				VisibilityTimeout: getEnvInt("SQS_VISIBILITY_TIMEOUT", 120),
			},
		},

		Scheduler: SchedulerConfig{
			Enabled:            getEnvBool("SCHEDULER_ENABLED", true),
			PollInterval:       getEnvDuration("SCHEDULER_POLL_INTERVAL", 5*time.Second),
			BatchSize:          int64(getEnvInt("SCHEDULER_BATCH_SIZE", 100)),
			MaxConcurrentPools: getEnvInt("SCHEDULER_MAX_CONCURRENT_POOLS", 10),
			StaleThreshold:     getEnvDuration("SCHEDULER_STALE_THRESHOLD", 15*time.Minute),
			StaleCheckInterval: getEnvDuration("SCHEDULER_STALE_CHECK_INTERVAL", 60*time.Second),
			ProcessingEndpoint: getEnv("DISPATCH_PROCESSING_ENDPOINT", "http://localhost:8080/api/dispatch/process"),
			AppKey:             getEnv("DISPATCH_APP_KEY", ""),
		},

		Router: RouterConfig{
			ConfigSyncInterval:      getEnvDuration("ROUTER_CONFIG_SYNC_INTERVAL", 5*time.Minute),
			FailOnInitialSyncError:  getEnvBool("ROUTER_FAIL_ON_INITIAL_SYNC_ERROR", false),
			DefaultPoolConcurrency:  getEnvInt("ROUTER_DEFAULT_POOL_CONCURRENCY", 20),
			QueueCapacityMultiplier: getEnvInt("ROUTER_QUEUE_CAPACITY_MULTIPLIER", 2),
			MinQueueCapacity:        getEnvInt("ROUTER_MIN_QUEUE_CAPACITY", 50),
		},

		Mediator: MediatorConfig{
			Timeout:         getEnvDuration("MEDIATOR_TIMEOUT", 900*time.Second),
			ConnectTimeout:  getEnvDuration("MEDIATOR_CONNECT_TIMEOUT", 10*time.Second),
			HTTPVersion:     getEnv("MEDIATOR_HTTP_VERSION", "HTTP_2"),
			BreakerRequests: uint32(getEnvInt("MEDIATOR_BREAKER_REQUESTS", 10)),
			BreakerInterval: getEnvDuration("MEDIATOR_BREAKER_INTERVAL", 60*time.Second),
			BreakerRatio:    getEnvFloat("MEDIATOR_BREAKER_RATIO", 0.5),
			BreakerTimeout:  getEnvDuration("MEDIATOR_BREAKER_TIMEOUT", 5*time.Second),
		},

		Leader: LeaderConfig{
			Enabled:         getEnvBool("LEADER_ELECTION_ENABLED", false),
			Backend:         getEnv("LEADER_BACKEND", "mongo"),
			InstanceID:      getEnv("HOSTNAME", ""),
			TTL:             getEnvDuration("LEADER_TTL", 30*time.Second),
			RefreshInterval: getEnvDuration("LEADER_REFRESH_INTERVAL", 10*time.Second),
		},

		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Notification: NotificationConfig{
			MinSeverity:     getEnv("NOTIFICATION_MIN_SEVERITY", "WARNING"),
			BatchWindow:     getEnvDuration("NOTIFICATION_BATCH_WINDOW", 5*time.Minute),
			EmailEnabled:    getEnvBool("NOTIFICATION_EMAIL_ENABLED", false),
			SMTPHost:        getEnv("NOTIFICATION_SMTP_HOST", ""),
			SMTPPort:        getEnvInt("NOTIFICATION_SMTP_PORT", 587),
			SMTPUsername:    getEnv("NOTIFICATION_SMTP_USERNAME", ""),
			SMTPPassword:    getEnv("NOTIFICATION_SMTP_PASSWORD", ""),
			EmailFrom:       getEnv("NOTIFICATION_EMAIL_FROM", ""),
			EmailTo:         getEnv("NOTIFICATION_EMAIL_TO", ""),
			TeamsEnabled:    getEnvBool("NOTIFICATION_TEAMS_ENABLED", false),
			TeamsWebhookURL: getEnv("NOTIFICATION_TEAMS_WEBHOOK_URL", ""),
		},

		Traffic: TrafficConfig{
			Enabled:  getEnvBool("TRAFFIC_ENABLED", false),
			Strategy: getEnv("TRAFFIC_STRATEGY", "noop"),
		},

		DataDir: getEnv("DATA_DIR", "./data"),
		DevMode: getEnvBool("FLOWCATALYST_DEV", false),
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
