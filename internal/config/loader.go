package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP      TOMLHTTPConfig      `toml:"http"`
	MongoDB   TOMLMongoDBConfig   `toml:"mongodb"`
	Queue     TOMLQueueConfig     `toml:"queue"`
	Scheduler TOMLSchedulerConfig `toml:"scheduler"`
	Router    TOMLRouterConfig    `toml:"router"`
	Mediator  TOMLMediatorConfig  `toml:"mediator"`
	Leader    TOMLLeaderConfig    `toml:"leader"`
	Redis     TOMLRedisConfig     `toml:"redis"`
	Secrets   TOMLSecretsConfig   `toml:"secrets"`
	DataDir   string              `toml:"data_dir"`
	DevMode   bool                `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLMongoDBConfig represents MongoDB configuration in TOML
type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// TOMLQueueConfig represents queue configuration in TOML
type TOMLQueueConfig struct {
	Type string         `toml:"type"`
	NATS TOMLNATSConfig `toml:"nats"`
	SQS  TOMLSQSConfig  `toml:"sqs"`
}

// TOMLNATSConfig represents NATS configuration in TOML
type TOMLNATSConfig struct {
	URL     string `toml:"url"`
	DataDir string `toml:"data_dir"`
}

// TOMLSQSConfig represents SQS configuration in TOML
type TOMLSQSConfig struct {
	QueueURL          string `toml:"queue_url"`
	Region            string `toml:"region"`
	WaitTimeSeconds   int    `toml:"wait_time_seconds"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
}

// TOMLSchedulerConfig represents scheduler configuration in TOML
type TOMLSchedulerConfig struct {
	Enabled            bool   `toml:"enabled"`
	PollInterval       string `toml:"poll_interval"`
	BatchSize          int64  `toml:"batch_size"`
	MaxConcurrentPools int    `toml:"max_concurrent_pools"`
	StaleThreshold     string `toml:"stale_threshold"`
	StaleCheckInterval string `toml:"stale_check_interval"`
	ProcessingEndpoint string `toml:"processing_endpoint"`
	AppKey             string `toml:"app_key"`
}

// TOMLRouterConfig represents router configuration in TOML
type TOMLRouterConfig struct {
	ConfigSyncInterval      string `toml:"config_sync_interval"`
	FailOnInitialSyncError  bool   `toml:"fail_on_initial_sync_error"`
	DefaultPoolConcurrency  int    `toml:"default_pool_concurrency"`
	QueueCapacityMultiplier int    `toml:"queue_capacity_multiplier"`
	MinQueueCapacity        int    `toml:"min_queue_capacity"`
}

// TOMLMediatorConfig represents mediator configuration in TOML
type TOMLMediatorConfig struct {
	Timeout         string  `toml:"timeout"`
	ConnectTimeout  string  `toml:"connect_timeout"`
	HTTPVersion     string  `toml:"http_version"`
	BreakerRequests int     `toml:"breaker_requests"`
	BreakerInterval string  `toml:"breaker_interval"`
	BreakerRatio    float64 `toml:"breaker_ratio"`
	BreakerTimeout  string  `toml:"breaker_timeout"`
}

// TOMLLeaderConfig represents leader election configuration in TOML
type TOMLLeaderConfig struct {
	Enabled         bool   `toml:"enabled"`
	Backend         string `toml:"backend"`
	InstanceID      string `toml:"instance_id"`
	TTL             string `toml:"ttl"`
	RefreshInterval string `toml:"refresh_interval"`
}

// TOMLRedisConfig represents Redis configuration in TOML
type TOMLRedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// TOMLSecretsConfig represents secrets provider configuration in TOML
type TOMLSecretsConfig struct {
	Provider      string `toml:"provider"`
	EncryptionKey string `toml:"encryption_key"`
	DataDir       string `toml:"data_dir"`

	// AWS
	AWSRegion   string `toml:"aws_region"`
	AWSPrefix   string `toml:"aws_prefix"`
	AWSEndpoint string `toml:"aws_endpoint"`

	// Vault
	VaultAddr      string `toml:"vault_addr"`
	VaultPath      string `toml:"vault_path"`
	VaultNamespace string `toml:"vault_namespace"`

	// GCP
	GCPProject string `toml:"gcp_project"`
	GCPPrefix  string `toml:"gcp_prefix"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"dispatch.toml",
	"./config/config.toml",
	"/etc/flowcatalyst/dispatch.toml",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with env vars
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("FLOWCATALYST_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	// No config file, env vars only
	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// File config as base, env vars override
	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		MongoDB: MongoDBConfig{
			URI:      tc.MongoDB.URI,
			Database: tc.MongoDB.Database,
		},
		Queue: QueueConfig{
			Type: tc.Queue.Type,
			NATS: NATSConfig{
				URL:     tc.Queue.NATS.URL,
				DataDir: tc.Queue.NATS.DataDir,
			},
			SQS: SQSConfig{
				QueueURL:          tc.Queue.SQS.QueueURL,
				Region:            tc.Queue.SQS.Region,
				WaitTimeSeconds:   tc.Queue.SQS.WaitTimeSeconds,
				VisibilityTimeout: tc.Queue.SQS.VisibilityTimeout,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:            tc.Scheduler.Enabled,
			BatchSize:          tc.Scheduler.BatchSize,
			MaxConcurrentPools: tc.Scheduler.MaxConcurrentPools,
			ProcessingEndpoint: tc.Scheduler.ProcessingEndpoint,
			AppKey:             tc.Scheduler.AppKey,
		},
		Router: RouterConfig{
			FailOnInitialSyncError:  tc.Router.FailOnInitialSyncError,
			DefaultPoolConcurrency:  tc.Router.DefaultPoolConcurrency,
			QueueCapacityMultiplier: tc.Router.QueueCapacityMultiplier,
			MinQueueCapacity:        tc.Router.MinQueueCapacity,
		},
		Mediator: MediatorConfig{
			HTTPVersion:     tc.Mediator.HTTPVersion,
			BreakerRequests: uint32(tc.Mediator.BreakerRequests),
			BreakerRatio:    tc.Mediator.BreakerRatio,
		},
		Leader: LeaderConfig{
			Enabled:    tc.Leader.Enabled,
			Backend:    tc.Leader.Backend,
			InstanceID: tc.Leader.InstanceID,
		},
		Redis: RedisConfig{
			Enabled:  tc.Redis.Enabled,
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		},
		Secrets: SecretsConfig{
			Provider:       tc.Secrets.Provider,
			EncryptionKey:  tc.Secrets.EncryptionKey,
			DataDir:        tc.Secrets.DataDir,
			AWSRegion:      tc.Secrets.AWSRegion,
			AWSPrefix:      tc.Secrets.AWSPrefix,
			AWSEndpoint:    tc.Secrets.AWSEndpoint,
			VaultAddr:      tc.Secrets.VaultAddr,
			VaultPath:      tc.Secrets.VaultPath,
			VaultNamespace: tc.Secrets.VaultNamespace,
			GCPProject:     tc.Secrets.GCPProject,
			GCPPrefix:      tc.Secrets.GCPPrefix,
		},
		DataDir: tc.DataDir,
		DevMode: tc.DevMode,
	}

	parseDuration := func(s string, out *time.Duration) {
		if s == "" {
			return
		}
		if d, err := time.ParseDuration(s); err == nil {
			*out = d
		}
	}

	parseDuration(tc.Scheduler.PollInterval, &cfg.Scheduler.PollInterval)
	parseDuration(tc.Scheduler.StaleThreshold, &cfg.Scheduler.StaleThreshold)
	parseDuration(tc.Scheduler.StaleCheckInterval, &cfg.Scheduler.StaleCheckInterval)
	parseDuration(tc.Router.ConfigSyncInterval, &cfg.Router.ConfigSyncInterval)
	parseDuration(tc.Mediator.Timeout, &cfg.Mediator.Timeout)
	parseDuration(tc.Mediator.ConnectTimeout, &cfg.Mediator.ConnectTimeout)
	parseDuration(tc.Mediator.BreakerInterval, &cfg.Mediator.BreakerInterval)
	parseDuration(tc.Mediator.BreakerTimeout, &cfg.Mediator.BreakerTimeout)
	parseDuration(tc.Leader.TTL, &cfg.Leader.TTL)
	parseDuration(tc.Leader.RefreshInterval, &cfg.Leader.RefreshInterval)

	return cfg, nil
}

// mergeConfigs merges two configs, with override taking precedence for
// values that differ from the environment defaults
func mergeConfigs(base, override *Config) *Config {
	result := *base

	// HTTP
	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	// MongoDB
	if override.MongoDB.URI != "" && override.MongoDB.URI != "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true" {
		result.MongoDB.URI = override.MongoDB.URI
	}
	if override.MongoDB.Database != "" && override.MongoDB.Database != "flowcatalyst" {
		result.MongoDB.Database = override.MongoDB.Database
	}

	// Queue
	if override.Queue.Type != "" && override.Queue.Type != "embedded" {
		result.Queue.Type = override.Queue.Type
	}
	if override.Queue.NATS.URL != "" {
		result.Queue.NATS.URL = override.Queue.NATS.URL
	}
	if override.Queue.NATS.DataDir != "" {
		result.Queue.NATS.DataDir = override.Queue.NATS.DataDir
	}
	if override.Queue.SQS.QueueURL != "" {
		result.Queue.SQS.QueueURL = override.Queue.SQS.QueueURL
	}
	if override.Queue.SQS.Region != "" {
		result.Queue.SQS.Region = override.Queue.SQS.Region
	}

	// Scheduler
	if override.Scheduler.ProcessingEndpoint != "" {
		result.Scheduler.ProcessingEndpoint = override.Scheduler.ProcessingEndpoint
	}
	if override.Scheduler.AppKey != "" {
		result.Scheduler.AppKey = override.Scheduler.AppKey
	}

	// Leader
	if override.Leader.Enabled {
		result.Leader.Enabled = true
	}
	if override.Leader.Backend != "" && override.Leader.Backend != "mongo" {
		result.Leader.Backend = override.Leader.Backend
	}
	if override.Leader.InstanceID != "" {
		result.Leader.InstanceID = override.Leader.InstanceID
	}

	// Redis
	if override.Redis.Enabled {
		result.Redis.Enabled = true
	}
	if override.Redis.Addr != "" && override.Redis.Addr != "localhost:6379" {
		result.Redis.Addr = override.Redis.Addr
	}

	// General
	if override.DataDir != "" && override.DataDir != "./data" {
		result.DataDir = override.DataDir
	}
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# FlowCatalyst Dispatch Configuration
# Environment variables override these settings

[http]
port = 8080
cors_origins = ["http://localhost:4200"]

[mongodb]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "flowcatalyst"

[queue]
type = "embedded"  # embedded, nats, or sqs

[queue.nats]
url = "nats://localhost:4222"
data_dir = "./data/nats"

[queue.sqs]
queue_url = ""
region = "us-east-1"
wait_time_seconds = 20
visibility_timeout = 120

[scheduler]
enabled = true
poll_interval = "5s"
batch_size = 100
max_concurrent_pools = 10
stale_threshold = "15m"
stale_check_interval = "60s"
processing_endpoint = "http://localhost:8080/api/dispatch/process"
app_key = ""

[router]
config_sync_interval = "5m"
fail_on_initial_sync_error = false
default_pool_concurrency = 20
queue_capacity_multiplier = 2
min_queue_capacity = 50

[mediator]
timeout = "900s"
connect_timeout = "10s"
http_version = "HTTP_2"  # HTTP_2 or HTTP_1_1
breaker_requests = 10
breaker_interval = "60s"
breaker_ratio = 0.5
breaker_timeout = "5s"

[leader]
enabled = false
instance_id = ""
ttl = "30s"
refresh_interval = "10s"

[redis]
enabled = false
addr = "localhost:6379"
password = ""
db = 0

[secrets]
provider = "env"  # env, encrypted, aws-sm, vault, gcp-sm

# Encrypted provider
encryption_key = ""
data_dir = "./data/secrets"

# AWS Secrets Manager
aws_region = ""
aws_prefix = "/flowcatalyst/"
aws_endpoint = ""

# HashiCorp Vault
vault_addr = ""
vault_path = "secret/data/flowcatalyst"
vault_namespace = ""

# GCP Secret Manager
gcp_project = ""
gcp_prefix = "flowcatalyst-"

data_dir = "./data"
dev_mode = false
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
