// Package secrets provides secret resolution with pluggable storage
// backends: environment variables, an AES-encrypted local file, AWS Secrets
// Manager, HashiCorp Vault, and GCP Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrInvalidKey     = errors.New("invalid encryption key")
	ErrProviderError  = errors.New("provider error")
)

// Provider defines the interface for secret storage backends
type Provider interface {
	// Get retrieves a secret by key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a secret (if supported by the provider)
	Set(ctx context.Context, key, value string) error

	// Delete removes a secret (if supported by the provider)
	Delete(ctx context.Context, key string) error

	// Name returns the provider name for logging
	Name() string
}

// ProviderType represents the type of secret provider
type ProviderType string

const (
	ProviderTypeEncrypted ProviderType = "encrypted"
	ProviderTypeAWSSM     ProviderType = "aws-sm"
	ProviderTypeVault     ProviderType = "vault"
	ProviderTypeGCPSM     ProviderType = "gcp-sm"
	ProviderTypeEnv       ProviderType = "env"
)

// Config holds configuration for the secrets provider
type Config struct {
	Provider ProviderType `json:"provider" toml:"provider"`

	// Encrypted provider settings
	EncryptionKey string `json:"encryptionKey" toml:"encryption_key"`
	DataDir       string `json:"dataDir" toml:"data_dir"`

	// AWS Secrets Manager settings
	AWSRegion    string `json:"awsRegion" toml:"aws_region"`
	AWSPrefix    string `json:"awsPrefix" toml:"aws_prefix"`
	AWSEndpoint  string `json:"awsEndpoint" toml:"aws_endpoint"` // For LocalStack
	AWSAccessKey string `json:"awsAccessKey" toml:"aws_access_key"`
	AWSSecretKey string `json:"awsSecretKey" toml:"aws_secret_key"`

	// HashiCorp Vault settings
	VaultAddr      string `json:"vaultAddr" toml:"vault_addr"`
	VaultToken     string `json:"vaultToken" toml:"vault_token"`
	VaultPath      string `json:"vaultPath" toml:"vault_path"`
	VaultNamespace string `json:"vaultNamespace" toml:"vault_namespace"`

	// GCP Secret Manager settings
	GCPProject string `json:"gcpProject" toml:"gcp_project"`
	GCPPrefix  string `json:"gcpPrefix" toml:"gcp_prefix"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:  ProviderTypeEnv,
		DataDir:   "./data/secrets",
		AWSPrefix: "/flowcatalyst/",
		VaultPath: "secret/data/flowcatalyst",
		GCPPrefix: "flowcatalyst-",
	}
}

// LoadConfigFromEnv loads configuration from environment variables
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()

	env := func(keys ...string) string {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				return v
			}
		}
		return ""
	}

	if p := env("FLOWCATALYST_SECRETS_PROVIDER"); p != "" {
		cfg.Provider = ProviderType(strings.ToLower(p))
	}

	if k := env("FLOWCATALYST_SECRETS_ENCRYPTION_KEY"); k != "" {
		cfg.EncryptionKey = k
	}
	if d := env("FLOWCATALYST_SECRETS_DATA_DIR"); d != "" {
		cfg.DataDir = d
	}

	if r := env("FLOWCATALYST_SECRETS_AWS_REGION", "AWS_REGION"); r != "" {
		cfg.AWSRegion = r
	}
	if p := env("FLOWCATALYST_SECRETS_AWS_PREFIX"); p != "" {
		cfg.AWSPrefix = p
	}
	if e := env("FLOWCATALYST_SECRETS_AWS_ENDPOINT"); e != "" {
		cfg.AWSEndpoint = e
	}

	if a := env("FLOWCATALYST_SECRETS_VAULT_ADDR", "VAULT_ADDR"); a != "" {
		cfg.VaultAddr = a
	}
	if t := env("FLOWCATALYST_SECRETS_VAULT_TOKEN", "VAULT_TOKEN"); t != "" {
		cfg.VaultToken = t
	}
	if p := env("FLOWCATALYST_SECRETS_VAULT_PATH"); p != "" {
		cfg.VaultPath = p
	}
	if n := env("FLOWCATALYST_SECRETS_VAULT_NAMESPACE"); n != "" {
		cfg.VaultNamespace = n
	}

	if p := env("FLOWCATALYST_SECRETS_GCP_PROJECT", "GOOGLE_CLOUD_PROJECT"); p != "" {
		cfg.GCPProject = p
	}
	if p := env("FLOWCATALYST_SECRETS_GCP_PREFIX"); p != "" {
		cfg.GCPPrefix = p
	}

	return cfg
}

// NewProvider creates a new secret provider based on configuration
func NewProvider(cfg *Config) (Provider, error) {
	if cfg == nil {
		cfg = LoadConfigFromEnv()
	}

	switch cfg.Provider {
	case ProviderTypeEncrypted:
		return NewEncryptedProvider(cfg.EncryptionKey, cfg.DataDir)
	case ProviderTypeAWSSM:
		return NewAWSSecretsManagerProvider(cfg)
	case ProviderTypeVault:
		return NewVaultProvider(cfg)
	case ProviderTypeGCPSM:
		return NewGCPSecretManagerProvider(cfg)
	case ProviderTypeEnv:
		return NewEnvProvider("FLOWCATALYST_SECRET_"), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}

// EnvProvider reads secrets from environment variables
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// Get retrieves a secret from environment variables
func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Set is not supported for environment provider
func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return fmt.Errorf("environment provider does not support Set")
}

// Delete is not supported for environment provider
func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("environment provider does not support Delete")
}

// Name returns the provider name
func (p *EnvProvider) Name() string {
	return "env"
}
