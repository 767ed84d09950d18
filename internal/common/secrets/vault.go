package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultProvider uses HashiCorp Vault (KV v2) as the backend
type VaultProvider struct {
	client *vault.Client
	path   string
}

// NewVaultProvider creates a new HashiCorp Vault provider
func NewVaultProvider(cfg *Config) (*VaultProvider, error) {
	if cfg.VaultAddr == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderError)
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.VaultAddr

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	}
	if cfg.VaultNamespace != "" {
		client.SetNamespace(cfg.VaultNamespace)
	}

	path := cfg.VaultPath
	if path == "" {
		path = "secret/data/flowcatalyst"
	}

	return &VaultProvider{
		client: client,
		path:   strings.TrimSuffix(path, "/"),
	}, nil
}

// Get retrieves a secret from Vault
func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	secret, err := p.client.KVv2("secret").Get(ctx, p.kvPath(key))
	if err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	// Secrets are stored under a single "value" key
	if v, ok := secret.Data["value"].(string); ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

// Set stores a secret in Vault
func (p *VaultProvider) Set(ctx context.Context, key, value string) error {
	_, err := p.client.KVv2("secret").Put(ctx, p.kvPath(key), map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return nil
}

// Delete removes a secret from Vault
func (p *VaultProvider) Delete(ctx context.Context, key string) error {
	err := p.client.KVv2("secret").DeleteMetadata(ctx, p.kvPath(key))
	if err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return ErrSecretNotFound
		}
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return nil
}

// Name returns the provider name
func (p *VaultProvider) Name() string {
	return "vault"
}

// kvPath builds the KV v2 path for a key. The KVv2 helper prepends
// "secret/data/" itself, so any configured prefix is stripped here.
func (p *VaultProvider) kvPath(key string) string {
	path := p.path + "/" + key
	path = strings.TrimPrefix(path, "secret/data/")
	return strings.TrimPrefix(path, "secret/")
}
