package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPSecretManagerProvider uses GCP Secret Manager as the backend
type GCPSecretManagerProvider struct {
	client  *secretmanager.Client
	project string
	prefix  string
}

// NewGCPSecretManagerProvider creates a new GCP Secret Manager provider
func NewGCPSecretManagerProvider(cfg *Config) (*GCPSecretManagerProvider, error) {
	if cfg.GCPProject == "" {
		return nil, fmt.Errorf("%w: GCP project is required", ErrProviderError)
	}

	client, err := secretmanager.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}

	prefix := cfg.GCPPrefix
	if prefix == "" {
		prefix = "flowcatalyst-"
	}

	return &GCPSecretManagerProvider{
		client:  client,
		project: cfg.GCPProject,
		prefix:  prefix,
	}, nil
}

// Get retrieves the latest version of a secret from GCP Secret Manager
func (p *GCPSecretManagerProvider) Get(ctx context.Context, key string) (string, error) {
	result, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: p.secretName(key) + "/versions/latest",
	})
	if err != nil {
		if grpcCode(err) == codes.NotFound {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return string(result.Payload.Data), nil
}

// Set stores a secret in GCP Secret Manager
func (p *GCPSecretManagerProvider) Set(ctx context.Context, key, value string) error {
	_, err := p.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   fmt.Sprintf("projects/%s", p.project),
		SecretId: p.prefix + key,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && grpcCode(err) != codes.AlreadyExists {
		return fmt.Errorf("%w: failed to create secret: %v", ErrProviderError, err)
	}

	_, err = p.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: p.secretName(key),
		Payload: &secretmanagerpb.SecretPayload{
			Data: []byte(value),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to add secret version: %v", ErrProviderError, err)
	}
	return nil
}

// Delete removes a secret from GCP Secret Manager
func (p *GCPSecretManagerProvider) Delete(ctx context.Context, key string) error {
	err := p.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: p.secretName(key),
	})
	if err != nil {
		if grpcCode(err) == codes.NotFound {
			return ErrSecretNotFound
		}
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return nil
}

// Name returns the provider name
func (p *GCPSecretManagerProvider) Name() string {
	return "gcp-sm"
}

// Close closes the GCP client
func (p *GCPSecretManagerProvider) Close() error {
	return p.client.Close()
}

func (p *GCPSecretManagerProvider) secretName(key string) string {
	return fmt.Sprintf("projects/%s/secrets/%s%s", p.project, p.prefix, key)
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	st, ok := status.FromError(err)
	if !ok {
		return codes.Unknown
	}
	return st.Code()
}
