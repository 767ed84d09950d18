package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// AWSSecretsManagerProvider uses AWS Secrets Manager as the backend
type AWSSecretsManagerProvider struct {
	client *secretsmanager.Client
	prefix string
}

// NewAWSSecretsManagerProvider creates a new AWS Secrets Manager provider
func NewAWSSecretsManagerProvider(cfg *Config) (*AWSSecretsManagerProvider, error) {
	ctx := context.Background()

	var opts []func(*config.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, config.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var smOpts []func(*secretsmanager.Options)
	if cfg.AWSEndpoint != "" {
		// LocalStack or other emulators
		smOpts = append(smOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		})
	}

	prefix := cfg.AWSPrefix
	if prefix == "" {
		prefix = "/flowcatalyst/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &AWSSecretsManagerProvider{
		client: secretsmanager.NewFromConfig(awsCfg, smOpts...),
		prefix: prefix,
	}, nil
}

// Get retrieves a secret from AWS Secrets Manager
func (p *AWSSecretsManagerProvider) Get(ctx context.Context, key string) (string, error) {
	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.prefix + key),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	if result.SecretString == nil {
		return "", ErrSecretNotFound
	}
	return *result.SecretString, nil
}

// Set stores a secret in AWS Secrets Manager
func (p *AWSSecretsManagerProvider) Set(ctx context.Context, key, value string) error {
	secretName := p.prefix + key

	_, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(secretName),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("%w: failed to update secret: %v", ErrProviderError, err)
	}

	// Secret does not exist yet
	_, err = p.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(secretName),
		SecretString: aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create secret: %v", ErrProviderError, err)
	}
	return nil
}

// Delete removes a secret from AWS Secrets Manager
func (p *AWSSecretsManagerProvider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(p.prefix + key),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return nil
}

// Name returns the provider name
func (p *AWSSecretsManagerProvider) Name() string {
	return "aws-sm"
}
