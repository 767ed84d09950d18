package dispatchjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/common/secrets"
)

// Credentials are the per-service-account secrets used when delivering a
// webhook: an optional bearer token for the Authorization header and an
// optional signing secret. Either may be absent; delivery proceeds without
// the corresponding header.
type Credentials struct {
	BearerToken   string
	SigningSecret string
}

// HasSigningSecret reports whether webhook signing is configured
func (c *Credentials) HasSigningSecret() bool {
	return c.SigningSecret != ""
}

// credentialTTL bounds how long resolved credentials are served from cache
// before the provider is consulted again, so rotations propagate without a
// restart.
const credentialTTL = 5 * time.Minute

type cachedCredentials struct {
	creds     *Credentials
	fetchedAt time.Time
}

// CredentialResolver resolves delivery credentials for service accounts
// from the configured secrets provider, with a read-through cache.
type CredentialResolver struct {
	provider secrets.Provider
	mu       sync.RWMutex
	cache    map[string]*cachedCredentials
}

// NewCredentialResolver creates a resolver backed by the given provider
func NewCredentialResolver(provider secrets.Provider) *CredentialResolver {
	return &CredentialResolver{
		provider: provider,
		cache:    make(map[string]*cachedCredentials),
	}
}

// Resolve returns the credentials for a service account. Missing secrets
// are not errors: the returned credentials simply have empty fields.
func (r *CredentialResolver) Resolve(ctx context.Context, serviceAccountID string) (*Credentials, error) {
	if serviceAccountID == "" {
		return &Credentials{}, nil
	}

	r.mu.RLock()
	entry, ok := r.cache[serviceAccountID]
	r.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < credentialTTL {
		return entry.creds, nil
	}

	creds, err := r.fetch(ctx, serviceAccountID)
	if err != nil {
		// Serve stale credentials over failing the dispatch
		if ok {
			slog.Warn("Credential refresh failed, serving cached credentials",
				"serviceAccountId", serviceAccountID,
				"error", err)
			return entry.creds, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[serviceAccountID] = &cachedCredentials{
		creds:     creds,
		fetchedAt: time.Now(),
	}
	r.mu.Unlock()

	return creds, nil
}

// Invalidate drops cached credentials for a service account
func (r *CredentialResolver) Invalidate(serviceAccountID string) {
	r.mu.Lock()
	delete(r.cache, serviceAccountID)
	r.mu.Unlock()
}

func (r *CredentialResolver) fetch(ctx context.Context, serviceAccountID string) (*Credentials, error) {
	creds := &Credentials{}

	token, err := r.provider.Get(ctx, bearerTokenKey(serviceAccountID))
	if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, fmt.Errorf("failed to resolve bearer token: %w", err)
	}
	creds.BearerToken = token

	secret, err := r.provider.Get(ctx, signingSecretKey(serviceAccountID))
	if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, fmt.Errorf("failed to resolve signing secret: %w", err)
	}
	creds.SigningSecret = secret

	return creds, nil
}

func bearerTokenKey(serviceAccountID string) string {
	return "dispatch-" + serviceAccountID + "-bearer-token"
}

func signingSecretKey(serviceAccountID string) string {
	return "dispatch-" + serviceAccountID + "-signing-secret"
}
