package dispatchjob

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
)

var (
	// ErrAppKeyNotConfigured indicates the app key is not set
	ErrAppKeyNotConfigured = errors.New("app key is not configured")

	// ErrInvalidToken indicates the token validation failed
	ErrInvalidToken = errors.New("invalid auth token")
)

// AuthService generates and validates per-job HMAC tokens for the
// processing callback.
//
// The scheduler embeds a token in each message pointer it publishes; the
// router presents that token when it calls back into the processing
// endpoint. The endpoint re-derives the token from the job ID and rejects
// mismatches, so a router cannot trigger processing for a job it was never
// handed.
//
// The token is computed as hex(HMAC-SHA256(appKey, jobID)).
type AuthService struct {
	appKey string
	logger *slog.Logger
}

// NewAuthService creates a new auth token service
func NewAuthService(appKey string, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		appKey: appKey,
		logger: logger,
	}
}

// GenerateToken derives the auth token for a dispatch job ID.
func (s *AuthService) GenerateToken(jobID string) (string, error) {
	if s.appKey == "" {
		return "", ErrAppKeyNotConfigured
	}

	mac := hmac.New(sha256.New, []byte(s.appKey))
	mac.Write([]byte(jobID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ValidateToken checks a token presented by the router.
// Returns nil if valid, ErrInvalidToken if invalid.
func (s *AuthService) ValidateToken(jobID, token string) error {
	if token == "" || jobID == "" {
		return ErrInvalidToken
	}

	if s.appKey == "" {
		s.logger.Error("app key is not configured, cannot validate auth token")
		return ErrAppKeyNotConfigured
	}

	expected, err := s.GenerateToken(jobID)
	if err != nil {
		return err
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return ErrInvalidToken
	}

	return nil
}

// IsConfigured returns true if the app key is set
func (s *AuthService) IsConfigured() bool {
	return s.appKey != ""
}
