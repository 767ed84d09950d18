package dispatchjob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	// SignatureHeader carries the webhook signature
	SignatureHeader = "X-FlowCatalyst-Signature"

	// TimestampHeader carries the signing timestamp (unix seconds)
	TimestampHeader = "X-FlowCatalyst-Timestamp"

	// MaxTimestampAge is how far in the past a signed timestamp may be
	MaxTimestampAge = 300 * time.Second

	// MaxTimestampSkew is how far in the future a signed timestamp may be,
	// allowing for clock drift between sender and receiver
	MaxTimestampSkew = 60 * time.Second
)

// SignedWebhookRequest contains everything needed to send a signed webhook
type SignedWebhookRequest struct {
	Payload     string
	Signature   string
	Timestamp   string
	BearerToken string
}

// WebhookSigner generates HMAC-SHA256 signatures for outbound webhooks.
//
// The signature is hex(HMAC-SHA256(signingSecret, timestamp || body)) where
// timestamp is the unix-seconds string sent in TimestampHeader. Receivers
// verify by reproducing the same computation and rejecting stale
// timestamps, which bounds the replay window.
type WebhookSigner struct{}

// NewWebhookSigner creates a new webhook signer
func NewWebhookSigner() *WebhookSigner {
	return &WebhookSigner{}
}

// Sign signs a webhook payload with the provided credentials.
func (s *WebhookSigner) Sign(payload, authToken, signingSecret string) *SignedWebhookRequest {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	return &SignedWebhookRequest{
		Payload:     payload,
		Signature:   s.compute(timestamp, payload, signingSecret),
		Timestamp:   timestamp,
		BearerToken: authToken,
	}
}

// Verify checks a signature without validating timestamp freshness.
func (s *WebhookSigner) Verify(payload, timestamp, signature, signingSecret string) bool {
	expected := s.compute(timestamp, payload, signingSecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyFresh checks the signature and that the timestamp falls within the
// accepted window: no older than MaxTimestampAge, no further ahead than
// MaxTimestampSkew.
func (s *WebhookSigner) VerifyFresh(payload, timestamp, signature, signingSecret string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-MaxTimestampAge)) || signedAt.After(now.Add(MaxTimestampSkew)) {
		return false
	}

	return s.Verify(payload, timestamp, signature, signingSecret)
}

func (s *WebhookSigner) compute(timestamp, payload, signingSecret string) string {
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
