package dispatchjob

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestWebhookSigner_Sign(t *testing.T) {
	signer := NewWebhookSigner()

	payload := `{"event":"test","data":{"id":"123"}}`
	authToken := "test-bearer-token"
	signingSecret := "my-secret-key"

	result := signer.Sign(payload, authToken, signingSecret)

	if result.Payload != payload {
		t.Errorf("expected payload %q, got %q", payload, result.Payload)
	}
	if result.BearerToken != authToken {
		t.Errorf("expected bearer token %q, got %q", authToken, result.BearerToken)
	}
	if result.Timestamp == "" {
		t.Error("expected timestamp to be set")
	}
	if result.Signature == "" {
		t.Error("expected signature to be set")
	}

	// Timestamp is unix seconds
	ts, err := strconv.ParseInt(result.Timestamp, 10, 64)
	if err != nil {
		t.Fatalf("expected unix-seconds timestamp, got %q: %v", result.Timestamp, err)
	}
	if d := time.Since(time.Unix(ts, 0)); d > 5*time.Second || d < -5*time.Second {
		t.Errorf("timestamp too far from now: %v", d)
	}

	// Signature is lowercase hex, 32 bytes = 64 chars
	if strings.ToLower(result.Signature) != result.Signature {
		t.Error("expected signature to be lowercase hex")
	}
	if len(result.Signature) != 64 {
		t.Errorf("expected 64-char hex signature, got %d chars", len(result.Signature))
	}
}

func TestWebhookSigner_Verify(t *testing.T) {
	signer := NewWebhookSigner()

	payload := `{"event":"test"}`
	signingSecret := "my-secret-key"

	signed := signer.Sign(payload, "token", signingSecret)

	if !signer.Verify(payload, signed.Timestamp, signed.Signature, signingSecret) {
		t.Error("expected valid signature to verify")
	}
	if signer.Verify(payload, signed.Timestamp, signed.Signature, "wrong-secret") {
		t.Error("expected verification to fail with wrong secret")
	}
	if signer.Verify("tampered", signed.Timestamp, signed.Signature, signingSecret) {
		t.Error("expected verification to fail with tampered payload")
	}
	if signer.Verify(payload, "1700000000", signed.Signature, signingSecret) {
		t.Error("expected verification to fail with tampered timestamp")
	}
	if signer.Verify(payload, signed.Timestamp, "invalidsignature", signingSecret) {
		t.Error("expected verification to fail with tampered signature")
	}
}

func TestWebhookSigner_DeterministicSignature(t *testing.T) {
	signer := NewWebhookSigner()

	payload := `{"test":"data"}`
	timestamp := "1705314600"
	signingSecret := "test-secret"

	expected := signer.compute(timestamp, payload, signingSecret)

	if !signer.Verify(payload, timestamp, expected, signingSecret) {
		t.Error("expected deterministic signature to verify")
	}
}

func TestWebhookSigner_VerifyFresh(t *testing.T) {
	signer := NewWebhookSigner()

	payload := `{"event":"fresh"}`
	secret := "test-secret"
	now := time.Unix(1705314600, 0)

	sign := func(at time.Time) (string, string) {
		ts := strconv.FormatInt(at.Unix(), 10)
		return ts, signer.compute(ts, payload, secret)
	}

	tests := []struct {
		name     string
		signedAt time.Time
		want     bool
	}{
		{"current timestamp", now, true},
		{"4 minutes old", now.Add(-4 * time.Minute), true},
		{"exactly at age limit", now.Add(-MaxTimestampAge), true},
		{"too old", now.Add(-MaxTimestampAge - time.Second), false},
		{"slight clock skew ahead", now.Add(30 * time.Second), true},
		{"too far in future", now.Add(MaxTimestampSkew + time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, sig := sign(tt.signedAt)
			if got := signer.VerifyFresh(payload, ts, sig, secret, now); got != tt.want {
				t.Errorf("VerifyFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookSigner_VerifyFreshRejectsBadTimestamp(t *testing.T) {
	signer := NewWebhookSigner()

	if signer.VerifyFresh("payload", "not-a-number", "sig", "secret", time.Now()) {
		t.Error("expected non-numeric timestamp to be rejected")
	}
	if signer.VerifyFresh("payload", "2024-01-15T10:30:00Z", "sig", "secret", time.Now()) {
		t.Error("expected RFC3339 timestamp to be rejected")
	}
}

func TestSignatureHeaderConstants(t *testing.T) {
	if SignatureHeader != "X-FlowCatalyst-Signature" {
		t.Errorf("unexpected SignatureHeader %q", SignatureHeader)
	}
	if TimestampHeader != "X-FlowCatalyst-Timestamp" {
		t.Errorf("unexpected TimestampHeader %q", TimestampHeader)
	}
}
