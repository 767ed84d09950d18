package processing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
)

const (
	// DefaultTimeout applies when a job names no timeout
	DefaultTimeout = 30 * time.Second

	// MaxTimeout caps per-job timeouts
	MaxTimeout = 900 * time.Second

	// maxResponseBody caps how much of a subscriber response is read
	maxResponseBody = 64 * 1024

	// storedBodyLimit caps the response body persisted on an attempt
	storedBodyLimit = 1024
)

// WebhookResult is the outcome of one delivery attempt.
type WebhookResult struct {
	Status       dispatchjob.DispatchAttemptStatus
	ErrorType    dispatchjob.ErrorType
	ResponseCode int
	ResponseBody string
	ErrorMessage string
	Duration     time.Duration
}

// Succeeded returns true when the subscriber accepted the delivery
func (r *WebhookResult) Succeeded() bool {
	return r.Status == dispatchjob.DispatchAttemptStatusSuccess
}

// Transient returns true when the failure is worth retrying
func (r *WebhookResult) Transient() bool {
	return r.ErrorType == dispatchjob.ErrorTypeTransient
}

// Deliverer executes one webhook delivery attempt for a job.
type Deliverer interface {
	Deliver(ctx context.Context, job *dispatchjob.DispatchJob, creds *dispatchjob.Credentials) *WebhookResult
}

// WebhookExecutor delivers job payloads to subscriber endpoints. Payloads go
// out either raw (dataOnly) or wrapped in the event envelope, signed when the
// service account has a signing secret.
type WebhookExecutor struct {
	client *http.Client
	signer *dispatchjob.WebhookSigner
}

// NewWebhookExecutor creates a webhook executor. A nil client uses a default
// with connection timeouts suited for outbound webhooks.
func NewWebhookExecutor(client *http.Client) *WebhookExecutor {
	if client == nil {
		client = &http.Client{
			// Per-request deadlines come from the job timeout; the
			// transport bounds only connection setup.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &WebhookExecutor{
		client: client,
		signer: dispatchjob.NewWebhookSigner(),
	}
}

// envelope is the wire format for dataOnly=false deliveries.
type envelope struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind,omitempty"`
	Code          string          `json:"code,omitempty"`
	Subject       string          `json:"subject,omitempty"`
	EventID       string          `json:"eventId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     string          `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// buildBody renders the request body: the raw payload for dataOnly jobs,
// otherwise the event envelope with the payload under data. A payload that
// parses as JSON is embedded as-is; anything else becomes a JSON string.
func buildBody(job *dispatchjob.DispatchJob) (string, error) {
	if job.DataOnly {
		return job.Payload, nil
	}

	var data json.RawMessage
	if json.Valid([]byte(job.Payload)) && strings.TrimSpace(job.Payload) != "" {
		data = json.RawMessage(job.Payload)
	} else {
		encoded, err := json.Marshal(job.Payload)
		if err != nil {
			return "", err
		}
		data = encoded
	}

	body, err := json.Marshal(&envelope{
		ID:            job.ID,
		Kind:          string(job.Kind),
		Code:          job.Code,
		Subject:       job.Subject,
		EventID:       job.EventID,
		CorrelationID: job.CorrelationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          data,
	})
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// Deliver executes one delivery attempt and classifies the outcome.
func (e *WebhookExecutor) Deliver(ctx context.Context, job *dispatchjob.DispatchJob, creds *dispatchjob.Credentials) *WebhookResult {
	start := time.Now()

	body, err := buildBody(job)
	if err != nil {
		return &WebhookResult{
			Status:       dispatchjob.DispatchAttemptStatusFailure,
			ErrorType:    dispatchjob.ErrorTypeNotTransient,
			ErrorMessage: "failed to build request body: " + err.Error(),
			Duration:     time.Since(start),
		}
	}

	timeout := DefaultTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.TargetURL, strings.NewReader(body))
	if err != nil {
		return &WebhookResult{
			Status:       dispatchjob.DispatchAttemptStatusFailure,
			ErrorType:    dispatchjob.ErrorTypeNotTransient,
			ErrorMessage: "invalid target URL: " + err.Error(),
			Duration:     time.Since(start),
		}
	}

	e.setHeaders(req, job, creds, body)

	resp, err := e.client.Do(req)
	duration := time.Since(start)
	metrics.ProcessingWebhookDuration.Observe(duration.Seconds())

	if err != nil {
		return classifyTransportError(err, duration)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	return classifyResponse(resp.StatusCode, respBody, duration)
}

func (e *WebhookExecutor) setHeaders(req *http.Request, job *dispatchjob.DispatchJob, creds *dispatchjob.Credentials, body string) {
	// Subscriber-configured headers first so the contract headers below
	// cannot be overridden
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}

	contentType := job.PayloadContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	if creds != nil && creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	}

	if creds != nil && creds.HasSigningSecret() {
		signed := e.signer.Sign(body, creds.BearerToken, creds.SigningSecret)
		req.Header.Set(dispatchjob.SignatureHeader, signed.Signature)
		req.Header.Set(dispatchjob.TimestampHeader, signed.Timestamp)
	}

	req.Header.Set("X-FlowCatalyst-ID", job.ID)

	setOptionalHeader(req, "X-FlowCatalyst-Kind", string(job.Kind))
	setOptionalHeader(req, "X-FlowCatalyst-Code", job.Code)
	setOptionalHeader(req, "X-FlowCatalyst-Subject", job.Subject)
	setOptionalHeader(req, "X-FlowCatalyst-Correlation-ID", job.CorrelationID)
	setOptionalHeader(req, "X-FlowCatalyst-Causation-ID", job.CausationID)
}

func setOptionalHeader(req *http.Request, name, value string) {
	if value != "" {
		req.Header.Set(name, value)
	}
}

func classifyTransportError(err error, duration time.Duration) *WebhookResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return &WebhookResult{
			Status:       dispatchjob.DispatchAttemptStatusTimeout,
			ErrorType:    dispatchjob.ErrorTypeTransient,
			ErrorMessage: "request timed out",
			Duration:     duration,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &WebhookResult{
			Status:       dispatchjob.DispatchAttemptStatusTimeout,
			ErrorType:    dispatchjob.ErrorTypeTransient,
			ErrorMessage: "request timed out: " + err.Error(),
			Duration:     duration,
		}
	}

	return &WebhookResult{
		Status:       dispatchjob.DispatchAttemptStatusFailure,
		ErrorType:    dispatchjob.ErrorTypeTransient,
		ErrorMessage: "connection error: " + err.Error(),
		Duration:     duration,
	}
}

func classifyResponse(statusCode int, body []byte, duration time.Duration) *WebhookResult {
	result := &WebhookResult{
		ResponseCode: statusCode,
		ResponseBody: truncate(string(body), storedBodyLimit),
		Duration:     duration,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		// A 2xx body may still reject the delivery with ack:false
		var ackResp struct {
			Ack *bool `json:"ack"`
		}
		if err := json.Unmarshal(body, &ackResp); err == nil && ackResp.Ack != nil && !*ackResp.Ack {
			result.Status = dispatchjob.DispatchAttemptStatusFailure
			result.ErrorType = dispatchjob.ErrorTypeTransient
			result.ErrorMessage = "subscriber responded ack:false"
			return result
		}
		result.Status = dispatchjob.DispatchAttemptStatusSuccess
		return result

	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout:
		result.Status = dispatchjob.DispatchAttemptStatusFailure
		result.ErrorType = dispatchjob.ErrorTypeTransient
		result.ErrorMessage = "subscriber throttled the delivery"
		return result

	case statusCode >= 400 && statusCode < 500:
		result.Status = dispatchjob.DispatchAttemptStatusFailure
		result.ErrorType = dispatchjob.ErrorTypeNotTransient
		result.ErrorMessage = "subscriber rejected the delivery"
		return result

	default:
		result.Status = dispatchjob.DispatchAttemptStatusFailure
		result.ErrorType = dispatchjob.ErrorTypeTransient
		result.ErrorMessage = "subscriber returned a server error"
		return result
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
