// Package mediator delivers messages to their targets over HTTP.
package mediator

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/router/pool"
)

// HTTPMediator mediates messages via HTTP webhooks
type HTTPMediator struct {
	client         *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	maxRetries     int
	baseBackoff    time.Duration
}

// HTTPVersion represents the HTTP protocol version to use
type HTTPVersion string

const (
	// HTTPVersion1 forces HTTP/1.1
	HTTPVersion1 HTTPVersion = "HTTP_1_1"
	// HTTPVersion2 enables HTTP/2 (default for production)
	HTTPVersion2 HTTPVersion = "HTTP_2"
)

// HTTPMediatorConfig configures the HTTP mediator
type HTTPMediatorConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// HTTPVersion controls which HTTP version to use
	// HTTP_2 (default for production) or HTTP_1_1 (recommended for dev)
	HTTPVersion HTTPVersion

	// MaxRetries for transient errors
	MaxRetries int

	// BaseBackoff for retry backoff (multiplied by attempt number)
	BaseBackoff time.Duration

	// CircuitBreaker settings
	CircuitBreakerEnabled     bool
	CircuitBreakerRequests    uint32        // Request volume threshold
	CircuitBreakerInterval    time.Duration // Stats window
	CircuitBreakerRatio       float64       // Failure ratio to trip
	CircuitBreakerTimeout     time.Duration // Time in open state before half-open
	CircuitBreakerMinRequests uint32        // Min requests before evaluating ratio
}

// DefaultHTTPMediatorConfig returns sensible defaults for production.
// The request timeout is 15 minutes to support long-running webhooks.
func DefaultHTTPMediatorConfig() *HTTPMediatorConfig {
	return &HTTPMediatorConfig{
		Timeout:                   900 * time.Second,
		HTTPVersion:               HTTPVersion2,
		MaxRetries:                3,
		BaseBackoff:               time.Second,
		CircuitBreakerEnabled:     true,
		CircuitBreakerRequests:    10,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     5 * time.Second,
		CircuitBreakerMinRequests: 10,
	}
}

// DevHTTPMediatorConfig returns config suitable for development.
// Uses HTTP/1.1, which plays nicer with local proxies and test servers.
func DevHTTPMediatorConfig() *HTTPMediatorConfig {
	cfg := DefaultHTTPMediatorConfig()
	cfg.HTTPVersion = HTTPVersion1
	return cfg
}

// NewHTTPMediator creates a new HTTP mediator
func NewHTTPMediator(cfg *HTTPMediatorConfig) *HTTPMediator {
	if cfg == nil {
		cfg = DefaultHTTPMediatorConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	if cfg.HTTPVersion == HTTPVersion1 {
		// Force HTTP/1.1 by disabling HTTP/2
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = make(map[string]func(authority string, c *tls.Conn) http.RoundTripper)
		slog.Info("HTTP mediator configured", "version", "HTTP/1.1")
	} else {
		transport.ForceAttemptHTTP2 = true
		slog.Info("HTTP mediator configured", "version", "HTTP/2")
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	mediator := &HTTPMediator{
		client:      client,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}

	if cfg.CircuitBreakerEnabled {
		mediator.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "http-mediator",
			MaxRequests: cfg.CircuitBreakerRequests,
			Interval:    cfg.CircuitBreakerInterval,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cfg.CircuitBreakerRatio
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Info("Circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String())

				var stateValue float64
				switch to {
				case gobreaker.StateClosed:
					stateValue = float64(metrics.CircuitBreakerClosed)
				case gobreaker.StateOpen:
					stateValue = float64(metrics.CircuitBreakerOpen)
					metrics.MediatorCircuitBreakerTrips.WithLabelValues(name).Inc()
				case gobreaker.StateHalfOpen:
					stateValue = float64(metrics.CircuitBreakerHalfOpen)
				}
				metrics.MediatorCircuitBreakerState.WithLabelValues(name).Set(stateValue)
			},
		})
	}

	return mediator
}

// Process processes a message through HTTP mediation
func (m *HTTPMediator) Process(msg *pool.MessagePointer) *pool.MediationOutcome {
	outcome := m.process(msg)
	metrics.MediatorAttempts.WithLabelValues(outcomeLabel(outcome.Result)).Inc()
	return outcome
}

func (m *HTTPMediator) process(msg *pool.MessagePointer) *pool.MediationOutcome {
	if msg == nil {
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorConfig,
			Error:  errors.New("nil message"),
		}
	}

	targetURL := msg.MediationTarget
	if targetURL == "" {
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorConfig,
			Error:  errors.New("no target URL"),
		}
	}

	if m.circuitBreaker != nil {
		result, err := m.circuitBreaker.Execute(func() (interface{}, error) {
			return m.executeWithRetry(msg)
		})

		if err != nil {
			// Rejected without reaching the target: treat as a connection
			// failure so the message stays queued.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				slog.Warn("Circuit breaker open",
					"messageId", msg.ID,
					"target", targetURL)
				return &pool.MediationOutcome{
					Result: pool.MediationResultErrorConnection,
					Error:  err,
				}
			}
		}

		if outcome, ok := result.(*pool.MediationOutcome); ok {
			return outcome
		}
	}

	// No circuit breaker, execute directly
	outcome, _ := m.executeWithRetry(msg)
	return outcome
}

func outcomeLabel(result pool.MediationResult) string {
	switch result {
	case pool.MediationResultSuccess:
		return "success"
	case pool.MediationResultErrorConfig:
		return "error_config"
	case pool.MediationResultErrorConnection:
		return "error_connection"
	default:
		return "error_process"
	}
}

// executeWithRetry executes the HTTP request with retry logic
func (m *HTTPMediator) executeWithRetry(msg *pool.MessagePointer) (*pool.MediationOutcome, error) {
	var lastOutcome *pool.MediationOutcome

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		outcome := m.executeOnce(msg, attempt)
		lastOutcome = outcome

		if outcome.Result == pool.MediationResultSuccess {
			return outcome, nil
		}

		// Config errors (4xx) are permanent, never retried
		if outcome.Result == pool.MediationResultErrorConfig {
			return outcome, nil
		}

		if !m.isRetryable(outcome) {
			return outcome, nil
		}

		// Backoff grows linearly with the attempt number
		if attempt < m.maxRetries {
			backoff := time.Duration(attempt) * m.baseBackoff
			slog.Info("Retrying after backoff",
				"messageId", msg.ID,
				"attempt", attempt,
				"backoff", backoff)
			time.Sleep(backoff)
		}
	}

	return lastOutcome, lastOutcome.Error
}

// executeOnce sends a single mediation request: POST to the mediation
// target with {"messageId": "<id>"} and the job's bearer token. The target
// fetches the full payload itself and reports the result in the body.
func (m *HTTPMediator) executeOnce(msg *pool.MessagePointer, attempt int) *pool.MediationOutcome {
	targetURL := msg.MediationTarget

	timeout := 900 * time.Second
	if msg.TimeoutSeconds > 0 {
		timeout = time.Duration(msg.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload := fmt.Sprintf(`{"messageId":%q}`, msg.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(payload))
	if err != nil {
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorConfig,
			Error:  fmt.Errorf("failed to create request: %w", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if msg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+msg.AuthToken)
	}

	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}

	slog.Debug("Executing HTTP request",
		"messageId", msg.ID,
		"target", targetURL,
		"attempt", attempt)

	startTime := time.Now()
	resp, err := m.client.Do(req)
	duration := time.Since(startTime)

	metrics.MediatorDuration.WithLabelValues(targetURL).Observe(duration.Seconds())

	if err != nil {
		metrics.MediatorHTTPRequests.WithLabelValues("error", "POST").Inc()
		return m.handleError(msg, err)
	}
	defer resp.Body.Close()

	metrics.MediatorHTTPRequests.WithLabelValues(strconv.Itoa(resp.StatusCode), "POST").Inc()

	// Cap the body read; a misbehaving target cannot hold the worker hostage
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	slog.Debug("HTTP response received",
		"messageId", msg.ID,
		"statusCode", resp.StatusCode,
		"bodyLen", len(body),
		"duration", duration)

	return m.handleResponse(msg, resp.StatusCode, body)
}

// handleError classifies transport-level failures
func (m *HTTPMediator) handleError(msg *pool.MessagePointer, err error) *pool.MediationOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("Request timeout",
			"messageId", msg.ID,
			"error", err)
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorConnection,
			Error:  err,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorProcess,
			Error:  err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		slog.Warn("Network error",
			"messageId", msg.ID,
			"error", err,
			"timeout", netErr.Timeout())
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorConnection,
			Error:  err,
		}
	}

	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") ||
		strings.Contains(err.Error(), "dial tcp") {
		return &pool.MediationOutcome{
			Result: pool.MediationResultErrorConnection,
			Error:  err,
		}
	}

	return &pool.MediationOutcome{
		Result: pool.MediationResultErrorProcess,
		Error:  err,
	}
}

// handleResponse classifies the HTTP response:
//
//	2xx            success, unless the body carries ack=false
//	429, 408       transient, retry after the requested delay
//	other 4xx      configuration error, never retried
//	5xx            transient, retry
func (m *HTTPMediator) handleResponse(msg *pool.MessagePointer, statusCode int, body []byte) *pool.MediationOutcome {
	if statusCode >= 200 && statusCode < 300 {
		ack := m.parseAckFromResponse(body)

		if ack != nil && !*ack {
			// ack=false means "not ready, try again later"
			delay := m.parseDelayFromResponse(body)
			slog.Info("Response ack=false, will retry",
				"messageId", msg.ID,
				"statusCode", statusCode)
			return &pool.MediationOutcome{
				Result:      pool.MediationResultErrorProcess,
				StatusCode:  statusCode,
				ResponseAck: ack,
				Delay:       delay,
			}
		}

		return &pool.MediationOutcome{
			Result:     pool.MediationResultSuccess,
			StatusCode: statusCode,
		}
	}

	if statusCode >= 400 && statusCode < 500 {
		// 429 and 408 are transient despite being 4xx
		if statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
			delay := m.parseRetryAfter(body)
			return &pool.MediationOutcome{
				Result:     pool.MediationResultErrorProcess,
				StatusCode: statusCode,
				Delay:      delay,
			}
		}

		slog.Warn("Client error - will not retry",
			"messageId", msg.ID,
			"statusCode", statusCode)
		return &pool.MediationOutcome{
			Result:     pool.MediationResultErrorConfig,
			StatusCode: statusCode,
		}
	}

	if statusCode >= 500 {
		slog.Warn("Server error - will retry",
			"messageId", msg.ID,
			"statusCode", statusCode)
		return &pool.MediationOutcome{
			Result:     pool.MediationResultErrorProcess,
			StatusCode: statusCode,
		}
	}

	return &pool.MediationOutcome{
		Result:     pool.MediationResultErrorProcess,
		StatusCode: statusCode,
	}
}

// parseAckFromResponse parses the ack field from a JSON response
func (m *HTTPMediator) parseAckFromResponse(body []byte) *bool {
	if len(body) == 0 {
		return nil
	}

	var response struct {
		Ack *bool `json:"ack"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil
	}

	return response.Ack
}

// parseDelayFromResponse parses the delaySeconds field from a JSON response
func (m *HTTPMediator) parseDelayFromResponse(body []byte) *time.Duration {
	if len(body) == 0 {
		return nil
	}

	var response struct {
		DelaySeconds *int `json:"delaySeconds"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil
	}

	if response.DelaySeconds != nil && *response.DelaySeconds > 0 {
		d := time.Duration(*response.DelaySeconds) * time.Second
		return &d
	}

	return nil
}

// parseRetryAfter picks a retry delay for rate-limited responses
func (m *HTTPMediator) parseRetryAfter(body []byte) *time.Duration {
	if delay := m.parseDelayFromResponse(body); delay != nil {
		return delay
	}

	d := 5 * time.Second
	return &d
}

// isRetryable determines if an outcome should be retried
func (m *HTTPMediator) isRetryable(outcome *pool.MediationOutcome) bool {
	switch outcome.Result {
	case pool.MediationResultErrorConnection, pool.MediationResultErrorProcess:
		return true
	default:
		return false
	}
}
