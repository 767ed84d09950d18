// Package model holds the wire contracts shared by the message router,
// the dispatch scheduler and the processing endpoint.
package model

// MediationType selects how a message is delivered to its target
type MediationType string

const (
	// MediationTypeHTTP delivers by POSTing to the mediation target URL
	MediationTypeHTTP MediationType = "HTTP"
)

// MessagePointer is the queue wire format. It does not carry the job
// payload, only enough to route the message and call back into the
// processing endpoint that owns the job.
type MessagePointer struct {
	// ID is the dispatch job identifier (also used for deduplication)
	ID string `json:"id"`

	// PoolCode selects the processing pool
	PoolCode string `json:"poolCode"`

	// AuthToken authenticates the router's callback to the processing endpoint
	AuthToken string `json:"authToken"`

	// MediationType is how to deliver the message
	MediationType MediationType `json:"mediationType"`

	// MediationTarget is the endpoint URL to call
	MediationTarget string `json:"mediationTarget"`

	// MessageGroupID groups messages that must process sequentially.
	// Messages with the same group run in FIFO order, different groups run
	// concurrently. Empty means no ordering requirement.
	MessageGroupID string `json:"messageGroupId"`

	// BatchID tags messages routed in the same batch so a failure can
	// cascade-nack the rest of the group. Populated during routing, never
	// serialized.
	BatchID string `json:"-"`

	// BrokerMessageID is the broker's own message ID, kept for pipeline
	// tracking and receipt handle refresh. Never serialized.
	BrokerMessageID string `json:"-"`
}

// MediationResponse is returned by a mediation endpoint on HTTP 200 to say
// whether the message is done.
//
//	ack: true  - processing complete, remove from queue
//	ack: false - accepted but not ready, redeliver after an optional delay
type MediationResponse struct {
	// Ack indicates whether the message should be acknowledged
	Ack bool `json:"ack"`

	// Message is an optional reason, mostly useful when ack=false
	Message string `json:"message,omitempty"`

	// DelaySeconds delays redelivery when ack=false. Valid range 1-43200.
	// Nil or 0 uses the default visibility timeout.
	DelaySeconds *int `json:"delaySeconds,omitempty"`
}

const (
	// MaxDelaySeconds is the maximum redelivery delay (12 hours, the SQS limit)
	MaxDelaySeconds = 43200

	// DefaultDelaySeconds is used when no delay is specified
	DefaultDelaySeconds = 30
)

// GetEffectiveDelaySeconds returns the redelivery delay clamped to the
// valid range, defaulting when unset.
func (r *MediationResponse) GetEffectiveDelaySeconds() int {
	if r.DelaySeconds == nil || *r.DelaySeconds <= 0 {
		return DefaultDelaySeconds
	}
	if *r.DelaySeconds > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	return *r.DelaySeconds
}

// ProcessRequest is the router's callback request to process a dispatch job
type ProcessRequest struct {
	// MessageID is the dispatch job ID to process
	MessageID string `json:"messageId"`
}

// ProcessResponse reports the processing result back to the router. It
// follows the MediationResponse contract: ack removes the message from the
// queue (success or a permanent failure), nack keeps it for retry.
type ProcessResponse struct {
	Ack          bool   `json:"ack"`
	Message      string `json:"message,omitempty"`
	DelaySeconds *int   `json:"delaySeconds,omitempty"`
}

// NewAckResponse creates a response that removes the message from the queue
func NewAckResponse(message string) *ProcessResponse {
	return &ProcessResponse{
		Ack:     true,
		Message: message,
	}
}

// NewNackResponse creates a response that keeps the message queued for retry
func NewNackResponse(message string) *ProcessResponse {
	return &ProcessResponse{
		Ack:     false,
		Message: message,
	}
}

// NewNackWithDelayResponse creates a nack with a specific retry delay
func NewNackWithDelayResponse(message string, delaySeconds int) *ProcessResponse {
	return &ProcessResponse{
		Ack:          false,
		Message:      message,
		DelaySeconds: &delaySeconds,
	}
}
