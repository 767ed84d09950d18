// Package dispatchjob holds the dispatch job domain model and its MongoDB
// persistence. A dispatch job is one unit of outbound delivery work: a
// payload, a target, and the full attempt history accumulated while the
// platform tries to deliver it.
package dispatchjob

import (
	"time"
)

// DispatchStatus is the lifecycle state of a dispatch job.
//
// PENDING -> QUEUED -> IN_PROGRESS -> COMPLETED | ERROR | CANCELLED
//
// Transient failures move IN_PROGRESS back to PENDING with a future
// scheduledFor. COMPLETED, ERROR and CANCELLED are terminal.
type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "PENDING"
	DispatchStatusQueued     DispatchStatus = "QUEUED"
	DispatchStatusInProgress DispatchStatus = "IN_PROGRESS"
	DispatchStatusCompleted  DispatchStatus = "COMPLETED"
	DispatchStatusError      DispatchStatus = "ERROR"
	DispatchStatusCancelled  DispatchStatus = "CANCELLED"
)

// DispatchKind defines the kind of dispatch job
type DispatchKind string

const (
	DispatchKindEvent DispatchKind = "EVENT" // Triggered by an event
	DispatchKindTask  DispatchKind = "TASK"  // Standalone task
)

// DispatchProtocol defines the delivery protocol
type DispatchProtocol string

const (
	DispatchProtocolHTTPWebhook DispatchProtocol = "HTTP_WEBHOOK"
)

// DispatchAttemptStatus is the outcome of a single delivery attempt
type DispatchAttemptStatus string

const (
	DispatchAttemptStatusSuccess     DispatchAttemptStatus = "SUCCESS"
	DispatchAttemptStatusFailure     DispatchAttemptStatus = "FAILURE"
	DispatchAttemptStatusTimeout     DispatchAttemptStatus = "TIMEOUT"
	DispatchAttemptStatusCircuitOpen DispatchAttemptStatus = "CIRCUIT_OPEN"
)

// ErrorType categorizes attempt failures for retry decisions
type ErrorType string

const (
	ErrorTypeTransient    ErrorType = "TRANSIENT"     // Retry with backoff
	ErrorTypeNotTransient ErrorType = "NOT_TRANSIENT" // Terminal, don't retry
	ErrorTypeUnknown      ErrorType = "UNKNOWN"
)

// DispatchMode controls how failures in a message group affect subsequent
// jobs in the same group.
type DispatchMode string

const (
	// DispatchModeImmediate dispatches regardless of other jobs in the group
	DispatchModeImmediate DispatchMode = "IMMEDIATE"
	// DispatchModeNextOnError continues to the next job when one errors
	DispatchModeNextOnError DispatchMode = "NEXT_ON_ERROR"
	// DispatchModeBlockOnError holds the group while any job in it is ERROR
	DispatchModeBlockOnError DispatchMode = "BLOCK_ON_ERROR"
)

// DispatchJob represents a job to dispatch a message.
// Collection: dispatch_jobs
type DispatchJob struct {
	ID                 string                `bson:"_id" json:"id"`
	ExternalID         string                `bson:"externalId,omitempty" json:"externalId,omitempty"`
	Source             string                `bson:"source" json:"source"`
	Kind               DispatchKind          `bson:"kind" json:"kind"`
	Code               string                `bson:"code" json:"code"`
	Subject            string                `bson:"subject,omitempty" json:"subject,omitempty"`
	EventID            string                `bson:"eventId,omitempty" json:"eventId,omitempty"`
	CorrelationID      string                `bson:"correlationId,omitempty" json:"correlationId,omitempty"`
	CausationID        string                `bson:"causationId,omitempty" json:"causationId,omitempty"`
	Metadata           []DispatchJobMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`
	TargetURL          string                `bson:"targetUrl" json:"targetUrl"`
	Protocol           DispatchProtocol      `bson:"protocol" json:"protocol"`
	Headers            map[string]string     `bson:"headers,omitempty" json:"headers,omitempty"`
	Payload            string                `bson:"payload" json:"payload"`
	PayloadContentType string                `bson:"payloadContentType" json:"payloadContentType"`
	DataOnly           bool                  `bson:"dataOnly" json:"dataOnly"`
	ServiceAccountID   string                `bson:"serviceAccountId,omitempty" json:"serviceAccountId,omitempty"`
	ClientID           string                `bson:"clientId,omitempty" json:"clientId,omitempty"`
	SubscriptionID     string                `bson:"subscriptionId,omitempty" json:"subscriptionId,omitempty"`
	Mode               DispatchMode          `bson:"mode,omitempty" json:"mode,omitempty"`
	DispatchPoolID     string                `bson:"dispatchPoolId,omitempty" json:"dispatchPoolId,omitempty"`
	MessageGroup       string                `bson:"messageGroup,omitempty" json:"messageGroup,omitempty"`
	Sequence           int                   `bson:"sequence,omitempty" json:"sequence,omitempty"`
	TimeoutSeconds     int                   `bson:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	Status             DispatchStatus        `bson:"status" json:"status"`
	MaxRetries         int                   `bson:"maxRetries" json:"maxRetries"`
	ScheduledFor       time.Time             `bson:"scheduledFor,omitempty" json:"scheduledFor,omitempty"`
	ExpiresAt          time.Time             `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	QueuedAt           time.Time             `bson:"queuedAt,omitempty" json:"queuedAt,omitempty"`
	AttemptCount       int                   `bson:"attemptCount" json:"attemptCount"`
	LastAttemptAt      time.Time             `bson:"lastAttemptAt,omitempty" json:"lastAttemptAt,omitempty"`
	CompletedAt        time.Time             `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	DurationMillis     int64                 `bson:"durationMillis,omitempty" json:"durationMillis,omitempty"`
	LastError          string                `bson:"lastError,omitempty" json:"lastError,omitempty"`
	IdempotencyKey     string                `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	Attempts           []DispatchAttempt     `bson:"attempts,omitempty" json:"attempts,omitempty"`
	CreatedAt          time.Time             `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time             `bson:"updatedAt" json:"updatedAt"`
}

// DispatchJobMetadata represents metadata on a dispatch job
type DispatchJobMetadata struct {
	ID    string `bson:"id" json:"id"`
	Key   string `bson:"key" json:"key"`
	Value string `bson:"value" json:"value"`
}

// DispatchAttempt records a single delivery attempt. AttemptCount on the
// job always equals len(Attempts); AppendAttempt maintains both in one
// update.
type DispatchAttempt struct {
	ID             string                `bson:"id" json:"id"`
	AttemptNumber  int                   `bson:"attemptNumber" json:"attemptNumber"`
	AttemptedAt    time.Time             `bson:"attemptedAt" json:"attemptedAt"`
	CompletedAt    time.Time             `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	DurationMillis int64                 `bson:"durationMillis,omitempty" json:"durationMillis,omitempty"`
	Status         DispatchAttemptStatus `bson:"status" json:"status"`
	ResponseCode   int                   `bson:"responseCode,omitempty" json:"responseCode,omitempty"`
	ResponseBody   string                `bson:"responseBody,omitempty" json:"responseBody,omitempty"`
	ErrorMessage   string                `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	ErrorType      ErrorType             `bson:"errorType,omitempty" json:"errorType,omitempty"`
	CreatedAt      time.Time             `bson:"createdAt" json:"createdAt"`
}

// IsPending returns true if the job is pending
func (j *DispatchJob) IsPending() bool {
	return j.Status == DispatchStatusPending
}

// IsQueued returns true if the job is queued
func (j *DispatchJob) IsQueued() bool {
	return j.Status == DispatchStatusQueued
}

// IsInProgress returns true if the job is in progress
func (j *DispatchJob) IsInProgress() bool {
	return j.Status == DispatchStatusInProgress
}

// IsCompleted returns true if the job is completed
func (j *DispatchJob) IsCompleted() bool {
	return j.Status == DispatchStatusCompleted
}

// IsError returns true if the job is in error state
func (j *DispatchJob) IsError() bool {
	return j.Status == DispatchStatusError
}

// IsTerminal returns true if the job is in a terminal state. Terminal
// states are sticky - no transition leaves them.
func (j *DispatchJob) IsTerminal() bool {
	return j.Status == DispatchStatusCompleted ||
		j.Status == DispatchStatusError ||
		j.Status == DispatchStatusCancelled
}

// CanRetry returns true if the job can be retried
func (j *DispatchJob) CanRetry() bool {
	return j.AttemptCount < j.MaxRetries && !j.IsTerminal()
}

// IsExpired returns true if the job has passed its expiry time
func (j *DispatchJob) IsExpired() bool {
	if j.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(j.ExpiresAt)
}

// IsDue returns true if the job is ready to run (no scheduledFor, or
// scheduledFor has passed)
func (j *DispatchJob) IsDue() bool {
	if j.ScheduledFor.IsZero() {
		return true
	}
	return !time.Now().Before(j.ScheduledFor)
}

// GetMetadataValue returns the value for a metadata key
func (j *DispatchJob) GetMetadataValue(key string) string {
	for _, m := range j.Metadata {
		if m.Key == key {
			return m.Value
		}
	}
	return ""
}

// GetLastAttempt returns the most recent attempt
func (j *DispatchJob) GetLastAttempt() *DispatchAttempt {
	if len(j.Attempts) == 0 {
		return nil
	}
	return &j.Attempts[len(j.Attempts)-1]
}

// RetryBackoff computes the delay before the given attempt number is
// retried: 3s * 2^(n-1), capped at 10 minutes.
func RetryBackoff(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	const base = 3 * time.Second
	const maxDelay = 600 * time.Second

	// 3s * 2^8 already exceeds the cap
	if attemptNumber > 8 {
		return maxDelay
	}

	delay := base << (attemptNumber - 1)
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
