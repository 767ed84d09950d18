// Package processing implements the dispatch-processing endpoint, the
// default mediation target of the message router. For each callback it
// claims the job, executes the webhook delivery, records the attempt, and
// answers the router's ack contract: ack removes the message from the queue
// (delivered, or failed permanently), nack keeps it for redelivery.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/common/tsid"
	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
	"go.flowcatalyst.tech/dispatch/internal/router/model"
)

// CredentialSource resolves delivery credentials for a service account.
type CredentialSource interface {
	Resolve(ctx context.Context, serviceAccountID string) (*dispatchjob.Credentials, error)
}

// noCredentials serves jobs when no secrets provider is configured.
type noCredentials struct{}

func (noCredentials) Resolve(ctx context.Context, serviceAccountID string) (*dispatchjob.Credentials, error) {
	return &dispatchjob.Credentials{}, nil
}

// Service processes dispatch jobs on behalf of the router.
type Service struct {
	store     dispatchjob.Store
	creds     CredentialSource
	deliverer Deliverer
}

// NewService creates a processing service. creds may be nil when webhook
// deliveries carry no per-account credentials; deliverer may be nil to use
// the default webhook executor.
func NewService(store dispatchjob.Store, creds CredentialSource, deliverer Deliverer) *Service {
	if creds == nil {
		creds = noCredentials{}
	}
	if deliverer == nil {
		deliverer = NewWebhookExecutor(nil)
	}
	return &Service{
		store:     store,
		creds:     creds,
		deliverer: deliverer,
	}
}

// ProcessJob runs one delivery attempt for the given job and returns the
// ack/nack decision for the router.
func (s *Service) ProcessJob(ctx context.Context, jobID string) *model.ProcessResponse {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, dispatchjob.ErrNotFound) {
			// Nothing to retry against; drop the message
			slog.Warn("Dispatch job not found, acking", "jobId", jobID)
			metrics.ProcessingJobs.WithLabelValues("skipped").Inc()
			return model.NewAckResponse("job not found")
		}
		slog.Error("Failed to load dispatch job", "error", err, "jobId", jobID)
		return model.NewNackResponse("job store unavailable")
	}

	if job.IsTerminal() {
		slog.Debug("Dispatch job already terminal, acking", "jobId", jobID, "status", job.Status)
		metrics.ProcessingJobs.WithLabelValues("skipped").Inc()
		return model.NewAckResponse("job already " + string(job.Status))
	}

	if job.IsExpired() {
		if err := s.store.MarkError(ctx, jobID, "expired before delivery"); err != nil {
			slog.Error("Failed to mark expired job", "error", err, "jobId", jobID)
		}
		metrics.ProcessingJobs.WithLabelValues("error").Inc()
		return model.NewAckResponse("job expired")
	}

	if !job.IsDue() {
		delay := int(time.Until(job.ScheduledFor).Seconds())
		if delay < 1 {
			delay = 1
		}
		metrics.ProcessingJobs.WithLabelValues("skipped").Inc()
		return model.NewNackWithDelayResponse("job not due yet", delay)
	}

	if !s.claim(ctx, job) {
		// Another worker holds the job; redeliver later
		return model.NewNackWithDelayResponse("job already claimed", model.DefaultDelaySeconds)
	}

	creds, err := s.creds.Resolve(ctx, job.ServiceAccountID)
	if err != nil {
		slog.Error("Failed to resolve delivery credentials",
			"error", err,
			"jobId", jobID,
			"serviceAccountId", job.ServiceAccountID)
		// Infrastructure failure, not a delivery attempt. Release the claim
		// and redeliver shortly.
		if err := s.store.ResetToPending(ctx, jobID, time.Now().Add(5*time.Second)); err != nil {
			slog.Error("Failed to release job claim", "error", err, "jobId", jobID)
		}
		return model.NewNackWithDelayResponse("credential resolution failed", 5)
	}

	attemptedAt := time.Now()
	result := s.deliverer.Deliver(ctx, job, creds)
	attemptNumber := job.AttemptCount + 1

	s.recordAttempt(ctx, job, attemptNumber, attemptedAt, result)

	return s.settle(ctx, job, attemptNumber, result)
}

// claim transitions the job to IN_PROGRESS. Jobs normally arrive QUEUED;
// retried jobs were reset to PENDING before redelivery, so both transitions
// are acceptable.
func (s *Service) claim(ctx context.Context, job *dispatchjob.DispatchJob) bool {
	err := s.store.UpdateStatusFrom(ctx, job.ID, dispatchjob.DispatchStatusQueued, dispatchjob.DispatchStatusInProgress)
	if err == nil {
		return true
	}
	if !errors.Is(err, dispatchjob.ErrStatusConflict) {
		slog.Error("Failed to claim dispatch job", "error", err, "jobId", job.ID)
		return false
	}

	err = s.store.UpdateStatusFrom(ctx, job.ID, dispatchjob.DispatchStatusPending, dispatchjob.DispatchStatusInProgress)
	if err != nil {
		slog.Debug("Dispatch job not claimable", "jobId", job.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) recordAttempt(ctx context.Context, job *dispatchjob.DispatchJob, attemptNumber int, attemptedAt time.Time, result *WebhookResult) {
	now := time.Now()
	attempt := dispatchjob.DispatchAttempt{
		ID:             tsid.Generate(),
		AttemptNumber:  attemptNumber,
		AttemptedAt:    attemptedAt,
		CompletedAt:    now,
		DurationMillis: result.Duration.Milliseconds(),
		Status:         result.Status,
		ResponseCode:   result.ResponseCode,
		ResponseBody:   result.ResponseBody,
		ErrorMessage:   result.ErrorMessage,
		ErrorType:      result.ErrorType,
		CreatedAt:      now,
	}

	if err := s.store.AppendAttempt(ctx, job.ID, attempt); err != nil {
		slog.Error("Failed to record dispatch attempt", "error", err, "jobId", job.ID, "attempt", attemptNumber)
	}
}

// settle maps the attempt outcome to the job's next state and the router's
// ack decision.
func (s *Service) settle(ctx context.Context, job *dispatchjob.DispatchJob, attemptNumber int, result *WebhookResult) *model.ProcessResponse {
	switch {
	case result.Succeeded():
		if err := s.store.MarkCompleted(ctx, job.ID, result.Duration.Milliseconds()); err != nil {
			slog.Error("Failed to mark job completed", "error", err, "jobId", job.ID)
		}
		metrics.ProcessingJobs.WithLabelValues("completed").Inc()
		slog.Info("Dispatch job delivered",
			"jobId", job.ID,
			"attempt", attemptNumber,
			"durationMs", result.Duration.Milliseconds())
		return model.NewAckResponse("delivered")

	case !result.Transient():
		if err := s.store.MarkError(ctx, job.ID, result.ErrorMessage); err != nil {
			slog.Error("Failed to mark job errored", "error", err, "jobId", job.ID)
		}
		metrics.ProcessingJobs.WithLabelValues("error").Inc()
		slog.Warn("Dispatch job failed permanently",
			"jobId", job.ID,
			"attempt", attemptNumber,
			"responseCode", result.ResponseCode,
			"error", result.ErrorMessage)
		return model.NewAckResponse("permanent failure: " + result.ErrorMessage)

	case attemptNumber >= job.MaxRetries:
		msg := fmt.Sprintf("retries exhausted after %d attempts: %s", attemptNumber, result.ErrorMessage)
		if err := s.store.MarkError(ctx, job.ID, msg); err != nil {
			slog.Error("Failed to mark job errored", "error", err, "jobId", job.ID)
		}
		metrics.ProcessingJobs.WithLabelValues("error").Inc()
		slog.Warn("Dispatch job retries exhausted",
			"jobId", job.ID,
			"attempts", attemptNumber,
			"maxRetries", job.MaxRetries)
		return model.NewAckResponse(msg)

	default:
		backoff := dispatchjob.RetryBackoff(attemptNumber)
		if err := s.store.ResetToPending(ctx, job.ID, time.Now().Add(backoff)); err != nil {
			slog.Error("Failed to reset job for retry", "error", err, "jobId", job.ID)
		}
		metrics.ProcessingJobs.WithLabelValues("retried").Inc()
		slog.Info("Dispatch job scheduled for retry",
			"jobId", job.ID,
			"attempt", attemptNumber,
			"backoff", backoff,
			"error", result.ErrorMessage)
		return model.NewNackWithDelayResponse(result.ErrorMessage, int(backoff.Seconds()))
	}
}
