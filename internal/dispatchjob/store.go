package dispatchjob

import (
	"context"
	"time"
)

// Store defines data access for dispatch jobs. The scheduler, router
// callbacks and the processing endpoint all go through this interface;
// implementations must be safe for concurrent use.
type Store interface {
	FindByID(ctx context.Context, id string) (*DispatchJob, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*DispatchJob, error)

	// FindReadyPending returns PENDING jobs whose scheduledFor is unset or
	// has passed, oldest first.
	FindReadyPending(ctx context.Context, limit int64) ([]*DispatchJob, error)

	// FindStaleQueued returns QUEUED jobs that have not been touched within
	// the threshold. These are jobs whose queue publish or consumption was
	// lost; the scheduler resets them to PENDING.
	FindStaleQueued(ctx context.Context, threshold time.Duration) ([]*DispatchJob, error)

	Insert(ctx context.Context, job *DispatchJob) error
	InsertMany(ctx context.Context, jobs []*DispatchJob) error

	// UpdateStatusFrom transitions a job from one status to another as a
	// single compare-and-set. Returns ErrStatusConflict when the job is no
	// longer in the expected status, ErrNotFound when it does not exist.
	UpdateStatusFrom(ctx context.Context, id string, from, to DispatchStatus) error

	// MarkQueued transitions PENDING -> QUEUED and stamps queuedAt.
	MarkQueued(ctx context.Context, id string) error

	MarkCompleted(ctx context.Context, id string, durationMillis int64) error
	MarkError(ctx context.Context, id string, errorMsg string) error

	// AppendAttempt appends an attempt and increments attemptCount in one
	// update, keeping attemptCount == len(attempts).
	AppendAttempt(ctx context.Context, id string, attempt DispatchAttempt) error

	// ResetToPending returns a job to PENDING with a new scheduledFor.
	// Used for retries and stale-queued recovery.
	ResetToPending(ctx context.Context, id string, scheduledFor time.Time) error

	CountByStatus(ctx context.Context, status DispatchStatus) (int64, error)

	// HasErrorJobsInGroup reports whether any job in the message group is in
	// ERROR status.
	HasErrorJobsInGroup(ctx context.Context, messageGroup string) (bool, error)

	// GetBlockedMessageGroups returns which of the given groups contain
	// ERROR jobs. Used to gate BLOCK_ON_ERROR dispatch.
	GetBlockedMessageGroups(ctx context.Context, groups []string) (map[string]bool, error)

	Delete(ctx context.Context, id string) error
}
