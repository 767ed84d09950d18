package dispatchjob

import (
	"context"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/common/repository"
)

const collectionName = "dispatch_jobs"

// instrumentedStore wraps a Store with metrics and logging
type instrumentedStore struct {
	inner Store
}

func newInstrumentedStore(inner Store) Store {
	return &instrumentedStore{inner: inner}
}

func (s *instrumentedStore) FindByID(ctx context.Context, id string) (*DispatchJob, error) {
	return repository.Instrument(ctx, collectionName, "FindByID", func() (*DispatchJob, error) {
		return s.inner.FindByID(ctx, id)
	})
}

func (s *instrumentedStore) FindByIdempotencyKey(ctx context.Context, key string) (*DispatchJob, error) {
	return repository.Instrument(ctx, collectionName, "FindByIdempotencyKey", func() (*DispatchJob, error) {
		return s.inner.FindByIdempotencyKey(ctx, key)
	})
}

func (s *instrumentedStore) FindReadyPending(ctx context.Context, limit int64) ([]*DispatchJob, error) {
	return repository.Instrument(ctx, collectionName, "FindReadyPending", func() ([]*DispatchJob, error) {
		return s.inner.FindReadyPending(ctx, limit)
	})
}

func (s *instrumentedStore) FindStaleQueued(ctx context.Context, threshold time.Duration) ([]*DispatchJob, error) {
	return repository.Instrument(ctx, collectionName, "FindStaleQueued", func() ([]*DispatchJob, error) {
		return s.inner.FindStaleQueued(ctx, threshold)
	})
}

func (s *instrumentedStore) Insert(ctx context.Context, job *DispatchJob) error {
	return repository.InstrumentVoid(ctx, collectionName, "Insert", func() error {
		return s.inner.Insert(ctx, job)
	})
}

func (s *instrumentedStore) InsertMany(ctx context.Context, jobs []*DispatchJob) error {
	return repository.InstrumentVoid(ctx, collectionName, "InsertMany", func() error {
		return s.inner.InsertMany(ctx, jobs)
	})
}

func (s *instrumentedStore) UpdateStatusFrom(ctx context.Context, id string, from, to DispatchStatus) error {
	return repository.InstrumentVoid(ctx, collectionName, "UpdateStatusFrom", func() error {
		return s.inner.UpdateStatusFrom(ctx, id, from, to)
	})
}

func (s *instrumentedStore) MarkQueued(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, collectionName, "MarkQueued", func() error {
		return s.inner.MarkQueued(ctx, id)
	})
}

func (s *instrumentedStore) MarkCompleted(ctx context.Context, id string, durationMillis int64) error {
	return repository.InstrumentVoid(ctx, collectionName, "MarkCompleted", func() error {
		return s.inner.MarkCompleted(ctx, id, durationMillis)
	})
}

func (s *instrumentedStore) MarkError(ctx context.Context, id string, errorMsg string) error {
	return repository.InstrumentVoid(ctx, collectionName, "MarkError", func() error {
		return s.inner.MarkError(ctx, id, errorMsg)
	})
}

func (s *instrumentedStore) AppendAttempt(ctx context.Context, id string, attempt DispatchAttempt) error {
	return repository.InstrumentVoid(ctx, collectionName, "AppendAttempt", func() error {
		return s.inner.AppendAttempt(ctx, id, attempt)
	})
}

func (s *instrumentedStore) ResetToPending(ctx context.Context, id string, scheduledFor time.Time) error {
	return repository.InstrumentVoid(ctx, collectionName, "ResetToPending", func() error {
		return s.inner.ResetToPending(ctx, id, scheduledFor)
	})
}

func (s *instrumentedStore) CountByStatus(ctx context.Context, status DispatchStatus) (int64, error) {
	return repository.Instrument(ctx, collectionName, "CountByStatus", func() (int64, error) {
		return s.inner.CountByStatus(ctx, status)
	})
}

func (s *instrumentedStore) HasErrorJobsInGroup(ctx context.Context, messageGroup string) (bool, error) {
	return repository.Instrument(ctx, collectionName, "HasErrorJobsInGroup", func() (bool, error) {
		return s.inner.HasErrorJobsInGroup(ctx, messageGroup)
	})
}

func (s *instrumentedStore) GetBlockedMessageGroups(ctx context.Context, groups []string) (map[string]bool, error) {
	return repository.Instrument(ctx, collectionName, "GetBlockedMessageGroups", func() (map[string]bool, error) {
		return s.inner.GetBlockedMessageGroups(ctx, groups)
	})
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, collectionName, "Delete", func() error {
		return s.inner.Delete(ctx, id)
	})
}
