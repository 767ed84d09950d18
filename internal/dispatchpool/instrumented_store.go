package dispatchpool

import (
	"context"

	"go.flowcatalyst.tech/dispatch/internal/common/repository"
)

const collectionName = "dispatch_pools"

type instrumentedStore struct {
	inner Store
}

func newInstrumentedStore(inner Store) Store {
	return &instrumentedStore{inner: inner}
}

func (s *instrumentedStore) FindByID(ctx context.Context, id string) (*DispatchPool, error) {
	return repository.Instrument(ctx, collectionName, "FindByID", func() (*DispatchPool, error) {
		return s.inner.FindByID(ctx, id)
	})
}

func (s *instrumentedStore) FindByCode(ctx context.Context, code string) (*DispatchPool, error) {
	return repository.Instrument(ctx, collectionName, "FindByCode", func() (*DispatchPool, error) {
		return s.inner.FindByCode(ctx, code)
	})
}

func (s *instrumentedStore) FindAll(ctx context.Context) ([]*DispatchPool, error) {
	return repository.Instrument(ctx, collectionName, "FindAll", func() ([]*DispatchPool, error) {
		return s.inner.FindAll(ctx)
	})
}

func (s *instrumentedStore) FindAllActive(ctx context.Context) ([]*DispatchPool, error) {
	return repository.Instrument(ctx, collectionName, "FindAllActive", func() ([]*DispatchPool, error) {
		return s.inner.FindAllActive(ctx)
	})
}

func (s *instrumentedStore) Insert(ctx context.Context, pool *DispatchPool) error {
	return repository.InstrumentVoid(ctx, collectionName, "Insert", func() error {
		return s.inner.Insert(ctx, pool)
	})
}

func (s *instrumentedStore) Update(ctx context.Context, pool *DispatchPool) error {
	return repository.InstrumentVoid(ctx, collectionName, "Update", func() error {
		return s.inner.Update(ctx, pool)
	})
}

func (s *instrumentedStore) UpdateConfig(ctx context.Context, id string, concurrency, queueCapacity int, rateLimitPerMin *int) error {
	return repository.InstrumentVoid(ctx, collectionName, "UpdateConfig", func() error {
		return s.inner.UpdateConfig(ctx, id, concurrency, queueCapacity, rateLimitPerMin)
	})
}

func (s *instrumentedStore) SetStatus(ctx context.Context, id string, status Status) error {
	return repository.InstrumentVoid(ctx, collectionName, "SetStatus", func() error {
		return s.inner.SetStatus(ctx, id, status)
	})
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, collectionName, "Delete", func() error {
		return s.inner.Delete(ctx, id)
	})
}

func (s *instrumentedStore) Count(ctx context.Context) (int64, error) {
	return repository.Instrument(ctx, collectionName, "Count", func() (int64, error) {
		return s.inner.Count(ctx)
	})
}

func (s *instrumentedStore) CountActive(ctx context.Context) (int64, error) {
	return repository.Instrument(ctx, collectionName, "CountActive", func() (int64, error) {
		return s.inner.CountActive(ctx)
	})
}

func (s *instrumentedStore) ExistsByCode(ctx context.Context, code string) (bool, error) {
	return repository.Instrument(ctx, collectionName, "ExistsByCode", func() (bool, error) {
		return s.inner.ExistsByCode(ctx, code)
	})
}
