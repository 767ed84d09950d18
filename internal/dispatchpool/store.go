package dispatchpool

import "context"

// Store defines data access for dispatch pool configuration.
type Store interface {
	FindByID(ctx context.Context, id string) (*DispatchPool, error)
	FindByCode(ctx context.Context, code string) (*DispatchPool, error)
	FindAll(ctx context.Context) ([]*DispatchPool, error)

	// FindAllActive returns pools eligible for dispatch, sorted by code.
	FindAllActive(ctx context.Context) ([]*DispatchPool, error)

	Insert(ctx context.Context, pool *DispatchPool) error
	Update(ctx context.Context, pool *DispatchPool) error
	UpdateConfig(ctx context.Context, id string, concurrency, queueCapacity int, rateLimitPerMin *int) error
	SetStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error

	Count(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (int64, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
}
