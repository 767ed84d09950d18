package dispatchpool

import (
	"testing"
)

func TestDispatchPool_StatusChecks(t *testing.T) {
	pool := &DispatchPool{Status: StatusActive}
	if !pool.IsActive() || pool.IsSuspended() || pool.IsArchived() {
		t.Error("expected active pool")
	}

	pool.Status = StatusSuspended
	if pool.IsActive() || !pool.IsSuspended() {
		t.Error("expected suspended pool")
	}

	pool.Status = StatusArchived
	if !pool.IsArchived() {
		t.Error("expected archived pool")
	}
}

func TestDispatchPool_IsAnchorLevel(t *testing.T) {
	if !(&DispatchPool{}).IsAnchorLevel() {
		t.Error("pool without clientId is anchor-level")
	}
	if (&DispatchPool{ClientID: "client-1"}).IsAnchorLevel() {
		t.Error("pool with clientId is not anchor-level")
	}
}

func TestDispatchPool_Resolve(t *testing.T) {
	rate := 120

	tests := []struct {
		name string
		pool DispatchPool
		want ResolvedPool
	}{
		{
			name: "defaults applied",
			pool: DispatchPool{Code: "POOL-A"},
			want: ResolvedPool{Code: "POOL-A", Concurrency: 20, QueueCapacity: 50, RatePerMinute: 0},
		},
		{
			name: "small concurrency hits capacity floor",
			pool: DispatchPool{Code: "POOL-B", Concurrency: 5},
			want: ResolvedPool{Code: "POOL-B", Concurrency: 5, QueueCapacity: 50, RatePerMinute: 0},
		},
		{
			name: "large concurrency doubles",
			pool: DispatchPool{Code: "POOL-C", Concurrency: 100},
			want: ResolvedPool{Code: "POOL-C", Concurrency: 100, QueueCapacity: 200, RatePerMinute: 0},
		},
		{
			name: "explicit capacity wins",
			pool: DispatchPool{Code: "POOL-D", Concurrency: 100, QueueCapacity: 75},
			want: ResolvedPool{Code: "POOL-D", Concurrency: 100, QueueCapacity: 75, RatePerMinute: 0},
		},
		{
			name: "rate limit carried through",
			pool: DispatchPool{Code: "POOL-E", Concurrency: 10, RateLimitPerMin: &rate},
			want: ResolvedPool{Code: "POOL-E", Concurrency: 10, QueueCapacity: 50, RatePerMinute: 120},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pool.Resolve(); got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatchPool_ResolveIgnoresNonPositiveRate(t *testing.T) {
	zero := 0
	pool := DispatchPool{Code: "POOL-F", RateLimitPerMin: &zero}

	if got := pool.Resolve().RatePerMinute; got != 0 {
		t.Errorf("expected zero rate to resolve as unlimited, got %d", got)
	}
}
