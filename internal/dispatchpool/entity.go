// Package dispatchpool provides dispatch pool configuration. A pool is a
// named unit of delivery capacity: jobs routed to the same pool share its
// concurrency limit and rate limit.
package dispatchpool

import (
	"time"
)

// MediatorType defines how a pool delivers its messages
type MediatorType string

const (
	MediatorTypeHTTPWebhook MediatorType = "HTTP_WEBHOOK"
)

// Status represents the status of a dispatch pool
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusArchived  Status = "ARCHIVED"
)

// Pool defaults applied when a pool document leaves fields unset
const (
	DefaultConcurrency = 20

	// MinQueueCapacity is the floor for derived queue capacity
	MinQueueCapacity = 50

	// QueueCapacityMultiplier scales concurrency into queue capacity
	QueueCapacityMultiplier = 2
)

// DispatchPool represents a dispatch pool configuration.
// Collection: dispatch_pools
type DispatchPool struct {
	ID               string       `bson:"_id" json:"id"`
	Code             string       `bson:"code" json:"code"`
	Name             string       `bson:"name,omitempty" json:"name,omitempty"`
	Description      string       `bson:"description,omitempty" json:"description,omitempty"`
	ClientID         string       `bson:"clientId,omitempty" json:"clientId,omitempty"`
	ClientIdentifier string       `bson:"clientIdentifier,omitempty" json:"clientIdentifier,omitempty"`
	MediatorType     MediatorType `bson:"mediatorType" json:"mediatorType"`
	Concurrency      int          `bson:"concurrency" json:"concurrency"`
	QueueCapacity    int          `bson:"queueCapacity" json:"queueCapacity"`
	RateLimitPerMin  *int         `bson:"rateLimitPerMin,omitempty" json:"rateLimitPerMin,omitempty"`
	Status           Status       `bson:"status" json:"status"`
	CreatedAt        time.Time    `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time    `bson:"updatedAt" json:"updatedAt"`
}

// IsActive returns true if the pool is active
func (p *DispatchPool) IsActive() bool {
	return p.Status == StatusActive
}

// IsSuspended returns true if the pool is suspended
func (p *DispatchPool) IsSuspended() bool {
	return p.Status == StatusSuspended
}

// IsArchived returns true if the pool is archived
func (p *DispatchPool) IsArchived() bool {
	return p.Status == StatusArchived
}

// IsAnchorLevel returns true if this is an anchor-level pool (not
// client-specific)
func (p *DispatchPool) IsAnchorLevel() bool {
	return p.ClientID == ""
}

// ResolvedPool is the worker-facing view of a pool: every field is concrete
// with defaults applied, ready to size a process pool.
type ResolvedPool struct {
	Code          string
	Concurrency   int
	QueueCapacity int

	// RatePerMinute is 0 when the pool is unlimited
	RatePerMinute int
}

// Resolve applies defaults and derives queue capacity. Capacity is twice
// the concurrency with a floor of MinQueueCapacity, unless the pool sets an
// explicit capacity.
func (p *DispatchPool) Resolve() ResolvedPool {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	capacity := p.QueueCapacity
	if capacity <= 0 {
		capacity = concurrency * QueueCapacityMultiplier
		if capacity < MinQueueCapacity {
			capacity = MinQueueCapacity
		}
	}

	rate := 0
	if p.RateLimitPerMin != nil && *p.RateLimitPerMin > 0 {
		rate = *p.RateLimitPerMin
	}

	return ResolvedPool{
		Code:          p.Code,
		Concurrency:   concurrency,
		QueueCapacity: capacity,
		RatePerMinute: rate,
	}
}
