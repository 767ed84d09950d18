// Package leader provides distributed leader election for the dispatch
// scheduler's hot-standby model. Exactly one instance holds the lease at a
// time; the scheduler loops run only on that instance.
package leader

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
)

// Elector is the capability the scheduler depends on. Implementations
// maintain a lease in the background and report leadership via IsLeader.
type Elector interface {
	Start(ctx context.Context) error
	Stop()
	IsLeader() bool
	InstanceID() string
	OnElected(fn func())
	OnDemoted(fn func())
}

// Lease represents a distributed lock document in MongoDB
type Lease struct {
	ID         string    `bson:"_id"`        // Lock name (e.g., "dispatch-scheduler")
	InstanceID string    `bson:"instanceId"` // Unique instance identifier
	AcquiredAt time.Time `bson:"acquiredAt"` // When the lease was acquired
	ExpiresAt  time.Time `bson:"expiresAt"`  // When the lease expires
}

// Config holds configuration for leader election
type Config struct {
	// InstanceID uniquely identifies this instance (defaults to hostname)
	InstanceID string

	// LockName is the name of the lease to acquire
	LockName string

	// TTL is how long the lease is valid before expiring (default: 30s)
	TTL time.Duration

	// RefreshInterval is how often to refresh the lease while leader (default: 10s)
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(lockName string) *Config {
	instanceID, _ := os.Hostname()
	if instanceID == "" {
		instanceID = "instance-" + time.Now().Format("20060102150405")
	}

	return &Config{
		InstanceID:      instanceID,
		LockName:        lockName,
		TTL:             30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

// MongoElector provides leader election backed by a MongoDB lease document.
// Acquisition is a findOneAndUpdate upsert guarded by lease expiry, so at
// most one instance can own a lock name at a time.
type MongoElector struct {
	collection *mongo.Collection
	config     *Config
	leading    atomic.Bool
	started    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}
	onElected  func()
	onDemoted  func()
}

// NewMongoElector creates a new MongoDB-backed elector
func NewMongoElector(db *mongo.Database, config *Config) *MongoElector {
	if config == nil {
		config = DefaultConfig("dispatch-scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MongoElector{
		collection: db.Collection("leader_locks"),
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
	}
}

// OnElected sets a callback for when this instance becomes leader
func (e *MongoElector) OnElected(fn func()) {
	e.onElected = fn
}

// OnDemoted sets a callback for when this instance loses leadership
func (e *MongoElector) OnDemoted(fn func()) {
	e.onDemoted = fn
}

// Start begins the election loop. Expired leases are reaped by a TTL index
// on expiresAt; acquisition also checks expiry so election does not depend
// on the reaper's timing. Calling Start again on a running elector is a
// no-op; there is exactly one election loop per elector.
func (e *MongoElector) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		slog.Warn("Leader election already started", "instanceId", e.config.InstanceID)
		return nil
	}

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("ttl_expiresAt"),
	}

	if _, err := e.collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		slog.Debug("Could not create TTL index (may already exist)", "error", err)
	}

	go e.electionLoop()

	slog.Info("Leader election started",
		"instanceId", e.config.InstanceID,
		"lockName", e.config.LockName,
		"ttl", e.config.TTL,
		"refreshInterval", e.config.RefreshInterval)

	return nil
}

// Stop stops the election loop and releases the lease if held
func (e *MongoElector) Stop() {
	if !e.started.Load() {
		return
	}

	e.cancel()
	<-e.loopDone

	if e.leading.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Release(ctx)
	}

	slog.Info("Leader election stopped", "instanceId", e.config.InstanceID)
}

// IsLeader returns true if this instance currently holds the lease
func (e *MongoElector) IsLeader() bool {
	return e.leading.Load()
}

// InstanceID returns the instance ID of this elector
func (e *MongoElector) InstanceID() string {
	return e.config.InstanceID
}

func (e *MongoElector) electionLoop() {
	defer close(e.loopDone)

	ticker := time.NewTicker(e.config.RefreshInterval)
	defer ticker.Stop()

	e.tryAcquireOrRefresh()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tryAcquireOrRefresh()
		}
	}
}

func (e *MongoElector) tryAcquireOrRefresh() {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	wasLeader := e.leading.Load()

	if wasLeader {
		if e.refresh(ctx) {
			return
		}
		e.demote()
	}

	if e.tryAcquire(ctx) {
		if !wasLeader {
			slog.Info("Acquired leadership",
				"instanceId", e.config.InstanceID,
				"lockName", e.config.LockName)
			metrics.LeaderState.Set(1)
			metrics.LeaderTransitions.WithLabelValues("elected").Inc()
			if e.onElected != nil {
				e.onElected()
			}
		}
		e.leading.Store(true)
	}
}

func (e *MongoElector) demote() {
	e.leading.Store(false)
	slog.Warn("Lost leadership - refresh failed",
		"instanceId", e.config.InstanceID,
		"lockName", e.config.LockName)
	metrics.LeaderState.Set(0)
	metrics.LeaderTransitions.WithLabelValues("demoted").Inc()
	if e.onDemoted != nil {
		e.onDemoted()
	}
}

// tryAcquire attempts to take the lease. The filter admits the update only
// when the lease is expired or already ours; a conflicting upsert from
// another instance surfaces as a duplicate key error.
func (e *MongoElector) tryAcquire(ctx context.Context) bool {
	now := time.Now()

	filter := bson.M{
		"_id": e.config.LockName,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$lt": now}},
			{"instanceId": e.config.InstanceID},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"instanceId": e.config.InstanceID,
			"acquiredAt": now,
			"expiresAt":  now.Add(e.config.TTL),
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result Lease
	err := e.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			slog.Debug("Lease held by another instance",
				"instanceId", e.config.InstanceID,
				"lockName", e.config.LockName)
			return false
		}
		slog.Error("Failed to acquire leader lease",
			"error", err,
			"lockName", e.config.LockName)
		return false
	}

	return result.InstanceID == e.config.InstanceID
}

// refresh extends the lease we hold; fails if ownership was lost
func (e *MongoElector) refresh(ctx context.Context) bool {
	filter := bson.M{
		"_id":        e.config.LockName,
		"instanceId": e.config.InstanceID,
	}

	update := bson.M{
		"$set": bson.M{
			"expiresAt": time.Now().Add(e.config.TTL),
		},
	}

	result, err := e.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		slog.Error("Failed to refresh leader lease",
			"error", err,
			"lockName", e.config.LockName)
		return false
	}

	return result.MatchedCount > 0
}

// Release explicitly gives up the lease
func (e *MongoElector) Release(ctx context.Context) {
	filter := bson.M{
		"_id":        e.config.LockName,
		"instanceId": e.config.InstanceID,
	}

	result, err := e.collection.DeleteOne(ctx, filter)
	if err != nil {
		slog.Error("Failed to release leader lease",
			"error", err,
			"lockName", e.config.LockName)
		return
	}

	if result.DeletedCount > 0 {
		slog.Info("Released leader lease",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
	}

	e.leading.Store(false)
	metrics.LeaderState.Set(0)
}

// CurrentLeader returns the instance ID of the current leader, or an
// empty string when no instance holds a live lease
func (e *MongoElector) CurrentLeader(ctx context.Context) (string, error) {
	filter := bson.M{
		"_id":       e.config.LockName,
		"expiresAt": bson.M{"$gt": time.Now()},
	}

	var lease Lease
	err := e.collection.FindOne(ctx, filter).Decode(&lease)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", err
	}

	return lease.InstanceID, nil
}
