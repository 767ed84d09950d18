package leader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
)

// Ownership-checked refresh and release. Both compare the stored owner to
// our instance ID before touching the key, so a lock taken over by another
// instance is never extended or deleted by us.
var (
	refreshScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// RedisElector provides leader election using a Redis key with SET NX EX.
// It is interchangeable with MongoElector for deployments that already run
// Redis and want election off the database.
type RedisElector struct {
	client    *redis.Client
	config    *Config
	leading   atomic.Bool
	started   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onElected func()
	onDemoted func()
}

// NewRedisElector creates a new Redis-based elector
func NewRedisElector(client *redis.Client, config *Config) *RedisElector {
	if config == nil {
		config = DefaultConfig("dispatch-scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RedisElector{
		client: client,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnElected sets a callback for when this instance becomes leader
func (e *RedisElector) OnElected(fn func()) {
	e.onElected = fn
}

// OnDemoted sets a callback for when this instance loses leadership
func (e *RedisElector) OnDemoted(fn func()) {
	e.onDemoted = fn
}

// Start begins the election loop. Calling Start again on a running elector
// is a no-op; there is exactly one election loop per elector.
func (e *RedisElector) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		slog.Warn("Redis leader election already started", "instanceId", e.config.InstanceID)
		return nil
	}

	e.wg.Add(1)
	go e.electionLoop()

	slog.Info("Redis leader election started",
		"instanceId", e.config.InstanceID,
		"lockName", e.config.LockName,
		"ttl", e.config.TTL,
		"refreshInterval", e.config.RefreshInterval)

	return nil
}

// Stop stops the election loop and releases the lock if held
func (e *RedisElector) Stop() {
	if !e.started.Load() {
		return
	}

	e.cancel()
	e.wg.Wait()

	if e.leading.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Release(ctx)
	}

	slog.Info("Redis leader election stopped", "instanceId", e.config.InstanceID)
}

// IsLeader returns true if this instance currently holds the lock
func (e *RedisElector) IsLeader() bool {
	return e.leading.Load()
}

// InstanceID returns the instance ID of this elector
func (e *RedisElector) InstanceID() string {
	return e.config.InstanceID
}

func (e *RedisElector) electionLoop() {
	defer e.wg.Done()

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

func (e *RedisElector) tryAcquireOrRefresh() {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	wasLeader := e.leading.Load()

	if wasLeader {
		if e.refresh(ctx) {
			return
		}
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

// tryAcquire attempts SET NX EX; if the key exists and we already own it
// (our old lock after a restart), it falls through to a refresh
func (e *RedisElector) tryAcquire(ctx context.Context) bool {
	success, err := e.client.SetNX(ctx, e.config.LockName, e.config.InstanceID, e.config.TTL).Result()
	if err != nil {
		slog.Error("Failed to acquire Redis leader lock",
			"error", err,
			"lockName", e.config.LockName)
		return false
	}

	if success {
		slog.Debug("Acquired Redis leader lock",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
		return true
	}

	owner, err := e.client.Get(ctx, e.config.LockName).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Error("Failed to check lock owner", "error", err)
		}
		return false
	}

	if owner == e.config.InstanceID {
		return e.refresh(ctx)
	}

	slog.Debug("Lock held by another instance",
		"instanceId", e.config.InstanceID,
		"owner", owner,
		"lockName", e.config.LockName)

	return false
}

func (e *RedisElector) refresh(ctx context.Context) bool {
	ttlSeconds := int(e.config.TTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := refreshScript.Run(ctx, e.client, []string{e.config.LockName}, e.config.InstanceID, ttlSeconds).Int()
	if err != nil {
		slog.Error("Failed to refresh Redis leader lock",
			"error", err,
			"lockName", e.config.LockName)
		return false
	}

	if result == 0 {
		slog.Debug("Lock no longer held by this instance",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
		return false
	}

	return true
}

// Release explicitly gives up the lock
func (e *RedisElector) Release(ctx context.Context) {
	result, err := releaseScript.Run(ctx, e.client, []string{e.config.LockName}, e.config.InstanceID).Int()
	if err != nil {
		slog.Error("Failed to release Redis leader lock",
			"error", err,
			"lockName", e.config.LockName)
		return
	}

	if result > 0 {
		slog.Info("Released Redis leader lock",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
	}

	e.leading.Store(false)
	metrics.LeaderState.Set(0)
}

// CurrentLeader returns the instance ID of the current leader, or an
// empty string when the lock is unheld
func (e *RedisElector) CurrentLeader(ctx context.Context) (string, error) {
	owner, err := e.client.Get(ctx, e.config.LockName).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return owner, nil
}
