package leader

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("dispatch-scheduler")

	if cfg.LockName != "dispatch-scheduler" {
		t.Errorf("expected lock name 'dispatch-scheduler', got %s", cfg.LockName)
	}
	if cfg.InstanceID == "" {
		t.Error("expected non-empty instance ID")
	}
	if cfg.TTL != 30*time.Second {
		t.Errorf("expected TTL 30s, got %v", cfg.TTL)
	}
	if cfg.RefreshInterval != 10*time.Second {
		t.Errorf("expected refresh interval 10s, got %v", cfg.RefreshInterval)
	}
	if cfg.RefreshInterval >= cfg.TTL {
		t.Error("refresh interval must be shorter than TTL or leadership flaps")
	}
}

func TestLeaseExpiry(t *testing.T) {
	now := time.Now()
	lease := Lease{
		ID:         "dispatch-scheduler",
		InstanceID: "instance-a",
		AcquiredAt: now.Add(-1 * time.Minute),
		ExpiresAt:  now.Add(-1 * time.Second),
	}

	if !lease.ExpiresAt.Before(now) {
		t.Error("lease should be expired")
	}

	fresh := Lease{
		ID:         "dispatch-scheduler",
		InstanceID: "instance-b",
		AcquiredAt: now,
		ExpiresAt:  now.Add(30 * time.Second),
	}

	if fresh.ExpiresAt.Before(now) {
		t.Error("fresh lease should not be expired")
	}
}

func TestMongoElectorDefaults(t *testing.T) {
	e := &MongoElector{config: DefaultConfig("test-lock")}

	if e.IsLeader() {
		t.Error("new elector should not be leader before acquiring")
	}
	if e.InstanceID() != e.config.InstanceID {
		t.Errorf("InstanceID() = %s, want %s", e.InstanceID(), e.config.InstanceID)
	}
}

func TestMongoElectorCallbacks(t *testing.T) {
	e := &MongoElector{config: DefaultConfig("test-lock")}

	elected := 0
	demoted := 0
	e.OnElected(func() { elected++ })
	e.OnDemoted(func() { demoted++ })

	// Simulate the transitions the election loop drives
	e.leading.Store(false)
	wasLeader := e.leading.Load()
	if !wasLeader {
		e.onElected()
		e.leading.Store(true)
	}

	if elected != 1 {
		t.Errorf("expected 1 elected callback, got %d", elected)
	}

	e.demote()

	if demoted != 1 {
		t.Errorf("expected 1 demoted callback, got %d", demoted)
	}
	if e.IsLeader() {
		t.Error("elector should not report leadership after demotion")
	}
}

func TestMongoElectorDemoteWithoutCallback(t *testing.T) {
	e := &MongoElector{config: DefaultConfig("test-lock")}
	e.leading.Store(true)

	e.demote()
	if e.IsLeader() {
		t.Error("expected not leader after demote")
	}

	// Demote with no callback set must not panic
	e.onDemoted = nil
	e.demote()
}

func TestRedisElectorDefaults(t *testing.T) {
	e := NewRedisElector(nil, nil)

	if e.config.LockName != "dispatch-scheduler" {
		t.Errorf("expected default lock name 'dispatch-scheduler', got %s", e.config.LockName)
	}
	if e.IsLeader() {
		t.Error("new elector should not be leader before acquiring")
	}
	if e.InstanceID() == "" {
		t.Error("expected non-empty instance ID")
	}
}

func TestMongoElectorStopWithoutStart(t *testing.T) {
	e := &MongoElector{
		config:   DefaultConfig("test-lock"),
		loopDone: make(chan struct{}),
	}

	// Stop before Start must return immediately instead of blocking on a
	// loop that was never spawned.
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop without Start blocked")
	}
}

func TestRedisElectorStopWithoutStart(t *testing.T) {
	e := NewRedisElector(nil, DefaultConfig("test-lock"))

	// Must not touch the (nil) client when the loop never started
	e.Stop()
}

func TestElectorInterface(t *testing.T) {
	// Both backends must satisfy the capability the scheduler depends on
	var _ Elector = (*MongoElector)(nil)
	var _ Elector = (*RedisElector)(nil)
}

func BenchmarkLeadershipCheck(b *testing.B) {
	e := &MongoElector{config: DefaultConfig("bench-lock")}
	e.leading.Store(true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.IsLeader()
	}
}
