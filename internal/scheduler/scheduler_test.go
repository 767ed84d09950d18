package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
	"go.flowcatalyst.tech/dispatch/internal/router/model"
)

// mockStore implements dispatchjob.Store for testing
type mockStore struct {
	mu sync.Mutex

	pending     []*dispatchjob.DispatchJob
	stale       []*dispatchjob.DispatchJob
	blocked     map[string]bool
	queuedIDs   []string
	resetIDs    []string
	findErr     error
	markErr     error
	blockedErr  error
}

func (m *mockStore) FindByID(ctx context.Context, id string) (*dispatchjob.DispatchJob, error) {
	return nil, dispatchjob.ErrNotFound
}

func (m *mockStore) FindByIdempotencyKey(ctx context.Context, key string) (*dispatchjob.DispatchJob, error) {
	return nil, dispatchjob.ErrNotFound
}

func (m *mockStore) FindReadyPending(ctx context.Context, limit int64) ([]*dispatchjob.DispatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if int64(len(m.pending)) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *mockStore) FindStaleQueued(ctx context.Context, threshold time.Duration) ([]*dispatchjob.DispatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale, nil
}

func (m *mockStore) Insert(ctx context.Context, job *dispatchjob.DispatchJob) error {
	return nil
}

func (m *mockStore) InsertMany(ctx context.Context, jobs []*dispatchjob.DispatchJob) error {
	return nil
}

func (m *mockStore) UpdateStatusFrom(ctx context.Context, id string, from, to dispatchjob.DispatchStatus) error {
	return nil
}

func (m *mockStore) MarkQueued(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.queuedIDs = append(m.queuedIDs, id)
	return nil
}

func (m *mockStore) MarkCompleted(ctx context.Context, id string, durationMillis int64) error {
	return nil
}

func (m *mockStore) MarkError(ctx context.Context, id string, errorMsg string) error {
	return nil
}

func (m *mockStore) AppendAttempt(ctx context.Context, id string, attempt dispatchjob.DispatchAttempt) error {
	return nil
}

func (m *mockStore) ResetToPending(ctx context.Context, id string, scheduledFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIDs = append(m.resetIDs, id)
	return nil
}

func (m *mockStore) CountByStatus(ctx context.Context, status dispatchjob.DispatchStatus) (int64, error) {
	return 0, nil
}

func (m *mockStore) HasErrorJobsInGroup(ctx context.Context, messageGroup string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockedErr != nil {
		return false, m.blockedErr
	}
	return m.blocked[messageGroup], nil
}

func (m *mockStore) GetBlockedMessageGroups(ctx context.Context, groups []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockedErr != nil {
		return nil, m.blockedErr
	}
	result := make(map[string]bool)
	for _, g := range groups {
		if m.blocked[g] {
			result[g] = true
		}
	}
	return result, nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *mockStore) getQueuedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queuedIDs...)
}

func (m *mockStore) getResetIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resetIDs...)
}

// publishedMessage captures one publish call
type publishedMessage struct {
	subject string
	data    []byte
	group   string
}

// mockPublisher implements queue.Publisher for testing
type mockPublisher struct {
	mu         sync.Mutex
	published  []publishedMessage
	publishErr error
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return m.PublishWithGroup(ctx, subject, data, "")
}

func (m *mockPublisher) PublishWithGroup(ctx context.Context, subject string, data []byte, messageGroup string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedMessage{subject: subject, data: data, group: messageGroup})
	return nil
}

func (m *mockPublisher) PublishWithDeduplication(ctx context.Context, subject string, data []byte, deduplicationID string) error {
	return m.Publish(ctx, subject, data)
}

func (m *mockPublisher) Close() error {
	return nil
}

func (m *mockPublisher) getPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

// mockElector implements leader.Elector for testing
type mockElector struct {
	leading atomic.Bool
	started atomic.Bool
	stopped atomic.Bool
}

func (m *mockElector) Start(ctx context.Context) error { m.started.Store(true); return nil }
func (m *mockElector) Stop()                           { m.stopped.Store(true) }
func (m *mockElector) IsLeader() bool                  { return m.leading.Load() }
func (m *mockElector) InstanceID() string              { return "test-instance" }
func (m *mockElector) OnElected(fn func())             {}
func (m *mockElector) OnDemoted(fn func())             {}

func pendingJob(id, pool, group string) *dispatchjob.DispatchJob {
	return &dispatchjob.DispatchJob{
		ID:             id,
		Status:         dispatchjob.DispatchStatusPending,
		DispatchPoolID: pool,
		MessageGroup:   group,
		TargetURL:      "https://example.com/webhook",
	}
}

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(&mockStore{}, &mockPublisher{}, nil, nil)
	if s == nil {
		t.Fatal("NewScheduler returned nil")
	}
	if s.config.BatchSize != 100 {
		t.Errorf("Expected default batch size 100, got %d", s.config.BatchSize)
	}
	if s.config.PollInterval != 5*time.Second {
		t.Errorf("Expected default poll interval 5s, got %v", s.config.PollInterval)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(&mockStore{}, &mockPublisher{}, nil, &Config{
		PollInterval:       time.Hour,
		BatchSize:          100,
		MaxConcurrentPools: 10,
		StaleThreshold:     15 * time.Minute,
		StaleCheckInterval: time.Hour,
		AppKey:             "test-key",
	})

	s.Start()
	if !s.IsRunning() {
		t.Error("Expected scheduler to be running")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}
}

func TestSchedulerLeavesElectorLifecycleToCaller(t *testing.T) {
	// The elector is started once by the process wiring. If the scheduler
	// started it too, two election loops would share one done channel and
	// shutdown would close it twice.
	elector := &mockElector{}
	s := NewScheduler(&mockStore{}, &mockPublisher{}, elector, &Config{
		PollInterval:       time.Hour,
		BatchSize:          100,
		MaxConcurrentPools: 10,
		StaleThreshold:     15 * time.Minute,
		StaleCheckInterval: time.Hour,
		AppKey:             "test-key",
	})

	s.Start()
	s.Stop()

	if elector.started.Load() {
		t.Error("Expected scheduler not to start the elector")
	}
	if elector.stopped.Load() {
		t.Error("Expected scheduler not to stop the elector")
	}
}

func TestPollAndDispatch_PublishesAndMarksQueued(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{
			pendingJob("job-1", "POOL-A", ""),
			pendingJob("job-2", "POOL-A", ""),
		},
	}
	publisher := &mockPublisher{}

	s := NewScheduler(store, publisher, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	published := publisher.getPublished()
	if len(published) != 2 {
		t.Fatalf("Expected 2 published messages, got %d", len(published))
	}

	if published[0].subject != "dispatch.POOL-A" {
		t.Errorf("Expected subject dispatch.POOL-A, got %s", published[0].subject)
	}

	var pointer model.MessagePointer
	if err := json.Unmarshal(published[0].data, &pointer); err != nil {
		t.Fatalf("Failed to unmarshal message pointer: %v", err)
	}

	if pointer.PoolCode != "POOL-A" {
		t.Errorf("Expected pool code POOL-A, got %s", pointer.PoolCode)
	}
	if pointer.MediationTarget != "http://localhost:8080/api/dispatch/process" {
		t.Errorf("Unexpected mediation target: %s", pointer.MediationTarget)
	}
	if pointer.AuthToken == "" {
		t.Error("Expected a non-empty auth token")
	}

	queued := store.getQueuedIDs()
	if len(queued) != 2 {
		t.Errorf("Expected 2 jobs marked QUEUED, got %d", len(queued))
	}
}

func TestPollAndDispatch_DefaultPool(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{pendingJob("job-1", "", "")},
	}
	publisher := &mockPublisher{}

	s := NewScheduler(store, publisher, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	published := publisher.getPublished()
	if len(published) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(published))
	}

	if published[0].subject != "dispatch.DEFAULT-POOL" {
		t.Errorf("Expected subject dispatch.DEFAULT-POOL, got %s", published[0].subject)
	}
}

func TestPollAndDispatch_MessageGroupPublish(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{pendingJob("job-1", "POOL-A", "order-42")},
	}
	publisher := &mockPublisher{}

	s := NewScheduler(store, publisher, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	published := publisher.getPublished()
	if len(published) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(published))
	}
	if published[0].group != "order-42" {
		t.Errorf("Expected message group order-42, got %s", published[0].group)
	}

	var pointer model.MessagePointer
	if err := json.Unmarshal(published[0].data, &pointer); err != nil {
		t.Fatalf("Failed to unmarshal message pointer: %v", err)
	}
	if pointer.MessageGroupID != "order-42" {
		t.Errorf("Expected messageGroupId order-42, got %s", pointer.MessageGroupID)
	}
}

func TestPollAndDispatch_BlockOnError(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{
			{
				ID:             "job-1",
				Status:         dispatchjob.DispatchStatusPending,
				DispatchPoolID: "POOL-A",
				Mode:           dispatchjob.DispatchModeBlockOnError,
				MessageGroup:   "broken-group",
			},
			{
				ID:             "job-2",
				Status:         dispatchjob.DispatchStatusPending,
				DispatchPoolID: "POOL-A",
				Mode:           dispatchjob.DispatchModeBlockOnError,
				MessageGroup:   "healthy-group",
			},
			{
				ID:             "job-3",
				Status:         dispatchjob.DispatchStatusPending,
				DispatchPoolID: "POOL-A",
				Mode:           dispatchjob.DispatchModeImmediate,
				MessageGroup:   "broken-group",
			},
		},
		blocked: map[string]bool{"broken-group": true},
	}
	publisher := &mockPublisher{}

	s := NewScheduler(store, publisher, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	published := publisher.getPublished()
	if len(published) != 2 {
		t.Fatalf("Expected 2 published messages (job-1 blocked), got %d", len(published))
	}

	for _, p := range published {
		var pointer model.MessagePointer
		if err := json.Unmarshal(p.data, &pointer); err != nil {
			t.Fatalf("Failed to unmarshal message pointer: %v", err)
		}
		if pointer.ID == "job-1" {
			t.Error("job-1 should have been held back by BLOCK_ON_ERROR gating")
		}
	}
}

func TestPollAndDispatch_BlockCheckFailsOpen(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{
			{
				ID:             "job-1",
				Status:         dispatchjob.DispatchStatusPending,
				DispatchPoolID: "POOL-A",
				Mode:           dispatchjob.DispatchModeBlockOnError,
				MessageGroup:   "group-1",
			},
		},
		blockedErr: errors.New("store unavailable"),
	}
	publisher := &mockPublisher{}

	s := NewScheduler(store, publisher, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	if len(publisher.getPublished()) != 1 {
		t.Error("Block check errors should fail open and still dispatch")
	}
}

func TestPollAndDispatch_PublishFailureLeavesPending(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{pendingJob("job-1", "POOL-A", "")},
	}
	publisher := &mockPublisher{publishErr: errors.New("broker down")}

	s := NewScheduler(store, publisher, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	if len(store.getQueuedIDs()) != 0 {
		t.Error("Job must not be marked QUEUED when publish fails")
	}
}

func TestPollAndDispatch_SkipsWhenNotLeader(t *testing.T) {
	store := &mockStore{
		pending: []*dispatchjob.DispatchJob{pendingJob("job-1", "POOL-A", "")},
	}
	publisher := &mockPublisher{}
	elector := &mockElector{} // not leading

	s := NewScheduler(store, publisher, elector, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.pollAndDispatch()

	if len(publisher.getPublished()) != 0 {
		t.Error("Non-leader must not dispatch jobs")
	}

	elector.leading.Store(true)
	s.pollAndDispatch()

	if len(publisher.getPublished()) != 1 {
		t.Error("Leader should dispatch jobs")
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	store := &mockStore{
		stale: []*dispatchjob.DispatchJob{
			{ID: "stale-1", Status: dispatchjob.DispatchStatusQueued},
			{ID: "stale-2", Status: dispatchjob.DispatchStatusQueued},
		},
	}

	s := NewScheduler(store, &mockPublisher{}, nil, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.recoverStaleJobs()

	reset := store.getResetIDs()
	if len(reset) != 2 {
		t.Fatalf("Expected 2 jobs reset to PENDING, got %d", len(reset))
	}
}

func TestRecoverStaleJobs_SkipsWhenNotLeader(t *testing.T) {
	store := &mockStore{
		stale: []*dispatchjob.DispatchJob{
			{ID: "stale-1", Status: dispatchjob.DispatchStatusQueued},
		},
	}
	elector := &mockElector{}

	s := NewScheduler(store, &mockPublisher{}, elector, &Config{
		PollInterval:            time.Hour,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      time.Hour,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  "test-key",
	})

	s.recoverStaleJobs()

	if len(store.getResetIDs()) != 0 {
		t.Error("Non-leader must not recover stale jobs")
	}
}

func TestIsLeaderWithoutElector(t *testing.T) {
	s := NewScheduler(&mockStore{}, &mockPublisher{}, nil, nil)
	if !s.IsLeader() {
		t.Error("Scheduler without an elector should always be leader")
	}
}
