// Package scheduler promotes due dispatch jobs onto the queue. It polls the
// job store for PENDING work, groups it by dispatch pool, gates
// BLOCK_ON_ERROR groups, and publishes message pointers for the router to
// consume. A stale-recovery loop returns QUEUED jobs whose publish or
// consumption was lost back to PENDING.
//
// All loops run only while this instance holds the scheduler lease, so a
// hot-standby deployment promotes each job exactly once.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"log/slog"

	"go.flowcatalyst.tech/dispatch/internal/common/leader"
	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
	"go.flowcatalyst.tech/dispatch/internal/queue"
	"go.flowcatalyst.tech/dispatch/internal/router/model"
)

// Config holds configuration for the dispatch scheduler
type Config struct {
	// PollInterval is how often to poll for pending jobs
	PollInterval time.Duration

	// BatchSize is the maximum jobs to fetch per poll
	BatchSize int

	// MaxConcurrentPools limits concurrent per-pool promotion
	MaxConcurrentPools int

	// StaleThreshold is how long before a QUEUED job is considered stale
	StaleThreshold time.Duration

	// StaleCheckInterval is how often to check for stale jobs
	StaleCheckInterval time.Duration

	// ProcessingEndpoint is the URL the message router calls back to
	// process jobs, e.g. "http://localhost:8080/api/dispatch/process"
	ProcessingEndpoint string

	// DefaultDispatchPoolCode is used when a job names no pool
	DefaultDispatchPoolCode string

	// AppKey signs the per-job auth tokens embedded in message pointers
	AppKey string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		PollInterval:            5 * time.Second,
		BatchSize:               100,
		MaxConcurrentPools:      10,
		StaleThreshold:          15 * time.Minute,
		StaleCheckInterval:      60 * time.Second,
		ProcessingEndpoint:      "http://localhost:8080/api/dispatch/process",
		DefaultDispatchPoolCode: "DEFAULT-POOL",
	}
}

// Scheduler promotes pending dispatch jobs onto the queue.
type Scheduler struct {
	config    *Config
	store     dispatchjob.Store
	publisher queue.Publisher

	blockChecker *BlockChecker
	elector      leader.Elector
	authService  *dispatchjob.AuthService

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewScheduler creates a new dispatch scheduler. The elector may be nil, in
// which case this instance always schedules. The scheduler only consults
// the elector's leadership state; the caller owns the elector's lifecycle.
func NewScheduler(store dispatchjob.Store, publisher queue.Publisher, elector leader.Elector, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:       config,
		store:        store,
		publisher:    publisher,
		blockChecker: NewBlockChecker(store),
		elector:      elector,
		authService:  dispatchjob.NewAuthService(config.AppKey, nil),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the scheduler loops
func (s *Scheduler) Start() {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		slog.Warn("Scheduler already running")
		return
	}
	s.running = true
	s.runningMu.Unlock()

	s.wg.Add(1)
	go s.pollLoop()

	s.wg.Add(1)
	go s.staleRecoveryLoop()

	slog.Info("Dispatch scheduler started",
		"pollInterval", s.config.PollInterval,
		"batchSize", s.config.BatchSize,
		"leaderElection", s.elector != nil)
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	slog.Info("Stopping dispatch scheduler")

	s.cancel()
	s.wg.Wait()

	slog.Info("Dispatch scheduler stopped")
}

// IsRunning returns true if the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

// IsLeader returns true if this instance holds the scheduler lease, or if
// leader election is not configured
func (s *Scheduler) IsLeader() bool {
	if s.elector == nil {
		return true
	}
	return s.elector.IsLeader()
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Initial poll without waiting for the first tick
	s.pollAndDispatch()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollAndDispatch()
		}
	}
}

// pollAndDispatch fetches due PENDING jobs and promotes them onto the queue
func (s *Scheduler) pollAndDispatch() {
	if !s.IsLeader() {
		slog.Debug("Skipping poll - not the leader")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	jobs, err := s.store.FindReadyPending(ctx, int64(s.config.BatchSize))
	if err != nil {
		slog.Error("Failed to poll for pending jobs", "error", err)
		return
	}

	metrics.SchedulerJobsPending.Set(float64(len(jobs)))

	if len(jobs) == 0 {
		return
	}

	// Group jobs by dispatch pool
	jobsByPool := make(map[string][]*dispatchjob.DispatchJob)
	for _, job := range jobs {
		poolCode := job.DispatchPoolID
		if poolCode == "" {
			poolCode = s.config.DefaultDispatchPoolCode
		}
		jobsByPool[poolCode] = append(jobsByPool[poolCode], job)
	}

	slog.Debug("Polled pending dispatch jobs", "jobCount", len(jobs), "poolCount", len(jobsByPool))

	// Promote pools concurrently with a limit
	sem := make(chan struct{}, s.config.MaxConcurrentPools)
	var wg sync.WaitGroup

	for poolCode, poolJobs := range jobsByPool {
		sem <- struct{}{}
		wg.Add(1)

		go func(pool string, jobs []*dispatchjob.DispatchJob) {
			defer wg.Done()
			defer func() { <-sem }()

			s.dispatchPoolJobs(ctx, pool, jobs)
		}(poolCode, poolJobs)
	}

	wg.Wait()
}

// dispatchPoolJobs promotes the jobs of one pool, holding back jobs whose
// message group is blocked by BLOCK_ON_ERROR gating
func (s *Scheduler) dispatchPoolJobs(ctx context.Context, poolCode string, jobs []*dispatchjob.DispatchJob) {
	allowed, blockedGroups := s.blockChecker.FilterBlockedJobs(ctx, jobs)

	blocked := len(jobs) - len(allowed)
	if blocked > 0 {
		metrics.SchedulerBlockedJobs.Add(float64(blocked))
	}

	dispatched := 0
	for _, job := range allowed {
		if err := s.dispatchJob(ctx, job, poolCode); err != nil {
			slog.Error("Failed to dispatch job", "error", err, "jobId", job.ID, "pool", poolCode)
			continue
		}
		dispatched++
	}

	if blocked > 0 {
		slog.Info("Dispatched jobs with BLOCK_ON_ERROR filtering",
			"pool", poolCode,
			"dispatched", dispatched,
			"blocked", blocked,
			"blockedGroups", len(blockedGroups))
	}
}

// dispatchJob publishes a single job's message pointer and marks it QUEUED.
// Publish happens first: a job published but not marked is recovered by the
// stale-queued loop, while a job marked but never published would be lost
// until recovery kicks in.
func (s *Scheduler) dispatchJob(ctx context.Context, job *dispatchjob.DispatchJob, poolCode string) error {
	authToken, err := s.authService.GenerateToken(job.ID)
	if err != nil {
		slog.Warn("Failed to generate auth token, using empty token", "error", err, "jobId", job.ID)
		authToken = ""
	}

	pointer := &model.MessagePointer{
		ID:              job.ID,
		PoolCode:        poolCode,
		AuthToken:       authToken,
		MediationType:   model.MediationTypeHTTP,
		MediationTarget: s.config.ProcessingEndpoint,
		MessageGroupID:  job.MessageGroup,
	}

	data, err := json.Marshal(pointer)
	if err != nil {
		return err
	}

	subject := "dispatch." + poolCode

	if job.MessageGroup != "" {
		err = s.publisher.PublishWithGroup(ctx, subject, data, job.MessageGroup)
	} else {
		err = s.publisher.Publish(ctx, subject, data)
	}
	if err != nil {
		return err
	}

	if err := s.store.MarkQueued(ctx, job.ID); err != nil {
		// Already published; the router may process the job before this
		// status lands. Log and move on.
		slog.Error("Failed to mark job QUEUED", "error", err, "jobId", job.ID)
	}

	metrics.SchedulerJobsScheduled.Inc()

	slog.Debug("Dispatched job to queue", "jobId", job.ID, "pool", poolCode, "subject", subject)

	return nil
}

func (s *Scheduler) staleRecoveryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.recoverStaleJobs()
		}
	}
}

// recoverStaleJobs returns QUEUED jobs older than the threshold to PENDING
func (s *Scheduler) recoverStaleJobs() {
	if !s.IsLeader() {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	stale, err := s.store.FindStaleQueued(ctx, s.config.StaleThreshold)
	if err != nil {
		slog.Error("Failed to find stale jobs", "error", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	recovered := 0
	for _, job := range stale {
		if err := s.store.ResetToPending(ctx, job.ID, time.Now()); err != nil {
			slog.Error("Failed to reset stale job", "error", err, "jobId", job.ID)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		metrics.SchedulerStaleJobs.Add(float64(recovered))
		slog.Warn("Recovered stale QUEUED jobs", "count", recovered, "threshold", s.config.StaleThreshold)
	}
}
