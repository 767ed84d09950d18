// Package manager provides the queue manager for the message router
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/common/tsid"
	"go.flowcatalyst.tech/dispatch/internal/dispatchpool"
	"go.flowcatalyst.tech/dispatch/internal/queue"
	"go.flowcatalyst.tech/dispatch/internal/router/mediator"
	"go.flowcatalyst.tech/dispatch/internal/router/model"
	"go.flowcatalyst.tech/dispatch/internal/router/pool"
)

// Default pool sizing for pools created outside of config sync
const (
	DefaultPoolConcurrency         = 20
	DefaultQueueCapacityMultiplier = 2
	MinQueueCapacity               = 50
	DefaultPoolCode                = "DEFAULT-POOL"
)

// StandbyChecker reports whether this instance holds the primary role
type StandbyChecker interface {
	// IsPrimary returns true if this instance is the active leader
	IsPrimary() bool
}

// PoolConfig holds configuration for a processing pool
type PoolConfig struct {
	Code               string
	Concurrency        int
	QueueCapacity      int
	RateLimitPerMinute *int
}

// ConfigSyncConfig holds configuration for pool config sync
type ConfigSyncConfig struct {
	// Enabled controls whether config sync is active
	Enabled bool
	// Interval is how often to sync pool configs from the database
	Interval time.Duration
	// InitialRetryAttempts is how many times to retry the initial config sync
	InitialRetryAttempts int
	// InitialRetryDelay is the delay between initial retry attempts
	InitialRetryDelay time.Duration
	// FailOnInitialSyncError if true, will panic if initial sync fails after all retries
	FailOnInitialSyncError bool
}

// DefaultConfigSyncConfig returns sensible defaults
func DefaultConfigSyncConfig() *ConfigSyncConfig {
	return &ConfigSyncConfig{
		Enabled:                false,
		Interval:               5 * time.Minute,
		InitialRetryAttempts:   12,
		InitialRetryDelay:      5 * time.Second,
		FailOnInitialSyncError: true,
	}
}

// PipelineCleanupConfig holds configuration for stale pipeline entry cleanup
type PipelineCleanupConfig struct {
	// Enabled controls whether cleanup is active
	Enabled bool
	// Interval is how often to run the cleanup
	Interval time.Duration
	// TTL is how long a message can be in the pipeline before being considered stale
	TTL time.Duration
}

// DefaultPipelineCleanupConfig returns sensible defaults
func DefaultPipelineCleanupConfig() *PipelineCleanupConfig {
	return &PipelineCleanupConfig{
		Enabled:  true,
		Interval: 5 * time.Minute,
		TTL:      1 * time.Hour,
	}
}

// VisibilityExtenderConfig holds configuration for visibility timeout extension
type VisibilityExtenderConfig struct {
	// Enabled controls whether visibility extension is active
	Enabled bool
	// Interval is how often to check for messages needing extension
	Interval time.Duration
	// Threshold is how long a message must be processing before we extend
	Threshold time.Duration
	// ExtensionSeconds is how many seconds to extend visibility
	ExtensionSeconds int32
}

// DefaultVisibilityExtenderConfig returns sensible defaults. The interval
// must stay below the broker's visibility timeout or in-flight messages get
// redelivered mid-processing.
func DefaultVisibilityExtenderConfig() *VisibilityExtenderConfig {
	return &VisibilityExtenderConfig{
		Enabled:          true,
		Interval:         55 * time.Second,
		Threshold:        50 * time.Second,
		ExtensionSeconds: 120,
	}
}

// ConsumerHealthConfig holds configuration for consumer health monitoring
type ConsumerHealthConfig struct {
	// Enabled controls whether consumer health monitoring is active
	Enabled bool
	// CheckInterval is how often to check consumer health
	CheckInterval time.Duration
	// StallThreshold is how long without activity before considering stalled
	StallThreshold time.Duration
	// MaxRestartAttempts is the maximum restart attempts before giving up
	MaxRestartAttempts int
	// RestartDelay is the delay between restart attempts
	RestartDelay time.Duration
}

// DefaultConsumerHealthConfig returns sensible defaults
func DefaultConsumerHealthConfig() *ConsumerHealthConfig {
	return &ConsumerHealthConfig{
		Enabled:            true,
		CheckInterval:      60 * time.Second,
		StallThreshold:     60 * time.Second,
		MaxRestartAttempts: 3,
		RestartDelay:       5 * time.Second,
	}
}

// LeakDetectionConfig holds configuration for pipeline map leak detection
type LeakDetectionConfig struct {
	// Enabled controls whether leak detection is active
	Enabled bool
	// Interval is how often to check for leaks
	Interval time.Duration
}

// DefaultLeakDetectionConfig returns sensible defaults
func DefaultLeakDetectionConfig() *LeakDetectionConfig {
	return &LeakDetectionConfig{
		Enabled:  true,
		Interval: 30 * time.Second,
	}
}

// WarningService surfaces operational warnings to the monitoring API
type WarningService interface {
	AddWarning(category, severity, message, source string)
}

// QueueManager routes consumed messages to processing pools and tracks
// everything currently in flight.
type QueueManager struct {
	pools         map[string]*pool.ProcessPool
	poolsMu       sync.RWMutex
	drainingPools sync.Map // map[string]*pool.ProcessPool - pools being drained

	// Dual-ID deduplication: a message is tracked under its broker message
	// ID (redelivery detection) and its job ID (requeue detection).
	inPipelineMap        sync.Map // pipelineKey (brokerMessageId or jobId) -> *DispatchMessage
	inPipelineTimestamps sync.Map // pipelineKey -> int64 (timestamp in millis)
	jobIDToPipelineKey   sync.Map // jobId -> pipelineKey

	mediator        *mediator.HTTPMediator
	messageCallback *MessageCallbackImpl
	running         bool
	runningMu       sync.Mutex
	initialized     bool // Tracks whether initial config sync has completed

	standbyChecker StandbyChecker

	// Config sync
	poolStore  dispatchpool.Store
	syncConfig *ConfigSyncConfig
	syncCtx    context.Context
	syncCancel context.CancelFunc
	syncWg     sync.WaitGroup

	// Pipeline cleanup
	cleanupConfig *PipelineCleanupConfig
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup

	// Visibility extender (for long-running messages)
	visibilityConfig *VisibilityExtenderConfig
	visibilityCtx    context.Context
	visibilityCancel context.CancelFunc
	visibilityWg     sync.WaitGroup

	// Pipeline map leak detection
	leakDetectionConfig *LeakDetectionConfig
	leakDetectionCtx    context.Context
	leakDetectionCancel context.CancelFunc
	leakDetectionWg     sync.WaitGroup
	warningService      WarningService
}

// NewQueueManager creates a new queue manager
func NewQueueManager(mediatorCfg *mediator.HTTPMediatorConfig) *QueueManager {
	httpMediator := mediator.NewHTTPMediator(mediatorCfg)

	qm := &QueueManager{
		pools:               make(map[string]*pool.ProcessPool),
		mediator:            httpMediator,
		syncConfig:          DefaultConfigSyncConfig(),
		cleanupConfig:       DefaultPipelineCleanupConfig(),
		visibilityConfig:    DefaultVisibilityExtenderConfig(),
		leakDetectionConfig: DefaultLeakDetectionConfig(),
	}

	qm.messageCallback = &MessageCallbackImpl{manager: qm}

	return qm
}

// WithVisibilityExtender configures visibility timeout extension for long-running messages
func (m *QueueManager) WithVisibilityExtender(cfg *VisibilityExtenderConfig) *QueueManager {
	if cfg == nil {
		cfg = DefaultVisibilityExtenderConfig()
	}
	m.visibilityConfig = cfg
	return m
}

// WithPipelineCleanup configures stale pipeline entry cleanup
func (m *QueueManager) WithPipelineCleanup(cfg *PipelineCleanupConfig) *QueueManager {
	if cfg == nil {
		cfg = DefaultPipelineCleanupConfig()
	}
	m.cleanupConfig = cfg
	return m
}

// WithConfigSync enables pool configuration sync from the database. When
// enabled, the pool catalog is authoritative: messages for pools not in the
// catalog are nacked rather than routed to an ad-hoc pool.
func (m *QueueManager) WithConfigSync(db *mongo.Database, cfg *ConfigSyncConfig) *QueueManager {
	if cfg == nil {
		cfg = DefaultConfigSyncConfig()
	}
	m.poolStore = dispatchpool.NewStore(db)
	m.syncConfig = cfg
	return m
}

// WithPoolStore sets the pool store directly (used by tests)
func (m *QueueManager) WithPoolStore(store dispatchpool.Store, cfg *ConfigSyncConfig) *QueueManager {
	if cfg == nil {
		cfg = DefaultConfigSyncConfig()
	}
	m.poolStore = store
	m.syncConfig = cfg
	return m
}

// WithStandbyChecker sets the standby checker for HA mode.
// When set, config sync only runs while this instance is the primary.
func (m *QueueManager) WithStandbyChecker(checker StandbyChecker) *QueueManager {
	m.standbyChecker = checker
	return m
}

// WithLeakDetection configures pipeline map leak detection
func (m *QueueManager) WithLeakDetection(cfg *LeakDetectionConfig) *QueueManager {
	if cfg == nil {
		cfg = DefaultLeakDetectionConfig()
	}
	m.leakDetectionConfig = cfg
	return m
}

// WithWarningService sets the warning service for reporting issues
func (m *QueueManager) WithWarningService(ws WarningService) *QueueManager {
	m.warningService = ws
	return m
}

// Start starts the queue manager
func (m *QueueManager) Start() {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	m.running = true

	if m.syncConfig.Enabled && m.poolStore != nil {
		m.syncCtx, m.syncCancel = context.WithCancel(context.Background())
		m.syncWg.Add(1)
		go m.runConfigSync()
		slog.Info("Pool config sync started", "interval", m.syncConfig.Interval)
	}

	if m.cleanupConfig.Enabled {
		m.cleanupCtx, m.cleanupCancel = context.WithCancel(context.Background())
		m.cleanupWg.Add(1)
		go m.runPipelineCleanup()
		slog.Info("Pipeline cleanup started",
			"interval", m.cleanupConfig.Interval,
			"ttl", m.cleanupConfig.TTL)
	}

	if m.visibilityConfig.Enabled {
		m.visibilityCtx, m.visibilityCancel = context.WithCancel(context.Background())
		m.visibilityWg.Add(1)
		go m.runVisibilityExtender()
		slog.Info("Visibility extender started",
			"interval", m.visibilityConfig.Interval,
			"threshold", m.visibilityConfig.Threshold,
			"extensionSeconds", m.visibilityConfig.ExtensionSeconds)
	}

	if m.leakDetectionConfig.Enabled {
		m.leakDetectionCtx, m.leakDetectionCancel = context.WithCancel(context.Background())
		m.leakDetectionWg.Add(1)
		go m.runLeakDetection()
		slog.Info("Pipeline leak detection started", "interval", m.leakDetectionConfig.Interval)
	}

	slog.Info("Queue manager started")
}

// Stop stops the queue manager and all pools
func (m *QueueManager) Stop() {
	m.runningMu.Lock()
	m.running = false
	m.runningMu.Unlock()

	if m.syncCancel != nil {
		m.syncCancel()
		m.syncWg.Wait()
	}

	if m.cleanupCancel != nil {
		m.cleanupCancel()
		m.cleanupWg.Wait()
	}

	if m.visibilityCancel != nil {
		m.visibilityCancel()
		m.visibilityWg.Wait()
	}

	if m.leakDetectionCancel != nil {
		m.leakDetectionCancel()
		m.leakDetectionWg.Wait()
	}

	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()

	for code, p := range m.pools {
		slog.Info("Shutting down pool", "pool", code)
		p.Shutdown()
	}

	slog.Info("Queue manager stopped")
}

// GetOrCreatePool gets or creates a processing pool
func (m *QueueManager) GetOrCreatePool(cfg *PoolConfig) *pool.ProcessPool {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()

	if p, exists := m.pools[cfg.Code]; exists {
		return p
	}

	p := pool.NewProcessPool(
		cfg.Code,
		cfg.Concurrency,
		cfg.QueueCapacity,
		cfg.RateLimitPerMinute,
		m.mediator,
		m.messageCallback,
	)

	m.pools[cfg.Code] = p
	p.Start()

	slog.Info("Created new processing pool",
		"pool", cfg.Code,
		"concurrency", cfg.Concurrency,
		"queueCapacity", cfg.QueueCapacity)

	return p
}

// GetPool gets a pool by code
func (m *QueueManager) GetPool(code string) *pool.ProcessPool {
	m.poolsMu.RLock()
	defer m.poolsMu.RUnlock()
	return m.pools[code]
}

// PoolStats is a point-in-time snapshot of a single pool for monitoring.
type PoolStats struct {
	PoolCode           string `json:"poolCode"`
	Concurrency        int    `json:"concurrency"`
	ActiveWorkers      int    `json:"activeWorkers"`
	QueueSize          int    `json:"queueSize"`
	QueueCapacity      int    `json:"queueCapacity"`
	RateLimitPerMinute *int   `json:"rateLimitPerMinute,omitempty"`
	RateLimited        bool   `json:"rateLimited"`
	Draining           bool   `json:"draining"`
}

func snapshotPool(p *pool.ProcessPool, draining bool) *PoolStats {
	return &PoolStats{
		PoolCode:           p.GetPoolCode(),
		Concurrency:        p.GetConcurrency(),
		ActiveWorkers:      p.GetActiveWorkers(),
		QueueSize:          p.GetQueueSize(),
		QueueCapacity:      p.GetQueueCapacity(),
		RateLimitPerMinute: p.GetRateLimitPerMinute(),
		RateLimited:        p.IsRateLimited(),
		Draining:           draining,
	}
}

// GetAllPoolStats returns stats for every pool, keyed by pool code.
// Pools that are draining out are included and flagged.
func (m *QueueManager) GetAllPoolStats() map[string]*PoolStats {
	stats := make(map[string]*PoolStats)

	m.poolsMu.RLock()
	for code, p := range m.pools {
		stats[code] = snapshotPool(p, false)
	}
	m.poolsMu.RUnlock()

	m.drainingPools.Range(func(key, value any) bool {
		code := key.(string)
		if _, exists := stats[code]; !exists {
			stats[code] = snapshotPool(value.(*pool.ProcessPool), true)
		}
		return true
	})

	return stats
}

// HasPoolCatalog reports whether pool configuration comes from a catalog.
// When true, unknown pool codes are rejected instead of created on demand.
func (m *QueueManager) HasPoolCatalog() bool {
	return m.poolStore != nil
}

// UpdatePool updates a pool's configuration
func (m *QueueManager) UpdatePool(cfg *PoolConfig) bool {
	m.poolsMu.RLock()
	p, exists := m.pools[cfg.Code]
	m.poolsMu.RUnlock()

	if !exists {
		return false
	}

	if cfg.Concurrency > 0 && cfg.Concurrency != p.GetConcurrency() {
		p.UpdateConcurrency(cfg.Concurrency, 60)
	}

	p.UpdateRateLimit(cfg.RateLimitPerMinute)

	return true
}

// RemovePool removes a pool
func (m *QueueManager) RemovePool(code string) {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()

	if p, exists := m.pools[code]; exists {
		p.Drain()
		p.Shutdown()
		delete(m.pools, code)
		slog.Info("Removed processing pool", "pool", code)
	}
}

// RouteMessage routes a single message to the appropriate pool
func (m *QueueManager) RouteMessage(msg *DispatchMessage) bool {
	m.runningMu.Lock()
	running := m.running
	m.runningMu.Unlock()

	if !running {
		return false
	}

	pipelineKey := msg.BrokerMessageID
	if pipelineKey == "" {
		pipelineKey = msg.JobID
	}

	// Check 1: same broker message ID means a visibility timeout redelivery
	if msg.BrokerMessageID != "" {
		if _, exists := m.inPipelineMap.Load(msg.BrokerMessageID); exists {
			slog.Debug("Duplicate: visibility timeout redelivery - updating receipt handle",
				"brokerMessageId", msg.BrokerMessageID,
				"jobId", msg.JobID)

			m.updateReceiptHandleIfPossible(msg.BrokerMessageID, msg.JobID, msg)
			metrics.PipelineDuplicatesDropped.Inc()

			return true // Already processing
		}
	}

	// Check 2: same job ID but a different broker ID means an external requeue
	if existingKey, loaded := m.jobIDToPipelineKey.Load(msg.JobID); loaded {
		existingBrokerID := existingKey.(string)
		if msg.BrokerMessageID != "" && msg.BrokerMessageID != existingBrokerID {
			slog.Info("Requeued duplicate detected",
				"jobId", msg.JobID,
				"existingBrokerId", existingBrokerID,
				"newBrokerId", msg.BrokerMessageID)
			metrics.PipelineDuplicatesDropped.Inc()
			return true // Already processing (caller should ACK to remove)
		}
		slog.Debug("Duplicate message detected, skipping", "jobId", msg.JobID)
		metrics.PipelineDuplicatesDropped.Inc()
		return true
	}

	m.inPipelineMap.Store(pipelineKey, msg)
	m.inPipelineTimestamps.Store(pipelineKey, time.Now().UnixMilli())
	m.jobIDToPipelineKey.Store(msg.JobID, pipelineKey)

	poolCfg := &PoolConfig{
		Code:          msg.PoolCode,
		Concurrency:   DefaultPoolConcurrency,
		QueueCapacity: max(DefaultPoolConcurrency*DefaultQueueCapacityMultiplier, MinQueueCapacity),
	}

	p := m.GetOrCreatePool(poolCfg)

	if !p.Submit(m.toPointer(msg)) {
		m.cleanupPipelineEntry(msg.JobID, pipelineKey)
		return false
	}

	return true
}

// toPointer converts a DispatchMessage to the pool's message representation
func (m *QueueManager) toPointer(msg *DispatchMessage) *pool.MessagePointer {
	return &pool.MessagePointer{
		ID:              msg.JobID,
		BrokerMessageID: msg.BrokerMessageID,
		BatchID:         msg.BatchID,
		MessageGroupID:  msg.MessageGroup,
		MediationTarget: msg.TargetURL,
		MediationType:   msg.MediationType,
		AuthToken:       msg.AuthToken,
		Headers:         msg.Headers,
		TimeoutSeconds:  msg.TimeoutSeconds,
		AckFunc:         msg.AckFunc,
		NakFunc:         msg.NakFunc,
		NakDelayFunc:    msg.NakDelayFunc,
		InProgressFunc:  msg.InProgressFunc,
	}
}

// RouteMessageBatch routes a batch of messages in three phases:
//  1. Deduplication - skip messages already in the pipeline
//  2. Capacity and rate limit pre-check per pool
//  3. FIFO submit with a failure barrier per message group: once a submit
//     fails, the rest of that group is nacked to preserve ordering
func (m *QueueManager) RouteMessageBatch(ctx context.Context, messages []*DispatchMessage) BatchRouteResult {
	result := BatchRouteResult{}

	if len(messages) == 0 {
		return result
	}

	m.runningMu.Lock()
	running := m.running
	m.runningMu.Unlock()

	if !running {
		for _, msg := range messages {
			if msg.NakFunc != nil {
				msg.NakFunc()
			}
		}
		result.Rejected = len(messages)
		return result
	}

	// Phase 1: dual-ID deduplication. Redeliveries (same broker ID) are
	// nacked so the broker retries later; requeues (same job ID, new broker
	// ID) are acked to permanently drop the duplicate copy.
	dedupedMessages := make([]*DispatchMessage, 0, len(messages))
	var redeliveredDups []*DispatchMessage
	var requeuedDups []*DispatchMessage

	for _, msg := range messages {
		brokerMessageID := msg.BrokerMessageID
		jobID := msg.JobID

		if brokerMessageID != "" {
			if _, exists := m.inPipelineMap.Load(brokerMessageID); exists {
				slog.Debug("Duplicate: visibility timeout redelivery - updating receipt handle and NACK",
					"brokerMessageId", brokerMessageID,
					"jobId", jobID)

				// Refresh the stored receipt handle so the eventual ACK
				// uses the latest (valid) one.
				m.updateReceiptHandleIfPossible(brokerMessageID, jobID, msg)

				redeliveredDups = append(redeliveredDups, msg)
				result.Deduplicated++
				metrics.PipelineDuplicatesDropped.Inc()
				continue
			}
		}

		if existingKey, loaded := m.jobIDToPipelineKey.Load(jobID); loaded {
			existingBrokerID := existingKey.(string)
			if brokerMessageID != "" && brokerMessageID != existingBrokerID {
				slog.Info("Requeued duplicate detected - will ACK to remove",
					"jobId", jobID,
					"existingBrokerId", existingBrokerID,
					"newBrokerId", brokerMessageID)
				requeuedDups = append(requeuedDups, msg)
				result.Deduplicated++
				metrics.PipelineDuplicatesDropped.Inc()
				continue
			}
		}

		dedupedMessages = append(dedupedMessages, msg)
	}

	for _, dup := range redeliveredDups {
		if dup.NakFunc != nil {
			dup.NakFunc()
		}
	}

	for _, dup := range requeuedDups {
		if dup.AckFunc != nil {
			dup.AckFunc()
		}
	}

	if len(dedupedMessages) == 0 {
		return result
	}

	// Phase 2: group by pool and pre-check capacity
	messagesByPool := make(map[string][]*DispatchMessage)
	for _, msg := range dedupedMessages {
		poolCode := msg.PoolCode
		if poolCode == "" {
			poolCode = DefaultPoolCode
		}
		messagesByPool[poolCode] = append(messagesByPool[poolCode], msg)
	}

	poolsWithCapacity := make(map[string]bool)
	for poolCode, poolMessages := range messagesByPool {
		p := m.GetPool(poolCode)
		if p != nil {
			if p.IsRateLimited() {
				slog.Warn("Pool rate limited, nacking batch for pool",
					"pool", poolCode,
					"messageCount", len(poolMessages))
				for _, msg := range poolMessages {
					if msg.NakFunc != nil {
						msg.NakFunc()
					}
				}
				result.Rejected += len(poolMessages)
				continue
			}
			if !p.HasCapacity(len(poolMessages)) {
				slog.Warn("Pool at capacity, nacking batch for pool",
					"pool", poolCode,
					"messageCount", len(poolMessages))
				for _, msg := range poolMessages {
					if msg.NakFunc != nil {
						msg.NakFunc()
					}
				}
				result.Rejected += len(poolMessages)
				continue
			}
		}
		poolsWithCapacity[poolCode] = true
	}

	// Phase 3: FIFO submit with a failure barrier per message group
	for poolCode, poolMessages := range messagesByPool {
		if !poolsWithCapacity[poolCode] {
			continue // Already rejected
		}

		poolCfg := &PoolConfig{
			Code:          poolCode,
			Concurrency:   DefaultPoolConcurrency,
			QueueCapacity: max(DefaultPoolConcurrency*DefaultQueueCapacityMultiplier, MinQueueCapacity),
		}
		p := m.GetOrCreatePool(poolCfg)

		// Group by messageGroupId, preserving arrival order
		type groupEntry struct {
			groupID  string
			messages []*DispatchMessage
		}
		messagesByGroup := make([]groupEntry, 0)
		groupIndex := make(map[string]int)

		for _, msg := range poolMessages {
			groupID := msg.MessageGroup
			if groupID == "" {
				groupID = pool.DefaultGroup
			}

			if idx, exists := groupIndex[groupID]; exists {
				messagesByGroup[idx].messages = append(messagesByGroup[idx].messages, msg)
			} else {
				groupIndex[groupID] = len(messagesByGroup)
				messagesByGroup = append(messagesByGroup, groupEntry{
					groupID:  groupID,
					messages: []*DispatchMessage{msg},
				})
			}
		}

		for _, group := range messagesByGroup {
			nackRemaining := false

			for _, msg := range group.messages {
				pipelineKey := msg.BrokerMessageID
				if pipelineKey == "" {
					pipelineKey = msg.JobID
				}

				if nackRemaining {
					// Failure barrier: nack the rest of this group
					if msg.NakFunc != nil {
						msg.NakFunc()
					}
					result.FailBarrier++
					continue
				}

				// Track in pipeline maps BEFORE submitting
				m.inPipelineMap.Store(pipelineKey, msg)
				m.inPipelineTimestamps.Store(pipelineKey, time.Now().UnixMilli())
				m.jobIDToPipelineKey.Store(msg.JobID, pipelineKey)

				if !p.Submit(m.toPointer(msg)) {
					slog.Warn("Failed to submit message, activating failure barrier",
						"pool", poolCode,
						"messageId", msg.JobID,
						"group", group.groupID)
					m.cleanupPipelineEntry(msg.JobID, pipelineKey)
					if msg.NakFunc != nil {
						msg.NakFunc()
					}
					nackRemaining = true
					result.Rejected++
				} else {
					result.Submitted++
				}
			}
		}
	}

	slog.Info("Batch routing complete",
		"submitted", result.Submitted,
		"deduplicated", result.Deduplicated,
		"rejected", result.Rejected,
		"failBarrier", result.FailBarrier)

	return result
}

// BatchRouteResult contains the results of batch routing
type BatchRouteResult struct {
	Submitted    int // Successfully submitted to pools
	Deduplicated int // Skipped as duplicates
	Rejected     int // Rejected due to capacity/rate limiting
	FailBarrier  int // Nacked due to failure barrier
}

// cleanupPipelineEntry removes a message from all pipeline tracking maps
func (m *QueueManager) cleanupPipelineEntry(jobID, pipelineKey string) {
	m.inPipelineMap.Delete(pipelineKey)
	m.inPipelineTimestamps.Delete(pipelineKey)
	m.jobIDToPipelineKey.Delete(jobID)
}

// updateReceiptHandleIfPossible updates the receipt handle on the stored
// message when a redelivery is detected. The broker redelivered because the
// visibility timeout expired while the original is still processing; the old
// receipt handle is now invalid and the eventual ACK needs the new one.
func (m *QueueManager) updateReceiptHandleIfPossible(pipelineKey, jobID string, newMsg *DispatchMessage) {
	storedValue, exists := m.inPipelineMap.Load(pipelineKey)
	if !exists {
		slog.Warn("Cannot update receipt handle - no stored message found",
			"pipelineKey", pipelineKey,
			"jobId", jobID)
		return
	}

	storedMsg, ok := storedValue.(*DispatchMessage)
	if !ok {
		slog.Warn("Cannot update receipt handle - stored value is not DispatchMessage",
			"pipelineKey", pipelineKey)
		return
	}

	if storedMsg.UpdateReceiptHandleFunc == nil {
		slog.Debug("Stored message does not support receipt handle updates",
			"jobId", jobID)
		return
	}

	if newMsg.GetReceiptHandleFunc == nil {
		slog.Warn("New message cannot provide receipt handle for update",
			"jobId", jobID)
		return
	}

	newReceiptHandle := newMsg.GetReceiptHandleFunc()
	if newReceiptHandle == "" {
		slog.Warn("New receipt handle is empty - cannot update",
			"jobId", jobID)
		return
	}

	oldReceiptHandle := ""
	if storedMsg.GetReceiptHandleFunc != nil {
		oldReceiptHandle = storedMsg.GetReceiptHandleFunc()
	}

	storedMsg.UpdateReceiptHandleFunc(newReceiptHandle)

	slog.Info("Updated receipt handle for in-pipeline message due to redelivery",
		"jobId", jobID,
		"pipelineKey", pipelineKey,
		"oldHandle", truncateHandle(oldReceiptHandle),
		"newHandle", truncateHandle(newReceiptHandle))
}

// truncateHandle truncates a receipt handle for logging (first 20 chars)
func truncateHandle(handle string) string {
	if len(handle) <= 20 {
		return handle
	}
	return handle[:20] + "..."
}

// cleanupPipelineEntryFromPointer removes a message from all pipeline tracking maps
func (m *QueueManager) cleanupPipelineEntryFromPointer(msg *pool.MessagePointer) {
	pipelineKey := msg.BrokerMessageID
	if pipelineKey == "" {
		pipelineKey = msg.ID
	}
	m.cleanupPipelineEntry(msg.ID, pipelineKey)
}

// Ack acknowledges a message
func (m *QueueManager) Ack(msg *pool.MessagePointer) {
	m.cleanupPipelineEntryFromPointer(msg)
	if msg.AckFunc != nil {
		if err := msg.AckFunc(); err != nil {
			slog.Error("Failed to ack message", "error", err, "messageId", msg.ID)
		}
	}
}

// Nack negative-acknowledges a message
func (m *QueueManager) Nack(msg *pool.MessagePointer) {
	m.cleanupPipelineEntryFromPointer(msg)
	if msg.NakFunc != nil {
		if err := msg.NakFunc(); err != nil {
			slog.Error("Failed to nack message", "error", err, "messageId", msg.ID)
		}
	}
}

// MessageCallbackImpl implements pool.MessageCallback
type MessageCallbackImpl struct {
	manager *QueueManager
}

func (c *MessageCallbackImpl) Ack(msg *pool.MessagePointer) {
	c.manager.Ack(msg)
}

func (c *MessageCallbackImpl) Nack(msg *pool.MessagePointer) {
	c.manager.Nack(msg)
}

func (c *MessageCallbackImpl) SetVisibilityDelay(msg *pool.MessagePointer, seconds int) {
	if msg.NakDelayFunc != nil {
		msg.NakDelayFunc(time.Duration(seconds) * time.Second)
	}
}

func (c *MessageCallbackImpl) SetFastFailVisibility(msg *pool.MessagePointer) {
	// Fast fail = 1 second visibility for quick retry
	c.SetVisibilityDelay(msg, 1)
}

func (c *MessageCallbackImpl) ResetVisibilityToDefault(msg *pool.MessagePointer) {
	// Default visibility handled by queue implementation
}

// DispatchMessage is the manager's internal view of a consumed message:
// the decoded wire pointer plus the broker callbacks needed to ack, nack
// and refresh it.
type DispatchMessage struct {
	JobID           string
	BrokerMessageID string
	PoolCode        string
	MessageGroup    string
	BatchID         string
	TargetURL       string
	Headers         map[string]string
	TimeoutSeconds  int
	AuthToken       string
	MediationType   string

	// Callback functions for queue integration
	AckFunc        func() error
	NakFunc        func() error
	NakDelayFunc   func(time.Duration) error
	InProgressFunc func() error

	// Receipt handle management for redelivery handling
	UpdateReceiptHandleFunc func(string)
	GetReceiptHandleFunc    func() string
}

// Consumer consumes messages from the queue and routes them
type Consumer struct {
	manager  *QueueManager
	consumer queue.Consumer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Health monitoring
	lastActivity   atomic.Int64 // Unix timestamp of last activity (poll or message)
	restartCount   int          // Number of restart attempts
	restartCountMu sync.Mutex
	stalled        atomic.Bool // Whether consumer is considered stalled
}

// NewConsumer creates a new consumer
func NewConsumer(manager *QueueManager, queueConsumer queue.Consumer) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		manager:  manager,
		consumer: queueConsumer,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

// updateActivity updates the last activity timestamp
func (c *Consumer) updateActivity() {
	c.lastActivity.Store(time.Now().Unix())
}

// GetLastActivity returns the last activity timestamp
func (c *Consumer) GetLastActivity() time.Time {
	return time.Unix(c.lastActivity.Load(), 0)
}

// IsStalled returns whether the consumer is considered stalled
func (c *Consumer) IsStalled() bool {
	return c.stalled.Load()
}

// GetRestartCount returns the number of restart attempts
func (c *Consumer) GetRestartCount() int {
	c.restartCountMu.Lock()
	defer c.restartCountMu.Unlock()
	return c.restartCount
}

// incrementRestartCount increments and returns the new restart count
func (c *Consumer) incrementRestartCount() int {
	c.restartCountMu.Lock()
	defer c.restartCountMu.Unlock()
	c.restartCount++
	return c.restartCount
}

// resetRestartCount resets the restart count to zero
func (c *Consumer) resetRestartCount() {
	c.restartCountMu.Lock()
	defer c.restartCountMu.Unlock()
	c.restartCount = 0
}

// Start starts consuming messages
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume()
	}()
	slog.Info("Consumer started")
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	slog.Info("Consumer stopped")
}

// WireReceiptHandleCallbacks sets up receipt handle callbacks on a
// DispatchMessage from a queue.Message, when the broker supports them.
func WireReceiptHandleCallbacks(dispatchMsg *DispatchMessage, queueMsg queue.Message) {
	if updatable, ok := queueMsg.(queue.ReceiptHandleUpdatable); ok {
		dispatchMsg.UpdateReceiptHandleFunc = updatable.UpdateReceiptHandle
		dispatchMsg.GetReceiptHandleFunc = updatable.GetReceiptHandle
	}
}

// consume processes messages from the queue
func (c *Consumer) consume() {
	err := c.consumer.Consume(c.ctx, func(msg queue.Message) error {
		c.updateActivity()

		var pointer model.MessagePointer
		if err := json.Unmarshal(msg.Data(), &pointer); err != nil {
			slog.Error("Failed to unmarshal message pointer", "error", err)
			c.manager.warn("CONFIGURATION", "ERROR",
				fmt.Sprintf("Malformed message pointer dropped: %v", err), "Consumer")
			// Ack to prevent infinite redelivery of a message that can
			// never be parsed
			msg.Ack()
			return nil
		}

		// With a pool catalog, an unknown pool code is a configuration
		// problem: keep the message queued until the catalog catches up.
		if c.manager.HasPoolCatalog() && c.manager.GetPool(pointer.PoolCode) == nil {
			slog.Warn("Message references unknown pool, nacking",
				"messageId", pointer.ID,
				"pool", pointer.PoolCode)
			c.manager.warn("CONFIGURATION", "WARNING",
				fmt.Sprintf("Message %s references unknown pool %s", pointer.ID, pointer.PoolCode),
				"Consumer")
			msg.Nak()
			return nil
		}

		dispatchMsg := DispatchMessage{
			JobID:           pointer.ID,
			BrokerMessageID: msg.ID(),
			PoolCode:        pointer.PoolCode,
			MessageGroup:    pointer.MessageGroupID,
			TargetURL:       pointer.MediationTarget,
			AuthToken:       pointer.AuthToken,
			MediationType:   string(pointer.MediationType),
		}

		dispatchMsg.AckFunc = msg.Ack
		dispatchMsg.NakFunc = msg.Nak
		dispatchMsg.NakDelayFunc = msg.NakWithDelay
		dispatchMsg.InProgressFunc = msg.InProgress

		WireReceiptHandleCallbacks(&dispatchMsg, msg)

		if !c.manager.RouteMessage(&dispatchMsg) {
			slog.Warn("Pool rejected message, nacking for redelivery",
				"messageId", dispatchMsg.JobID,
				"pool", dispatchMsg.PoolCode)
			msg.Nak()
		}

		return nil
	})

	if err != nil && err != context.Canceled {
		slog.Error("Consumer error", "error", err)
	}
}

// warn adds a warning if a warning service is configured
func (m *QueueManager) warn(category, severity, message, source string) {
	if m.warningService != nil {
		m.warningService.AddWarning(category, severity, message, source)
	}
}

// ConsumerFactory creates new queue consumers for restart
type ConsumerFactory func() queue.Consumer

// Router ties together all message router components
type Router struct {
	manager         *QueueManager
	consumer        *Consumer
	consumerMu      sync.Mutex
	consumerFactory ConsumerFactory

	// Health monitoring
	healthConfig *ConsumerHealthConfig
	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
}

// NewRouter creates a new message router
func NewRouter(queueConsumer queue.Consumer, mediatorCfg *mediator.HTTPMediatorConfig) *Router {
	manager := NewQueueManager(mediatorCfg)

	var consumer *Consumer
	if queueConsumer != nil {
		consumer = NewConsumer(manager, queueConsumer)
	}

	return &Router{
		manager:      manager,
		consumer:     consumer,
		healthConfig: DefaultConsumerHealthConfig(),
	}
}

// WithConsumerFactory sets a factory for creating new consumers on restart
func (r *Router) WithConsumerFactory(factory ConsumerFactory) *Router {
	r.consumerFactory = factory
	return r
}

// WithConsumerHealthConfig configures consumer health monitoring
func (r *Router) WithConsumerHealthConfig(cfg *ConsumerHealthConfig) *Router {
	if cfg == nil {
		cfg = DefaultConsumerHealthConfig()
	}
	r.healthConfig = cfg
	return r
}

// Start starts the router
func (r *Router) Start() {
	r.manager.Start()
	if r.consumer != nil {
		r.consumer.Start()
	}

	if r.healthConfig.Enabled && r.consumer != nil {
		r.healthCtx, r.healthCancel = context.WithCancel(context.Background())
		r.healthWg.Add(1)
		go r.runConsumerHealthMonitor()
		slog.Info("Consumer health monitor started",
			"checkInterval", r.healthConfig.CheckInterval,
			"stallThreshold", r.healthConfig.StallThreshold,
			"maxRestarts", r.healthConfig.MaxRestartAttempts)
	}

	slog.Info("Message router started")
}

// Stop stops the router
func (r *Router) Stop() {
	// Stop health monitor first so it cannot restart a consumer mid-shutdown
	if r.healthCancel != nil {
		r.healthCancel()
		r.healthWg.Wait()
	}

	r.consumerMu.Lock()
	consumer := r.consumer
	r.consumerMu.Unlock()

	if consumer != nil {
		consumer.Stop()
	}
	r.manager.Stop()
	slog.Info("Message router stopped")
}

// Manager returns the queue manager
func (r *Router) Manager() *QueueManager {
	return r.manager
}

// Consumer returns the current consumer (for health checks)
func (r *Router) Consumer() *Consumer {
	r.consumerMu.Lock()
	defer r.consumerMu.Unlock()
	return r.consumer
}

// runConsumerHealthMonitor monitors consumer health and auto-restarts if stalled
func (r *Router) runConsumerHealthMonitor() {
	defer r.healthWg.Done()

	ticker := time.NewTicker(r.healthConfig.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.healthCtx.Done():
			slog.Info("Consumer health monitor stopped")
			return
		case <-ticker.C:
			r.checkConsumerHealth()
		}
	}
}

// checkConsumerHealth checks if the consumer is stalled and restarts if needed
func (r *Router) checkConsumerHealth() {
	r.consumerMu.Lock()
	consumer := r.consumer
	r.consumerMu.Unlock()

	if consumer == nil {
		return
	}

	lastActivity := consumer.GetLastActivity()
	stalledDuration := time.Since(lastActivity)

	if stalledDuration < r.healthConfig.StallThreshold {
		// Consumer is healthy - reset stalled flag and restart count
		if consumer.IsStalled() {
			consumer.stalled.Store(false)
			consumer.resetRestartCount()
			slog.Info("Consumer recovered from stalled state")
		}
		return
	}

	consumer.stalled.Store(true)
	restartCount := consumer.GetRestartCount()

	metrics.ConsumerStallEvents.Inc()

	slog.Warn("Consumer appears stalled",
		"stalledFor", stalledDuration,
		"restartAttempts", restartCount,
		"maxAttempts", r.healthConfig.MaxRestartAttempts)

	if restartCount >= r.healthConfig.MaxRestartAttempts {
		slog.Error("Consumer exceeded max restart attempts - requires manual intervention",
			"attempts", restartCount)
		r.manager.warn("HEALTH", "CRITICAL",
			fmt.Sprintf("Consumer stalled and exceeded %d restart attempts", restartCount),
			"ConsumerHealthMonitor")
		return
	}

	r.restartConsumer()
}

// restartConsumer stops the current consumer and creates a new one
func (r *Router) restartConsumer() {
	r.consumerMu.Lock()
	defer r.consumerMu.Unlock()

	oldConsumer := r.consumer
	if oldConsumer == nil {
		return
	}

	attempt := oldConsumer.incrementRestartCount()

	metrics.ConsumerRestarts.Inc()

	slog.Info("Restarting stalled consumer",
		"attempt", attempt,
		"maxAttempts", r.healthConfig.MaxRestartAttempts)

	oldConsumer.Stop()

	time.Sleep(r.healthConfig.RestartDelay)

	if r.consumerFactory != nil {
		newQueueConsumer := r.consumerFactory()
		if newQueueConsumer != nil {
			newConsumer := NewConsumer(r.manager, newQueueConsumer)
			// Preserve restart count from old consumer
			newConsumer.restartCount = attempt
			newConsumer.Start()
			r.consumer = newConsumer

			slog.Info("Consumer restarted successfully", "attempt", attempt)
			return
		}
	}

	// No factory available; reuse the existing queue consumer. This may not
	// recover if the underlying connection is broken.
	slog.Warn("No consumer factory available, attempting restart with existing consumer")
	newConsumer := NewConsumer(r.manager, oldConsumer.consumer)
	newConsumer.restartCount = attempt
	newConsumer.Start()
	r.consumer = newConsumer
}

// GenerateBatchID generates a new batch ID
func GenerateBatchID() string {
	return tsid.Generate()
}

// runConfigSync runs the pool configuration sync loop
func (m *QueueManager) runConfigSync() {
	defer m.syncWg.Done()

	if !m.doInitialSyncWithRetry() {
		if m.syncConfig.FailOnInitialSyncError {
			slog.Error("Initial pool config sync failed after all retries - shutting down")
			panic("Initial pool config sync failed")
		}
		slog.Error("Initial pool config sync failed - continuing with empty config")
	}

	ticker := time.NewTicker(m.syncConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.syncCtx.Done():
			slog.Info("Pool config sync stopped")
			return
		case <-ticker.C:
			m.syncPoolConfig()
		}
	}
}

// doInitialSyncWithRetry performs the initial config sync with retries.
// The database may still be starting up when the router comes online.
func (m *QueueManager) doInitialSyncWithRetry() bool {
	maxAttempts := m.syncConfig.InitialRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if m.standbyChecker != nil && !m.standbyChecker.IsPrimary() {
			slog.Info("In standby mode, waiting for primary lock before initial sync...",
				"attempt", attempt)
			time.Sleep(m.syncConfig.InitialRetryDelay)
			continue
		}

		if m.syncPoolConfigWithResult() {
			m.initialized = true
			slog.Info("Initial pool config sync completed successfully",
				"attempt", attempt)
			return true
		}

		if attempt < maxAttempts {
			slog.Warn("Initial pool config sync failed, retrying...",
				"attempt", attempt,
				"maxAttempts", maxAttempts,
				"retryDelay", m.syncConfig.InitialRetryDelay)
			time.Sleep(m.syncConfig.InitialRetryDelay)
		}
	}

	slog.Error("Initial pool config sync failed after all retry attempts",
		"attempts", maxAttempts)
	return false
}

// syncPoolConfig syncs pool configurations from the database
func (m *QueueManager) syncPoolConfig() {
	if m.standbyChecker != nil && !m.standbyChecker.IsPrimary() {
		if !m.initialized {
			slog.Info("In standby mode, waiting for primary lock...")
			m.initialized = true // Only log once
		}
		return
	}

	m.syncPoolConfigWithResult()
}

// syncPoolConfigWithResult syncs pool configs and returns success/failure
func (m *QueueManager) syncPoolConfigWithResult() bool {
	ctx, cancel := context.WithTimeout(m.syncCtx, 30*time.Second)
	defer cancel()

	configs, err := m.poolStore.FindAllActive(ctx)
	if err != nil {
		slog.Error("Failed to fetch pool configs from database", "error", err)
		return false
	}

	// Track which pools we've seen in this sync
	activeCodes := make(map[string]bool)

	for _, cfg := range configs {
		resolved := cfg.Resolve()
		activeCodes[resolved.Code] = true

		m.poolsMu.RLock()
		existing, exists := m.pools[resolved.Code]
		m.poolsMu.RUnlock()

		if exists {
			if resolved.Concurrency > 0 && resolved.Concurrency != existing.GetConcurrency() {
				existing.UpdateConcurrency(resolved.Concurrency, 60)
				slog.Debug("Updated pool configuration",
					"pool", resolved.Code,
					"concurrency", resolved.Concurrency)
			}

			existing.UpdateRateLimit(cfg.RateLimitPerMin)
		} else {
			poolCfg := &PoolConfig{
				Code:               resolved.Code,
				Concurrency:        resolved.Concurrency,
				QueueCapacity:      resolved.QueueCapacity,
				RateLimitPerMinute: cfg.RateLimitPerMin,
			}

			m.GetOrCreatePool(poolCfg)
			slog.Info("Created pool from database config",
				"pool", resolved.Code,
				"concurrency", poolCfg.Concurrency,
				"queueCapacity", poolCfg.QueueCapacity)
		}
	}

	// Find pools that are no longer in the database (suspended or deleted)
	m.poolsMu.RLock()
	poolsToRemove := make([]string, 0)
	for code := range m.pools {
		if !activeCodes[code] && code != DefaultPoolCode {
			poolsToRemove = append(poolsToRemove, code)
		}
	}
	m.poolsMu.RUnlock()

	for _, code := range poolsToRemove {
		m.drainPool(code)
	}

	if len(configs) > 0 || len(poolsToRemove) > 0 {
		slog.Debug("Pool config sync completed",
			"activeCount", len(configs),
			"removedCount", len(poolsToRemove))
	}

	return true
}

// drainPool gracefully drains and removes a pool
func (m *QueueManager) drainPool(code string) {
	m.poolsMu.Lock()
	p, exists := m.pools[code]
	if !exists {
		m.poolsMu.Unlock()
		return
	}
	delete(m.pools, code)
	m.poolsMu.Unlock()

	m.drainingPools.Store(code, p)

	slog.Info("Draining pool (no longer in database)", "pool", code)

	go func() {
		p.Drain()
		p.Shutdown()
		m.drainingPools.Delete(code)
		slog.Info("Pool drained and removed", "pool", code)
	}()
}

// runPipelineCleanup runs the stale pipeline entry cleanup loop
func (m *QueueManager) runPipelineCleanup() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(m.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.cleanupCtx.Done():
			slog.Info("Pipeline cleanup stopped")
			return
		case <-ticker.C:
			m.cleanupStalePipelineEntries()
		}
	}
}

// cleanupStalePipelineEntries removes entries older than the TTL from the
// pipeline tracking maps. A stale entry means a message got stuck without
// ever being acked or nacked; leaving it would block redelivery forever.
func (m *QueueManager) cleanupStalePipelineEntries() {
	now := time.Now().UnixMilli()
	ttlMillis := m.cleanupConfig.TTL.Milliseconds()
	cleanedCount := 0

	var staleKeys []string
	var staleJobIDs []string

	m.inPipelineTimestamps.Range(func(key, value interface{}) bool {
		pipelineKey := key.(string)
		timestamp := value.(int64)

		if now-timestamp > ttlMillis {
			staleKeys = append(staleKeys, pipelineKey)

			if msgValue, exists := m.inPipelineMap.Load(pipelineKey); exists {
				if msg, ok := msgValue.(*DispatchMessage); ok {
					staleJobIDs = append(staleJobIDs, msg.JobID)
				}
			}
		}
		return true
	})

	for i, pipelineKey := range staleKeys {
		m.inPipelineMap.Delete(pipelineKey)
		m.inPipelineTimestamps.Delete(pipelineKey)
		if i < len(staleJobIDs) {
			m.jobIDToPipelineKey.Delete(staleJobIDs[i])
		}
		cleanedCount++
	}

	if cleanedCount > 0 {
		slog.Warn("Cleaned up stale pipeline entries - messages may have been stuck",
			"count", cleanedCount,
			"ttl", m.cleanupConfig.TTL)
	}
}

// runVisibilityExtender runs the visibility extension loop
func (m *QueueManager) runVisibilityExtender() {
	defer m.visibilityWg.Done()

	ticker := time.NewTicker(m.visibilityConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.visibilityCtx.Done():
			slog.Info("Visibility extender stopped")
			return
		case <-ticker.C:
			m.extendLongRunningVisibility()
		}
	}
}

// extendLongRunningVisibility extends broker visibility for every in-flight
// message older than the threshold, so a slow webhook does not trigger a
// redelivery of a message that is still being worked on.
func (m *QueueManager) extendLongRunningVisibility() {
	now := time.Now().UnixMilli()
	thresholdMillis := m.visibilityConfig.Threshold.Milliseconds()
	extendedCount := 0

	m.inPipelineTimestamps.Range(func(key, value interface{}) bool {
		pipelineKey := key.(string)
		startTime := value.(int64)
		elapsedMillis := now - startTime

		if elapsedMillis < thresholdMillis {
			return true
		}

		msgValue, exists := m.inPipelineMap.Load(pipelineKey)
		if !exists {
			return true
		}

		msg, ok := msgValue.(*DispatchMessage)
		if !ok || msg.InProgressFunc == nil {
			return true
		}

		if err := msg.InProgressFunc(); err != nil {
			slog.Warn("Failed to extend visibility for long-running message",
				"error", err,
				"messageId", msg.JobID,
				"elapsedMs", elapsedMillis)
		} else {
			extendedCount++
			slog.Debug("Extended visibility for long-running message",
				"messageId", msg.JobID,
				"elapsedMs", elapsedMillis)
		}

		return true
	})

	if extendedCount > 0 {
		slog.Info("Extended visibility for long-running messages",
			"count", extendedCount,
			"threshold", m.visibilityConfig.Threshold)
	}
}

// runLeakDetection runs the pipeline map leak detection loop
func (m *QueueManager) runLeakDetection() {
	defer m.leakDetectionWg.Done()

	ticker := time.NewTicker(m.leakDetectionConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.leakDetectionCtx.Done():
			slog.Info("Pipeline leak detection stopped")
			return
		case <-ticker.C:
			m.checkForMapLeaks()
		}
	}
}

// checkForMapLeaks warns when the pipeline map has grown past the combined
// pool capacity. That can only happen when entries are not being removed
// after processing.
func (m *QueueManager) checkForMapLeaks() {
	m.runningMu.Lock()
	running := m.running
	initialized := m.initialized
	m.runningMu.Unlock()

	if !running || !initialized {
		return
	}

	pipelineSize := 0
	m.inPipelineMap.Range(func(_, _ interface{}) bool {
		pipelineSize++
		return true
	})

	m.poolsMu.RLock()
	totalCapacity := 0
	for _, p := range m.pools {
		totalCapacity += p.GetQueueCapacity()
	}
	m.poolsMu.RUnlock()

	// Account for a default pool that might be created later
	if totalCapacity == 0 {
		totalCapacity = MinQueueCapacity
	}

	if pipelineSize > totalCapacity {
		message := fmt.Sprintf("inPipelineMap size (%d) exceeds total pool capacity (%d) - possible memory leak",
			pipelineSize, totalCapacity)

		slog.Warn("LEAK DETECTION: "+message,
			"pipelineSize", pipelineSize,
			"totalCapacity", totalCapacity)

		m.warn("HEALTH", "WARNING", message, "QueueManager")
	}

	metrics.PipelineMapSize.Set(float64(pipelineSize))
	metrics.PipelineTotalCapacity.Set(float64(totalCapacity))
}

// GetPipelineSize returns the current size of the pipeline map (for monitoring)
func (m *QueueManager) GetPipelineSize() int {
	size := 0
	m.inPipelineMap.Range(func(_, _ interface{}) bool {
		size++
		return true
	})
	return size
}

// GetTotalPoolCapacity returns the total capacity across all pools (for monitoring)
func (m *QueueManager) GetTotalPoolCapacity() int {
	m.poolsMu.RLock()
	defer m.poolsMu.RUnlock()

	total := 0
	for _, p := range m.pools {
		total += p.GetQueueCapacity()
	}
	return total
}
