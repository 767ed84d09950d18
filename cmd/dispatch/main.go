// FlowCatalyst Dispatch Service
//
// Single binary running the dispatch scheduler, the message router, and the
// processing endpoint. Jobs are promoted from MongoDB onto the queue
// (embedded NATS by default), routed through processing pools, and delivered
// to subscriber webhooks.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"go.flowcatalyst.tech/dispatch/internal/common/health"
	"go.flowcatalyst.tech/dispatch/internal/common/leader"
	"go.flowcatalyst.tech/dispatch/internal/common/lifecycle"
	commonmongo "go.flowcatalyst.tech/dispatch/internal/common/mongo"
	"go.flowcatalyst.tech/dispatch/internal/common/secrets"
	"go.flowcatalyst.tech/dispatch/internal/config"
	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
	"go.flowcatalyst.tech/dispatch/internal/dispatchpool"
	"go.flowcatalyst.tech/dispatch/internal/processing"
	"go.flowcatalyst.tech/dispatch/internal/queue"
	natsqueue "go.flowcatalyst.tech/dispatch/internal/queue/nats"
	sqsqueue "go.flowcatalyst.tech/dispatch/internal/queue/sqs"
	"go.flowcatalyst.tech/dispatch/internal/router/api"
	"go.flowcatalyst.tech/dispatch/internal/router/manager"
	"go.flowcatalyst.tech/dispatch/internal/router/mediator"
	"go.flowcatalyst.tech/dispatch/internal/router/notification"
	"go.flowcatalyst.tech/dispatch/internal/router/standby"
	"go.flowcatalyst.tech/dispatch/internal/router/traffic"
	"go.flowcatalyst.tech/dispatch/internal/router/warning"
	"go.flowcatalyst.tech/dispatch/internal/scheduler"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("Starting FlowCatalyst Dispatch",
		"version", version,
		"build_time", buildTime)

	ctx := context.Background()

	// ========================================
	// 1. INFRASTRUCTURE INITIALIZATION
	// ========================================
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
		NeedsMongoDB: true,
	})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	db := app.Mongo.Database()

	if err := commonmongo.NewIndexInitializer(app.Mongo).Initialize(ctx); err != nil {
		slog.Error("Failed to initialize MongoDB indexes", "error", err)
		os.Exit(1)
	}

	// ========================================
	// 2. QUEUE SETUP
	// ========================================
	queuePublisher, queueConsumer, queueHealthCheck, err := setupQueue(ctx, app)
	if err != nil {
		slog.Error("Failed to setup queue", "error", err)
		os.Exit(1)
	}

	// ========================================
	// 3. COMPONENT WIRING
	// ========================================
	jobStore := dispatchjob.NewStore(db)
	poolStore := dispatchpool.NewStore(db)

	// Health checker
	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.Mongo.Ping(pingCtx)
	}))
	healthChecker.AddReadinessCheck(queueHealthCheck)

	// Message router
	mediatorCfg := buildMediatorConfig(cfg)
	messageRouter := manager.NewRouter(queueConsumer, mediatorCfg)
	messageRouter.Manager().
		WithPoolStore(poolStore, &manager.ConfigSyncConfig{
			Enabled:                true,
			Interval:               cfg.Router.ConfigSyncInterval,
			InitialRetryAttempts:   3,
			InitialRetryDelay:      5 * time.Second,
			FailOnInitialSyncError: cfg.Router.FailOnInitialSyncError,
		})
	routerService := manager.NewRouterService(messageRouter)

	// Warning service with optional email/Teams forwarding
	notifier := setupNotification(cfg)
	warningService := warning.NewInMemoryService().WithNotifier(notifier)
	warningHandler := warning.NewHandler(warningService)
	messageRouter.Manager().WithWarningService(warningService)

	// Standby service for router failover
	trafficService := traffic.NewService(&traffic.Config{
		Enabled:  cfg.Traffic.Enabled,
		Strategy: cfg.Traffic.Strategy,
	})
	standbyService := setupStandbyService(cfg, routerService, trafficService)
	if standbyService.IsEnabled() {
		messageRouter.Manager().WithStandbyChecker(standbyService)
	}

	// Processing endpoint
	credResolver := setupCredentialResolver(cfg)
	authService := dispatchjob.NewAuthService(cfg.Scheduler.AppKey, nil)
	processingService := processing.NewService(jobStore, credResolver, nil)
	processingHandler := processing.NewHandler(processingService, authService)

	// Scheduler with optional leader election
	elector := setupElector(cfg, db)
	dispatchScheduler := scheduler.NewScheduler(jobStore, queuePublisher, elector, &scheduler.Config{
		PollInterval:            cfg.Scheduler.PollInterval,
		BatchSize:               int(cfg.Scheduler.BatchSize),
		MaxConcurrentPools:      cfg.Scheduler.MaxConcurrentPools,
		StaleThreshold:          cfg.Scheduler.StaleThreshold,
		StaleCheckInterval:      cfg.Scheduler.StaleCheckInterval,
		ProcessingEndpoint:      cfg.Scheduler.ProcessingEndpoint,
		DefaultDispatchPoolCode: "DEFAULT-POOL",
		AppKey:                  cfg.Scheduler.AppKey,
	})

	// HTTP surface
	httpRouter := api.NewRouter(api.RouterOptions{
		HealthChecker:  healthChecker,
		Monitoring:     api.NewMonitoringHandler(messageRouter.Manager(), standbyService),
		WarningHandler: warningHandler,
		Routes:         []api.RouteRegistrar{processingHandler},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // processing requests wait on webhook delivery
		IdleTimeout:  60 * time.Second,
	}

	// ========================================
	// 4. SERVICE STARTUP
	// ========================================
	var services []lifecycle.Service

	services = append(services, lifecycle.NewHTTPService("http-server", httpServer))

	if elector != nil {
		services = append(services, newElectorService(elector))
	}

	if cfg.Scheduler.Enabled {
		services = append(services, newSchedulerService(dispatchScheduler))
	}

	if batcher, ok := notifier.(*notification.BatchingService); ok {
		services = append(services, newNotificationBatchService(batcher, cfg.Notification.BatchWindow))
	}

	// Standby service wraps router lifecycle when the Redis gate is enabled
	if standbyService.IsEnabled() {
		services = append(services, newStandbyServiceWrapper(standbyService))
	} else {
		services = append(services, routerService)
	}

	slog.Info("Dispatch ready",
		"port", cfg.HTTP.Port,
		"queueType", cfg.Queue.Type,
		"schedulerEnabled", cfg.Scheduler.Enabled,
		"leaderElection", cfg.Leader.Enabled,
		"standby", standbyService.IsEnabled())

	// ========================================
	// 5. RUN UNTIL SHUTDOWN
	// ========================================
	if err := lifecycle.Run(ctx, services...); err != nil {
		slog.Error("Service error", "error", err)
		os.Exit(1)
	}

	slog.Info("FlowCatalyst Dispatch stopped")
}

// setupLogging configures the slog default logger.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("FLOWCATALYST_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// setupQueue initializes the queue based on configuration.
// Returns the publisher, consumer, a readiness check, and any error.
func setupQueue(ctx context.Context, app *lifecycle.App) (queue.Publisher, queue.Consumer, health.CheckFunc, error) {
	switch app.Config.Queue.Type {
	case "embedded", "":
		return setupEmbeddedQueue(ctx, app)
	case "nats":
		return setupNATSQueue(ctx, app)
	case "sqs":
		return setupSQSQueue(ctx, app)
	default:
		return nil, nil, nil, fmt.Errorf("unknown queue type: %s (use 'embedded', 'nats' or 'sqs')", app.Config.Queue.Type)
	}
}

func setupEmbeddedQueue(ctx context.Context, app *lifecycle.App) (queue.Publisher, queue.Consumer, health.CheckFunc, error) {
	embeddedCfg := natsqueue.DefaultEmbeddedConfig()
	if app.Config.Queue.NATS.DataDir != "" {
		embeddedCfg.DataDir = app.Config.Queue.NATS.DataDir
	}

	server, err := natsqueue.NewEmbeddedServer(embeddedCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	app.AddCleanup(func() error {
		return server.Close()
	})

	consumer, err := server.CreateConsumer(ctx, embeddedCfg.ConsumerName, "dispatch.>", nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	healthCheck := health.NATSCheck(func() bool {
		return server.Connection().IsConnected()
	})

	return server.Publisher(), consumer, healthCheck, nil
}

func setupNATSQueue(ctx context.Context, app *lifecycle.App) (queue.Publisher, queue.Consumer, health.CheckFunc, error) {
	cfg := app.Config

	slog.Info("Connecting to NATS server", "url", cfg.Queue.NATS.URL)

	natsClient, err := natsqueue.NewClient(&queue.NATSConfig{
		URL:        cfg.Queue.NATS.URL,
		StreamName: "DISPATCH",
		Subjects:   []string{"dispatch.>"},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	app.AddCleanup(func() error {
		slog.Info("Disconnecting from NATS")
		return natsClient.Close()
	})

	consumer, err := natsClient.CreateConsumer(ctx, "dispatch-router", "dispatch.>")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS consumer: %w", err)
	}

	healthCheck := health.NATSCheck(func() bool {
		return true // NATS client reconnects internally
	})

	slog.Info("Connected to NATS server")
	return natsClient.Publisher(), consumer, healthCheck, nil
}

func setupSQSQueue(ctx context.Context, app *lifecycle.App) (queue.Publisher, queue.Consumer, health.CheckFunc, error) {
	cfg := app.Config

	slog.Info("Connecting to AWS SQS",
		"region", cfg.Queue.SQS.Region,
		"queueURL", cfg.Queue.SQS.QueueURL)

	sqsCfg := &queue.SQSConfig{
		QueueURL:            cfg.Queue.SQS.QueueURL,
		Region:              cfg.Queue.SQS.Region,
		WaitTimeSeconds:     int32(cfg.Queue.SQS.WaitTimeSeconds),
		VisibilityTimeout:   int32(cfg.Queue.SQS.VisibilityTimeout),
		MaxNumberOfMessages: 10,
	}

	sqsClient, err := sqsqueue.NewClient(ctx, sqsCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create SQS client: %w", err)
	}

	app.AddCleanup(func() error {
		slog.Info("Disconnecting from SQS")
		return sqsClient.Close()
	})

	consumer, err := sqsClient.CreateConsumer(ctx, "dispatch-router", "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create SQS consumer: %w", err)
	}

	healthCheck := health.SQSCheck(func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return sqsClient.HealthCheck(checkCtx)
	})

	slog.Info("Connected to AWS SQS")
	return sqsClient.Publisher(), consumer, healthCheck, nil
}

// buildMediatorConfig applies mediator tuning from configuration.
func buildMediatorConfig(cfg *config.Config) *mediator.HTTPMediatorConfig {
	mediatorCfg := mediator.DefaultHTTPMediatorConfig()
	if cfg.DevMode {
		mediatorCfg = mediator.DevHTTPMediatorConfig()
	}

	if cfg.Mediator.Timeout > 0 {
		mediatorCfg.Timeout = cfg.Mediator.Timeout
	}
	if cfg.Mediator.HTTPVersion == "HTTP_1_1" {
		mediatorCfg.HTTPVersion = mediator.HTTPVersion1
	}
	if cfg.Mediator.BreakerRequests > 0 {
		mediatorCfg.CircuitBreakerRequests = cfg.Mediator.BreakerRequests
	}
	if cfg.Mediator.BreakerInterval > 0 {
		mediatorCfg.CircuitBreakerInterval = cfg.Mediator.BreakerInterval
	}
	if cfg.Mediator.BreakerRatio > 0 {
		mediatorCfg.CircuitBreakerRatio = cfg.Mediator.BreakerRatio
	}
	if cfg.Mediator.BreakerTimeout > 0 {
		mediatorCfg.CircuitBreakerTimeout = cfg.Mediator.BreakerTimeout
	}

	return mediatorCfg
}

// setupCredentialResolver wires the secrets provider into webhook credential
// resolution. A missing provider is not fatal; deliveries then go out
// without bearer tokens or signatures.
func setupCredentialResolver(cfg *config.Config) processing.CredentialSource {
	var secretsCfg *secrets.Config
	if cfg.Secrets.Provider != "" {
		secretsCfg = &secrets.Config{
			Provider:       secrets.ProviderType(cfg.Secrets.Provider),
			EncryptionKey:  cfg.Secrets.EncryptionKey,
			DataDir:        cfg.Secrets.DataDir,
			AWSRegion:      cfg.Secrets.AWSRegion,
			AWSPrefix:      cfg.Secrets.AWSPrefix,
			AWSEndpoint:    cfg.Secrets.AWSEndpoint,
			VaultAddr:      cfg.Secrets.VaultAddr,
			VaultPath:      cfg.Secrets.VaultPath,
			VaultNamespace: cfg.Secrets.VaultNamespace,
			GCPProject:     cfg.Secrets.GCPProject,
			GCPPrefix:      cfg.Secrets.GCPPrefix,
		}
	}

	provider, err := secrets.NewProvider(secretsCfg)
	if err != nil {
		slog.Warn("Secrets provider unavailable, webhooks will be unsigned", "error", err)
		return nil
	}
	slog.Info("Secrets provider configured", "provider", provider.Name())
	return dispatchjob.NewCredentialResolver(provider)
}

// setupElector creates the scheduler's leader elector when leader election
// is enabled; otherwise the scheduler acts as a permanent leader. The lease
// backend is selected by config: MongoDB by default, Redis for deployments
// that want election off the database.
func setupElector(cfg *config.Config, db *mongodriver.Database) leader.Elector {
	if !cfg.Leader.Enabled {
		return nil
	}

	leaderCfg := leader.DefaultConfig("dispatch-scheduler")
	if cfg.Leader.InstanceID != "" {
		leaderCfg.InstanceID = cfg.Leader.InstanceID
	}
	if cfg.Leader.TTL > 0 {
		leaderCfg.TTL = cfg.Leader.TTL
	}
	if cfg.Leader.RefreshInterval > 0 {
		leaderCfg.RefreshInterval = cfg.Leader.RefreshInterval
	}

	if cfg.Leader.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return leader.NewRedisElector(client, leaderCfg)
	}

	return leader.NewMongoElector(db, leaderCfg)
}

// setupNotification builds the warning notification pipeline. Warnings are
// batched and forwarded to every configured channel; with none configured a
// no-op service is returned.
func setupNotification(cfg *config.Config) notification.Service {
	var delegates []notification.Service

	if cfg.Notification.EmailEnabled {
		delegates = append(delegates, notification.NewEmailService(&notification.EmailConfig{
			SMTPHost:    cfg.Notification.SMTPHost,
			SMTPPort:    cfg.Notification.SMTPPort,
			Username:    cfg.Notification.SMTPUsername,
			Password:    cfg.Notification.SMTPPassword,
			FromAddress: cfg.Notification.EmailFrom,
			ToAddress:   cfg.Notification.EmailTo,
			Enabled:     true,
		}))
	}

	if cfg.Notification.TeamsEnabled {
		delegates = append(delegates, notification.NewTeamsService(&notification.TeamsConfig{
			WebhookURL: cfg.Notification.TeamsWebhookURL,
			Enabled:    true,
		}))
	}

	if len(delegates) == 0 {
		return notification.NewNoOpService()
	}

	return notification.NewBatchingService(delegates, &notification.BatchingConfig{
		MinSeverity: cfg.Notification.MinSeverity,
		BatchWindow: cfg.Notification.BatchWindow,
	})
}

// newNotificationBatchService flushes batched warning notifications on the
// configured window.
func newNotificationBatchService(batcher *notification.BatchingService, window time.Duration) lifecycle.Service {
	return lifecycle.NewServiceFunc("notification-batcher",
		func(ctx context.Context) error {
			ticker := time.NewTicker(window)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					batcher.SendBatch()
				}
			}
		},
		func(ctx context.Context) error {
			batcher.SendBatch()
			return nil
		})
}

// setupStandbyService configures the Redis-backed primary/standby gate for
// the message router.
func setupStandbyService(cfg *config.Config, routerService *manager.RouterService, trafficService *traffic.Service) *standby.Service {
	standbyCfg := &standby.Config{
		Enabled:         cfg.Redis.Enabled,
		InstanceID:      cfg.Leader.InstanceID,
		LockKey:         "flowcatalyst:router:leader",
		LockTTL:         cfg.Leader.TTL,
		RefreshInterval: cfg.Leader.RefreshInterval,
	}

	callbacks := &standby.Callbacks{
		OnBecomePrimary: func() {
			slog.Info("Became PRIMARY - starting message processing")
			trafficService.RegisterAsActive()
			routerService.Resume()
		},
		OnBecomeStandby: func() {
			slog.Info("Became STANDBY - stopping message processing")
			trafficService.DeregisterFromActive()
			routerService.Pause()
		},
	}

	svc := standby.NewService(standbyCfg, callbacks)

	if cfg.Redis.Enabled {
		redisURL := fmt.Sprintf("redis://:%s@%s/%d", cfg.Redis.Password, cfg.Redis.Addr, cfg.Redis.DB)
		provider, err := standby.NewRedisLockProvider(redisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis, standby gate disabled", "error", err)
		} else {
			svc.SetLockProvider(provider)
		}
	}

	return svc
}

// newSchedulerService adapts the scheduler to the lifecycle.Service interface.
func newSchedulerService(s *scheduler.Scheduler) lifecycle.Service {
	return lifecycle.NewServiceFunc("scheduler",
		func(ctx context.Context) error {
			s.Start()
			<-ctx.Done()
			return nil
		},
		func(ctx context.Context) error {
			s.Stop()
			return nil
		})
}

// newElectorService adapts the leader elector to the lifecycle.Service interface.
func newElectorService(e leader.Elector) lifecycle.Service {
	return lifecycle.NewServiceFunc("leader-elector",
		func(ctx context.Context) error {
			if err := e.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
		func(ctx context.Context) error {
			e.Stop()
			return nil
		})
}

// standbyServiceWrapper wraps standby.Service to implement lifecycle.Service.
type standbyServiceWrapper struct {
	service *standby.Service
}

func newStandbyServiceWrapper(svc *standby.Service) *standbyServiceWrapper {
	return &standbyServiceWrapper{service: svc}
}

func (s *standbyServiceWrapper) Name() string { return "standby-service" }

func (s *standbyServiceWrapper) Start(ctx context.Context) error {
	if err := s.service.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *standbyServiceWrapper) Stop(ctx context.Context) error {
	s.service.Stop()
	return nil
}

func (s *standbyServiceWrapper) Health() error {
	return nil
}
