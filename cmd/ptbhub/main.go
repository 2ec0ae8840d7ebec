package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/api"
	"github.com/platinummonkey/ptbhub/pkg/async"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/excel"
	"github.com/platinummonkey/ptbhub/pkg/jobs"
	"github.com/platinummonkey/ptbhub/pkg/middleware"
	"github.com/platinummonkey/ptbhub/pkg/notify"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/overtime"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/realtime"
	"github.com/platinummonkey/ptbhub/pkg/recurrence"
	"github.com/platinummonkey/ptbhub/pkg/secrets"
	"github.com/platinummonkey/ptbhub/pkg/signals"
	"github.com/platinummonkey/ptbhub/pkg/smb"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
	"github.com/platinummonkey/ptbhub/pkg/tasks"
	"github.com/platinummonkey/ptbhub/pkg/workflow"
)

var version = "dev"

var (
	envFile = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	migrate = flag.Bool("migrate", false, "Apply pending schema migrations before serving")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ptbhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	entry := setupLogger(cfg.Observability.LogLevel.String()).WithField("service", "ptbhub")
	logger.Infof("Starting ptbhub %s", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	clk := clock.New()

	// Storage
	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if *migrate {
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return err
		}
		logger.Info("Migrations applied")
	}
	stores := postgres.NewStores(db)

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected")
	} else {
		logger.Warn("REDIS_URL not set: cache, locks and jobs run in-process")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Response cache
	var viewCache *cache.Cache
	if cfg.Cache.Enabled {
		var store cache.Store
		if rdb != nil {
			store = cache.NewRedisStore(rdb, "ptbhub:cache")
		} else {
			store = cache.NewMemoryStore(cfg.Cache.MemorySize, cfg.Cache.DefaultTTL)
		}
		viewCache = cache.New(store, cache.WithLogger(logger), cache.WithMetrics(metrics))
	}

	engine := rbac.NewEngine(rbac.WithOverlay(cfg.Permissions))

	cipher, err := secrets.New(cfg.SMBKeyMaterial())
	if err != nil {
		return fmt.Errorf("init secrets: %w", err)
	}

	// Realtime hub
	hubOpts := []realtime.HubOption{realtime.WithHubLogger(logger), realtime.WithHubMetrics(metrics)}
	if rdb != nil {
		hubOpts = append(hubOpts, realtime.WithBroker(realtime.NewRedisBroker(rdb, "ptbhub:ws")))
	}
	hub := realtime.NewHub(hubOpts...)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Realtime hub stopped")
		}
	}()

	// Authentication
	jwtm, err := auth.NewJWTManager(cfg.Server.SecretKey, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, clk)
	if err != nil {
		return err
	}
	authenticators := []auth.Authenticator{auth.NewLocalAuthenticator(jwtm, stores.Users)}
	var (
		idp      auth.IdentityProvider
		verifier auth.IDTokenVerifier
	)
	if cfg.External.APIURL != "" {
		external, err := auth.NewExternalClient(ctx, cfg.External, logger)
		if err != nil {
			return err
		}
		idp, verifier = external, external
		authenticators = append(authenticators, auth.NewExternalAuthenticator(stores.Users, stores.Sessions, external, auth.ExternalOptions{
			TouchInterval:          cfg.Auth.SessionTouchInterval,
			ProfileRefreshInterval: cfg.Auth.ProfileRefreshInterval,
			DefaultTokenTTL:        cfg.Auth.AccessTokenTTL,
			Clock:                  clk,
			Logger:                 logger,
			Metrics:                metrics,
		}))
	}
	chain := auth.NewChain(metrics, authenticators...)
	authService := auth.NewService(auth.ServiceDeps{
		JWT:      jwtm,
		IdP:      idp,
		Verifier: verifier,
		Users:    stores.Users,
		Sessions: stores.Sessions,
		Chain:    chain,
		Clock:    clk,
		Logger:   logger,
	})
	cookies := auth.CookieConfig{
		AccessName:  cfg.Auth.AccessCookieName,
		RefreshName: cfg.Auth.RefreshCookieName,
		Secure:      !cfg.Server.Development,
		AccessTTL:   cfg.Auth.AccessTokenTTL,
		RefreshTTL:  cfg.Auth.RefreshTokenTTL,
	}
	access := auth.NewAccessControl(db, stores.Users, hub, clk, logger)

	// Notifications
	bus := signals.NewBus(logger)
	notifier := notify.New(notify.Deps{
		Store:     stores.Notifications,
		Users:     stores.Users,
		Employees: stores.Directory,
		Groups:    stores.Events,
		System:    stores.Config,
		Sender:    hub,
		Bus:       bus,
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
	})

	// SMB and Excel pipeline
	smbConfig := smb.NewConfigService(stores.Config, cipher, cfg.SMB, cfg.SMB.ConfigCacheTTL, entry)
	smbClient := smb.NewClient(smbConfig, nil, smb.Options{
		Pool: smb.PoolOptions{
			Min:            cfg.SMB.PoolMin,
			Max:            cfg.SMB.PoolMax,
			ProbeTimeout:   cfg.SMB.ProbeTimeout,
			ConnectTimeout: cfg.SMB.ConnectTimeout,
		},
		UploadTimeout: cfg.SMB.UploadTimeout,
		Retry:         smb.DefaultRetryPolicy(),
	}, clk, metrics, entry)
	exporter := excel.NewExporter(stores.Overtime, smbClient, excel.Config{
		DataRoot: cfg.Excel.DataRoot,
		TempOnly: cfg.Excel.TempOnly,
	}, entry)

	// Jobs
	runner := jobs.NewRunner(exporter, metrics, entry)
	jobTimeout := jobTimeoutOrDefault(cfg.Jobs.JobTimeout)
	pool := async.NewWorkerPool(ctx, cfg.Jobs.FallbackWorkers, cfg.Jobs.FallbackWorkers*4, jobTimeout, logger)
	var queue *jobs.Queue
	if rdb != nil {
		queue = jobs.NewQueue(rdb, cfg.Jobs.QueueName)
		consumer := jobs.NewConsumer(queue, runner, clk, jobTimeout, entry)
		go func() {
			if err := consumer.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
				entry.WithError(err).Error("Job consumer stopped")
			}
		}()
	}
	dispatcher := jobs.NewDispatcher(queue, pool, runner, clk, metrics, entry)

	// Domain services
	var locker overtime.Locker
	if rdb != nil {
		locker = overtime.NewRedisLocker(rdb, "ptbhub:lock")
	} else {
		locker = overtime.NewMemoryLocker(clk)
	}
	overtimeService := overtime.NewService(overtime.Deps{
		Tx:        db,
		Store:     stores.Overtime,
		Directory: stores.Directory,
		Holidays:  stores.Events,
		Locker:    locker,
		Bus:       bus,
		Clock:     clk,
		Logger:    logger,
	})
	calendarService := recurrence.NewService(db, stores.Events, bus, logger)
	taskService := tasks.NewService(tasks.Deps{
		Tx:       db,
		Events:   stores.Events,
		Store:    stores.Tasks,
		Notifier: notifier,
		Clock:    clk,
		Logger:   logger,
	})
	workflowService := workflow.NewService(workflow.Deps{
		Tx:        db,
		Purchases: stores.Purchases,
		Reports:   stores.Reports,
		Groups:    stores.Events,
		Notifier:  notifier,
		Bus:       bus,
		Logger:    logger,
	})

	subscribers := signals.Subscribers{
		Regen:     dispatcher,
		Notifier:  notifier,
		SMBConfig: smbConfig,
		Sender:    hub,
		Logger:    logger,
	}
	if viewCache != nil {
		subscribers.Cache = viewCache
	}
	subscribers.Register(bus)

	// Rate limiting
	loginLimiter := middleware.NewLimiter(rdb, middleware.LoginRateLimitConfig(cfg.Auth.LoginRatePerMinute), "ptbhub:ratelimit:login")
	if local, ok := loginLimiter.(*middleware.RateLimiter); ok {
		go local.StartCleanup(ctx)
	}
	var throttle *middleware.Throttle
	if cfg.Auth.ThrottleEnabled {
		throttle = middleware.NewThrottle(
			middleware.NewLimiter(rdb, middleware.UserRateLimitConfig(), "ptbhub:ratelimit:user"),
			middleware.NewLimiter(rdb, middleware.AnonRateLimitConfig(), "ptbhub:ratelimit:anon"),
			logger,
		)
	}

	// Realtime endpoints
	presence := realtime.NewPresence(stores.Presence, clk)
	wsServer := realtime.NewServer(hub, chain, cfg.WebSocket, realtime.ServerOptions{
		CookieName: cfg.Auth.AccessCookieName,
		Clock:      clk,
		Logger:     logger,
		Metrics:    metrics,
	})
	consumers := realtime.Consumers{
		Board:         realtime.NewBoardConsumer(presence, stores.Events, clk, logger),
		Task:          realtime.NewTaskConsumer(stores.Events, stores.Tasks, clk),
		Notifications: realtime.NewNotificationConsumer(stores.Notifications),
		Calendar:      realtime.NewCalendarConsumer(clk),
	}

	// Health
	health := observability.NewHealthChecker(db.SQL(), rdb)
	health.SetVersion(version)
	health.AddCheck("smb_config", func(ctx context.Context) error {
		_, err := smbConfig.Active(ctx)
		return err
	})

	deps := api.Deps{
		Config:        cfg,
		Cookies:       cookies,
		Authenticator: middleware.ChainAuthenticator(chain),
		RBAC:          engine,
		Cache:         viewCache,
		LoginLimiter:  loginLimiter,
		Throttle:      throttle,
		Auth:          api.NewAuthHandlers(authService, cookies, logger),
		Directory:     api.NewDirectoryHandlers(stores.Directory, viewCache, api.WithEmployeeResolver(notifier)),
		Overtime:      api.NewOvertimeHandlers(overtimeService, stores.Overtime, dispatcher, viewCache, clk),
		Calendar:      api.NewCalendarHandlers(calendarService, stores.Events, viewCache),
		Notifications: api.NewNotificationHandlers(stores.Notifications, presence),
		SMB:           api.NewSMBHandlers(stores.Config, cipher, smbConfig, smbClient, bus),
		Access:        api.NewAccessHandlers(access, notifier, logger),
		Tasks:         api.NewTaskHandlers(taskService),
		Workflow:      api.NewWorkflowHandlers(workflowService),
		Realtime:      wsServer,
		Consumers:     consumers,
		Health:        health,
		Metrics:       metrics,
		Clock:         clk,
		Logger:        logger,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Registry = registry
	}
	server := api.NewServer(deps)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("realtime", func(context.Context) error {
		stopHub()
		return nil
	})
	shutdown.RegisterShutdownFunc("jobs", func(context.Context) error {
		return pool.Shutdown(jobTimeout)
	})
	shutdown.RegisterShutdownFunc("smb", func(context.Context) error {
		return smbClient.Close()
	})
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return rdb.Close()
		})
	}
	if tracer != nil {
		shutdown.RegisterShutdownFunc("tracing", tracer.Shutdown)
	}

	go func() {
		logger.Infof("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// jobTimeoutOrDefault keeps the worker pool usable when JOB_TIMEOUT is unset
func jobTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Minute
	}
	return d
}
