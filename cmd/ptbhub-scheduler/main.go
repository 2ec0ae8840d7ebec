package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/excel"
	"github.com/platinummonkey/ptbhub/pkg/jobs"
	"github.com/platinummonkey/ptbhub/pkg/notify"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/realtime"
	"github.com/platinummonkey/ptbhub/pkg/secrets"
	"github.com/platinummonkey/ptbhub/pkg/smb"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

var (
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	runOnce    = flag.Bool("run-once", false, "Run one export and exit (for backfilling)")
	exportKind = flag.String("kind", "daily", "Export to run with --run-once: daily or monthly")
	exportDate = flag.String("date", "", "Date to export (YYYY-MM-DD). If empty, exports yesterday. Only used with --run-once")
)

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logrus.Fatalf("Failed to load %s: %v", *envFile, err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg.Observability.LogLevel.String())
	entry := logger.WithField("service", "ptbhub-scheduler")

	loc, err := time.LoadLocation(cfg.Excel.Timezone)
	if err != nil {
		entry.Fatalf("Invalid timezone %q: %v", cfg.Excel.Timezone, err)
	}

	ctx := context.Background()
	appLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}, appLogger)
	if err != nil {
		entry.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	stores := postgres.NewStores(db)

	cipher, err := secrets.New(cfg.SMBKeyMaterial())
	if err != nil {
		entry.Fatalf("Failed to init secrets: %v", err)
	}

	clk := clock.New()
	metrics := observability.NewNopMetrics()
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
	defer smbClient.Close()

	exporter := excel.NewExporter(stores.Overtime, smbClient, excel.Config{
		DataRoot: cfg.Excel.DataRoot,
		TempOnly: cfg.Excel.TempOnly,
	}, entry)
	runner := jobs.NewRunner(exporter, metrics, entry)

	// Reminder pushes reach the server's sockets through the shared broker
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
			entry.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
	}
	deps := notify.Deps{
		Store:     stores.Notifications,
		Users:     stores.Users,
		Employees: stores.Directory,
		Groups:    stores.Events,
		System:    stores.Config,
		Clock:     clk,
		Logger:    appLogger,
		Metrics:   metrics,
	}
	if rdb != nil {
		deps.Sender = realtime.NewHub(
			realtime.WithBroker(realtime.NewRedisBroker(rdb, "ptbhub:ws")),
			realtime.WithHubLogger(appLogger),
		)
	}
	notifier := notify.New(deps)

	scheduler := jobs.NewScheduler(cfg.Jobs, runner, stores.Sessions, stores.Presence, clk, loc, entry,
		jobs.WithReminders(&jobs.Reminders{
			Tx:       db,
			Store:    stores.Tasks,
			Events:   stores.Events,
			Notifier: notifier,
		}))

	// Run once mode (for testing or backfilling)
	if *runOnce {
		kind := jobs.KindDaily
		switch *exportKind {
		case "daily":
		case "monthly":
			kind = jobs.KindMonthly
		default:
			entry.Fatalf("Unknown export kind %q", *exportKind)
		}

		date := clk.Now().In(loc).AddDate(0, 0, -1)
		if *exportDate != "" {
			date, err = time.ParseInLocation("2006-01-02", *exportDate, loc)
			if err != nil {
				entry.Fatalf("Invalid date format: %v", err)
			}
		}

		entry.Infof("Running %s export for %s", kind, date.Format("2006-01-02"))
		if err := scheduler.RunExport(ctx, kind, date); err != nil {
			entry.Fatalf("Export failed: %v", err)
		}
		entry.Info("Export completed successfully")
		return
	}

	if err := scheduler.Register(); err != nil {
		entry.Fatalf("Failed to register schedules: %v", err)
	}
	scheduler.Start()
	entry.WithFields(logrus.Fields{
		"daily":     cfg.Jobs.DailySchedule,
		"monthly":   cfg.Jobs.MonthlySchedule,
		"reminders": cfg.Jobs.ReminderSweepSchedule,
		"timezone":  loc.String(),
	}).Info("ptbhub scheduler started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	entry.Info("Shutting down gracefully...")

	stopped := scheduler.Stop()
	<-stopped.Done()

	entry.Info("Scheduler stopped")
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
