package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"post_scheduler/internal/app"
	"post_scheduler/internal/domain/timing"
	"post_scheduler/internal/infra/config"
	idb "post_scheduler/internal/infra/database"
	"post_scheduler/internal/infra/linkedin"
	"post_scheduler/internal/infra/logger"
	"post_scheduler/internal/infra/metrics"
	"post_scheduler/internal/infra/scheduler"
	"post_scheduler/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLog := logger.Component("main")
	mainLog.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"timezone":    cfg.Timezone,
	}).Info("Post scheduler starting...")

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLog.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := idb.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		mainLog.Fatalf("Could not apply schema: %v", err)
	}
	cancelMigrate()
	mainLog.Info("Database connection established and schema applied")

	periods, err := timing.ParsePeriods(cfg.SpecialPeriods)
	if err != nil {
		mainLog.Fatalf("Invalid SPECIAL_PERIODS: %v", err)
	}
	region, err := timing.DefaultRegion(cfg.Location, map[timing.SlotLabel]string{
		timing.SlotMorning: cfg.MorningTime,
		timing.SlotMidday:  cfg.MiddayTime,
		timing.SlotEvening: cfg.EveningTime,
	}, periods)
	if err != nil {
		mainLog.Fatalf("Invalid regional configuration: %v", err)
	}

	// Repositories
	scheduleRepo := idb.NewPostgresScheduleRepository(db)
	postRepo := idb.NewPostgresPostRepository(db)
	profileCache := idb.NewPostgresProfileCache(db)
	credStore := idb.NewPostgresCredentialStore(db)

	collector, err := metrics.NewCollector()
	if err != nil {
		mainLog.Fatalf("Could not register metrics: %v", err)
	}

	// Services
	builder := app.NewProfileBuilder(postRepo, region, logger.Component("profile_builder"))
	timingService := app.NewTimingService(
		builder,
		profileCache,
		timing.NewPlanner(region),
		cfg.LookbackDays,
		time.Duration(cfg.ProfileCacheDays)*24*time.Hour,
		collector,
		logger.Component("timing_service"),
	)
	scheduleService := app.NewScheduleService(scheduleRepo, postRepo, timingService, logger.Component("schedule_service"))

	linkedinClient := linkedin.NewClient(linkedin.Config{
		BaseURL:       cfg.LinkedInAPIBase,
		RatePerSec:    cfg.PublishRatePerSec,
		OnStateChange: collector.SetCircuitState,
	}, credStore, logger.Component("linkedin"))
	collector.SetCircuitState("closed")

	var notifier app.FailureNotifier
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = telegram.NewBot(cfg.TelegramToken, logger.Component("telegram"))
		if err != nil {
			mainLog.Fatalf("Could not create Telegram bot: %v", err)
		}
		notifier = telegram.NewFailureNotifier(telegram.NewTelebotAdapter(bot), cfg.TelegramAlertChatID, cfg.Location, logger.Component("alerts"))
		mainLog.Info("Telegram failure alerts enabled")
	}

	publishService := app.NewPublishService(
		scheduleRepo,
		postRepo,
		credStore,
		linkedinClient,
		notifier,
		collector,
		app.SweepConfig{
			BatchSize:      cfg.SweepBatchSize,
			Grace:          cfg.SweepGrace,
			ClaimTimeout:   cfg.ClaimTimeout,
			PublishTimeout: cfg.PublishTimeout,
		},
		logger.Component("publish_service"),
	)

	// Jobs
	jobs := scheduler.NewRegistry(cfg.Location, logger.Component("scheduler"))
	sweepTimeout := time.Duration(cfg.SweepBatchSize)*cfg.PublishTimeout + time.Minute
	mustRegister := func(job scheduler.Job) {
		if err := jobs.Register(job); err != nil {
			mainLog.Fatalf("Could not register job %s: %v", job.Name, err)
		}
	}

	mustRegister(scheduler.Job{
		Name:    "sweep-due",
		Spec:    cfg.SweepInterval,
		Timeout: sweepTimeout,
		Run: func(ctx context.Context) error {
			_, err := publishService.SweepDue(ctx)
			return err
		},
	})
	for label, clock := range map[timing.SlotLabel]string{
		timing.SlotMorning: cfg.MorningTime,
		timing.SlotMidday:  cfg.MiddayTime,
		timing.SlotEvening: cfg.EveningTime,
	} {
		spec, err := config.SlotCronSpec(clock)
		if err != nil {
			mainLog.Fatalf("Invalid slot time for %s: %v", label, err)
		}
		label := label
		mustRegister(scheduler.Job{
			Name:    "sweep-slot-" + string(label),
			Spec:    spec,
			Timeout: sweepTimeout,
			Run: func(ctx context.Context) error {
				_, err := publishService.SweepSlot(ctx, label)
				return err
			},
		})
	}
	mustRegister(scheduler.Job{
		Name:    "recover-stale-claims",
		Spec:    cfg.CronSpecStaleClaim,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			_, err := publishService.RecoverStaleClaims(ctx)
			return err
		},
	})
	mustRegister(scheduler.Job{
		Name:    "revalidate-profiles",
		Spec:    cfg.CronSpecRevalidate,
		Timeout: 30 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := timingService.RevalidateStale(ctx)
			return err
		},
	})
	jobs.Start()

	if bot != nil && cfg.TelegramOperatorID != 0 {
		opsService := app.NewOpsService(scheduleService, timingService, jobs, cfg.TelegramOperatorID, logger.Component("ops_service"))
		telegram.RegisterBotCommands(bot, cfg.TelegramOperatorID, logger.Component("telegram"))
		telegram.RegisterOperatorHandlers(bot, opsService, cfg.Location, logger.Component("telegram"))
		go bot.Start()
		mainLog.Info("Telegram operator commands enabled")
	}

	// Ops endpoints
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	opsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.WithError(err).Error("Ops server stopped")
		}
	}()

	mainLog.WithField("addr", cfg.MetricsAddr).Info("Application setup complete. Scheduler is running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLog.Info("Shutting down application...")
	if bot != nil && cfg.TelegramOperatorID != 0 {
		bot.Stop()
	}
	jobs.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		mainLog.WithError(err).Warn("Ops server shutdown failed")
	}
	mainLog.Info("Application shut down gracefully")
}
