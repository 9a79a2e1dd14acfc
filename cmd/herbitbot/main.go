package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"herbit/internal/bot"
	"herbit/internal/config"
	"herbit/internal/ecoenzim"
	"herbit/internal/httpserver"
	"herbit/internal/logging"
	"herbit/internal/repository"
	"herbit/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("herbit bot stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := repository.NewDB(cfg.DatabaseURL, logger.Named("db"))
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	api := ecoenzim.NewClient(ecoenzim.Options{
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.APITimeout,
		RatePerSec: cfg.APIRatePerSec,
	}, logger.Named("ecoenzim"))

	var gen service.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := service.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		gen = gemini
	} else {
		logger.Info("GEMINI_API_KEY not set, /ask disabled")
	}

	accountSvc := service.NewAccountService(userRepo, snapshotRepo, logger.Named("accounts"))
	timelineSvc := service.NewTimelineService(api, snapshotRepo, loc, logger.Named("timeline"))
	reminderSvc := service.NewReminderService(timelineSvc, reminderRepo, logger.Named("reminders"))
	assistantSvc := service.NewAssistantService(gen, logger.Named("assistant"))

	telegramBot, err := bot.New(cfg.TelegramToken, bot.Services{
		Accounts:  accountSvc,
		Timeline:  timelineSvc,
		Reminders: reminderSvc,
		Assistant: assistantSvc,
	}, logger.Named("bot"))
	if err != nil {
		return err
	}

	scheduler := service.NewSchedulerService(loc, logger.Named("scheduler"))
	reminderID, err := scheduler.ScheduleDaily(cfg.ReminderTime, scheduler.Job(ctx, "reminders", 2*time.Minute, func(ctx context.Context) error {
		if err := telegramBot.SendReminders(ctx); err != nil {
			return err
		}
		_, err := reminderSvc.Prune(ctx)
		return err
	}))
	if err != nil {
		return err
	}
	if _, err := scheduler.ScheduleInterval(cfg.RefreshInterval, scheduler.Job(ctx, "refresh", time.Minute, func(ctx context.Context) error {
		users, err := accountSvc.ListLinked(ctx)
		if err != nil {
			return err
		}
		failed, err := timelineSvc.RefreshAll(ctx, users)
		if failed > 0 {
			logger.Warn("snapshot refresh incomplete", zap.Int("failed", failed), zap.Int("users", len(users)))
		}
		return err
	})); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()
	logger.Info("scheduler started", zap.Time("next_reminders", scheduler.Next(reminderID)))

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(httpserver.Config{
			Timeline:  timelineSvc,
			Assistant: assistantSvc,
			Limiter:   httpserver.NewRateLimiter(30, 10),
			Log:       logger.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("herbit bot started", zap.String("timezone", loc.String()))
		err := telegramBot.Start(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}
