package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"taskminder/internal/config"
	"taskminder/internal/idempotency"
	"taskminder/internal/logger"
	"taskminder/internal/metrics"
	"taskminder/internal/repository"
	"taskminder/internal/server"
	"taskminder/internal/service"
	"taskminder/internal/transport/email"
	"taskminder/internal/transport/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("db handle")
	}
	defer sqlDB.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	eventRepo := repository.NewEventRepository(db)

	var push service.PushSender
	if cfg.Push.TelegramToken != "" {
		sender, err := telegram.New(cfg.Push.TelegramToken, cfg.Push.RatePerSec, log)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram")
		}
		push = sender
	} else {
		log.Warn().Msg("TELEGRAM_TOKEN not set, push delivery disabled")
	}

	var mailer service.EmailSender
	if cfg.SMTP.Host != "" {
		mailer = email.New(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		})
	} else {
		log.Warn().Msg("SMTP_HOST not set, email delivery disabled")
	}

	var guard idempotency.Guard = eventRepo
	if cfg.RedisAddr != "" {
		redisGuard := idempotency.NewRedisGuard(cfg.RedisAddr, cfg.IdempotencyTTL)
		defer redisGuard.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisGuard.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, idempotency keys fall back to sqlite")
		} else {
			guard = redisGuard
		}
		cancel()
	}

	composer := service.NewComposer(cfg.AppBaseURL)
	router := service.NewDeliveryRouter(push, mailer, userRepo, composer, cfg.Push.Timeout, m, log)
	dispatcher := service.NewDispatcher(reminderRepo, taskRepo, userRepo, router, service.DispatcherConfig{
		WorkerID:  workerID(os.Hostname),
		ClaimTTL:  cfg.Dispatch.ClaimTTL,
		BatchSize: cfg.Dispatch.BatchSize,
	}, m, log)
	sweeper := service.NewSweeper(reminderRepo, eventRepo, cfg.Sweep.Retention, cfg.Sweep.BatchSize, m, log)
	calendar := service.NewCalendarService(taskRepo)

	scheduler := service.NewSchedulerService(time.UTC, log)
	if _, err := scheduler.Schedule(cfg.Dispatch.Schedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, cfg.Dispatch.ClaimTTL)
		defer cancel()
		if _, err := dispatcher.Tick(jobCtx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("dispatch tick")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule dispatch")
	}
	if _, err := scheduler.Schedule(cfg.Sweep.Schedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := sweeper.Sweep(jobCtx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sweep")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule sweep")
	}
	scheduler.Start()
	defer scheduler.Stop()

	api := server.New(server.Deps{
		Calendar:   calendar,
		Dispatcher: dispatcher,
		Guard:      guard,
		DB:         sqlDB,
		Gatherer:   reg,
		Log:        log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("reminder engine started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// workerID names this process as a lease owner.
func workerID(hostname func() (string, error)) string {
	name, err := hostname()
	if err != nil || name == "" {
		return "reminderd"
	}
	return name
}
