package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bolotov-775-hue/finance-bot/internal/config"
	applog "github.com/bolotov-775-hue/finance-bot/internal/log"
	"github.com/bolotov-775-hue/finance-bot/internal/reminder"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentWorker)
	applog.SetDefault(logger)

	logger.Info("Starting reminder-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the reminder worker")
		os.Exit(1)
	}

	client, err := reminder.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	scheduler := reminder.NewScheduler(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Consume(ctx, func(msg *reminder.Message) error {
			return scheduler.HandleMessage(ctx, msg)
		})
	})

	g.Go(func() error {
		return scheduler.Run(ctx, cfg.ReminderPollInterval)
	})

	logger.Info("Reminder worker running",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"poll_interval", cfg.ReminderPollInterval.String())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker terminated with error", applog.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Worker stopped gracefully")
}
