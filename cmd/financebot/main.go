package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bolotov-775-hue/finance-bot/internal/config"
	apphttp "github.com/bolotov-775-hue/finance-bot/internal/http"
	applog "github.com/bolotov-775-hue/finance-bot/internal/log"
	"github.com/bolotov-775-hue/finance-bot/internal/reminder"
	"github.com/bolotov-775-hue/finance-bot/internal/services"
	"github.com/bolotov-775-hue/finance-bot/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize storage backend",
			applog.FieldError, err, applog.FieldBackend, cfg.Backend)
		os.Exit(1)
	}
	defer store.Close()

	// Reminder publishing is optional: without a broker the endpoint
	// answers 503 and everything else keeps working.
	var publisher apphttp.ReminderPublisher
	if cfg.AMQPURL != "" {
		client, err := reminder.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		publisher = client
		logger.Info("Reminder publishing enabled",
			"exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Reminder publishing disabled - no AMQP_URL provided")
	}

	ledger := services.NewLedgerService(store)
	srv := apphttp.NewServer(":"+cfg.Port, store, ledger, publisher, cfg.Location(), logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting finance-bot server",
		"port", cfg.Port, applog.FieldBackend, cfg.Backend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
