package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentHTTP)

	authenticator, err := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		logger.Error("Failed to initialize authentication", applog.FieldError, err)
		os.Exit(1)
	}

	store, closeStore := cli.OpenStore(context.Background(), logger, cfg)
	amqpClient := cli.ConnectAMQP(logger, cfg)
	processor := cli.NewProcessor(store, amqpClient, cfg)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Recurring:     services.NewRecurringService(store, store),
		Transactions:  cli.NewTransactionService(store, amqpClient),
		Processor:     processor,
		Store:         store,
		Authenticator: authenticator,
		Logger:        logger,
	}, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		if err := closeStore(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	})

	logger.Info("Starting fintrack server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", amqpClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
