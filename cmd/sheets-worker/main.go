package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	applog "fintrack/internal/log"
	gsheet "fintrack/internal/sheets/google"
	"fintrack/internal/worker"
)

const reconcileInterval = time.Hour

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentSheets)
	logger.Info("Starting sheets-worker")

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required for sheets-worker")
		os.Exit(1)
	}

	store, closeStore := cli.OpenStore(context.Background(), logger, cfg)

	sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	sheetsWorker := worker.NewSheetsWorker(store, sheetsClient, cfg.SheetsSyncLookback)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		amqpClient.Close()
		if err := closeStore(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	})

	// Recover transactions whose events were lost while the worker was down.
	logger.Info("Performing startup sync check")
	if err := sheetsWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", applog.FieldError, err)
	}

	go func() {
		err := amqpClient.ConsumeTransactionMaterialized(ctx, sheetsWorker.HandleMaterialized)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
		}
	}()

	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sheetsWorker.StartupSyncCheck(ctx); err != nil {
					logger.Error("Periodic sync check failed", applog.FieldError, err)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Sheets-worker shutdown complete")
}
