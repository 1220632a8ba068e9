package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"fintrack/internal/cli"
	applog "fintrack/internal/log"
	"fintrack/internal/worker"
)

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct{ logger *applog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, applog.FieldError, err)...)
}

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentWorker)
	logger.Info("Starting recurring-worker")

	store, closeStore := cli.OpenStore(context.Background(), logger, cfg)
	amqpClient := cli.ConnectAMQP(logger, cfg)
	processor := cli.NewProcessor(store, amqpClient, cfg)
	sweeper := worker.NewRecurringSweeper(store, processor, cfg.WorkerConcurrency)

	scheduler := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			logger.Warn("Sweep still running at shutdown")
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		if err := closeStore(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	})

	sweep := func() {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.Error("Recurring sweep failed", applog.FieldError, err)
			return
		}
		logger.Info("Recurring sweep complete",
			"users", report.Users,
			"failed_users", report.Failed,
			"created", report.Created,
			"skipped", report.Skipped,
			"truncated", report.Truncated,
			applog.FieldDurationHuman, report.Duration.String())
	}

	if _, err := scheduler.AddFunc(cfg.RecurringSchedule, sweep); err != nil {
		logger.Error("Invalid recurring schedule", applog.FieldError, err, "schedule", cfg.RecurringSchedule)
		return
	}

	logger.Info("Running initial recurring sweep")
	sweep()

	scheduler.Start()
	logger.Info("Recurring sweeps scheduled",
		"schedule", cfg.RecurringSchedule,
		"timezone", cfg.Timezone,
		"concurrency", cfg.WorkerConcurrency)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
