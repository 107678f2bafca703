// Package main provides the scheduler that moves due delayed jobs onto the job stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jnst/payment-reconciler/internal/app"
	"github.com/jnst/payment-reconciler/internal/config"
	"github.com/jnst/payment-reconciler/internal/logger"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

// Promoter moves due jobs to the stream.
type Promoter interface {
	PromoteDue(ctx context.Context, limit int) (int, error)
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, stopping scheduler")
		cancel()
	}()

	return ctx, cancel
}

func runSchedulerLoop(ctx context.Context, promoter Promoter, pollInterval time.Duration, batchSize int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			// 期限切れのジョブが残っている間は続けて処理
			for {
				promoted, err := promoter.PromoteDue(ctx, batchSize)
				if err != nil {
					slog.Error("Error promoting due jobs", slog.String("error", err.Error()))
					break
				}
				if promoted > 0 {
					slog.Info("Promoted due jobs", slog.Int("count", promoted))
				}
				if promoted < batchSize {
					break
				}
			}
		}
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	loggerInstance := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(loggerInstance)

	redisClient, err := app.SetupRedisClient(cfg)
	if err != nil {
		slog.Error("Failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	jobs := app.NewQueue(cfg, redisClient, loggerInstance)

	ctx, cancel := setupSignalHandling()
	defer cancel()

	slog.Info("Starting scheduler",
		slog.String("service", "scheduler"),
		slog.String("schedule", cfg.JobScheduleKey),
		slog.String("stream", cfg.JobStreamKey),
		slog.Duration("poll_interval", cfg.SchedulerPollInterval),
		slog.Int("batch_size", cfg.SchedulerBatchSize),
	)

	runSchedulerLoop(ctx, jobs, cfg.SchedulerPollInterval, cfg.SchedulerBatchSize)
}
