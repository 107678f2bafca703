// Package main provides the worker that runs delayed jobs from the job stream.
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
	"github.com/jnst/payment-reconciler/internal/queue"
)

const (
	errorRetryDelay  = 1 * time.Second
	signalBufferSize = 1
	exitCode         = 1
)

// Consumer reads job batches from the stream.
type Consumer interface {
	Consume(ctx context.Context, consumer string, pending bool, handle queue.Handler) (int, error)
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, stopping worker")
		cancel()
	}()

	return ctx, cancel
}

// drainPending re-runs jobs this consumer read before a crash but never acknowledged.
func drainPending(ctx context.Context, consumer Consumer, consumerName string, handle queue.Handler) {
	for ctx.Err() == nil {
		handled, err := consumer.Consume(ctx, consumerName, true, handle)
		if err != nil {
			slog.Error("Error reading pending jobs", slog.String("error", err.Error()))
			return
		}
		if handled == 0 {
			return
		}
		slog.Info("Recovered pending jobs", slog.Int("count", handled))
	}
}

func runWorkerLoop(ctx context.Context, consumer Consumer, consumerName string, handle queue.Handler) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopped")
			return
		default:
			if _, err := consumer.Consume(ctx, consumerName, false, handle); err != nil {
				slog.Error("Error consuming jobs", slog.String("error", err.Error()))
				time.Sleep(errorRetryDelay)
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

	// ログ設定
	loggerInstance := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(loggerInstance)

	if err := run(cfg, loggerInstance); err != nil {
		slog.Error("Worker failed", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := setupSignalHandling()
	defer cancel()

	dbPool, err := app.SetupDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := app.SetupRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	n, closeNotifier, err := app.SetupNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	tokens, err := app.NewTokenStore(cfg, redisClient)
	if err != nil {
		return err
	}
	jobs := app.NewQueue(cfg, redisClient, log)
	services := app.NewServices(cfg, dbPool, tokens, jobs, n, log)

	jobs.EnsureGroup(ctx)

	log.Info("Starting worker",
		slog.String("service", "worker"),
		slog.String("stream", cfg.JobStreamKey),
		slog.String("group", cfg.JobConsumerGroup),
		slog.String("consumer", cfg.ConsumerName),
	)

	handle := queue.Handler(services.Dispatch.RunDelayed)
	drainPending(ctx, jobs, cfg.ConsumerName, handle)
	runWorkerLoop(ctx, jobs, cfg.ConsumerName, handle)

	return nil
}
