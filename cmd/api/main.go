// Package main provides the HTTP server receiving Stripe and PayPal webhooks.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jnst/payment-reconciler/internal/api"
	"github.com/jnst/payment-reconciler/internal/app"
	"github.com/jnst/payment-reconciler/internal/config"
	"github.com/jnst/payment-reconciler/internal/logger"
)

const (
	signalBufferSize  = 1
	exitCode          = 1
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, stopping API server")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	// 環境変数読み込み
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	// ログ設定
	loggerInstance := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(loggerInstance)

	if err := run(cfg, loggerInstance); err != nil {
		slog.Error("API server failed", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := setupSignalHandling()
	defer cancel()

	// データベース接続
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
	services := app.NewServices(cfg, dbPool, tokens, app.NewQueue(cfg, redisClient, log), n, log)

	if cfg.StripeWebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET not set, Stripe signatures are not checked")
	}
	server := api.NewAPIServer(services.Webhooks, cfg.StripeWebhookSecret, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(server, app.RequestTimeout(cfg)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting API server", slog.String("service", "api"), slog.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("API server stopped")

	return nil
}
