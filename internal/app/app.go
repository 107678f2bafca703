// Package app wires configuration into the repositories, processor clients
// and services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/jnst/payment-reconciler/internal/cache"
	"github.com/jnst/payment-reconciler/internal/config"
	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/notifier"
	"github.com/jnst/payment-reconciler/internal/processor"
	"github.com/jnst/payment-reconciler/internal/queue"
	"github.com/jnst/payment-reconciler/internal/repository"
	"github.com/jnst/payment-reconciler/internal/service"
)

const (
	tokenCacheMemory = "memory"
	tokenCacheRedis  = "redis"
	tokenCachePrefix = "reconciler:"
)

// Services are the entry points the binaries call into.
type Services struct {
	Webhooks         service.WebhookService
	Dispatch         service.DispatchService
	Charges          service.ChargeService
	MerchantAccounts service.MerchantAccountService
	Payouts          service.PayoutService
}

// SetupDatabase opens the connection pool.
func SetupDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	return dbPool, nil
}

// SetupRedisClient connects to Redis.
func SetupRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

// SetupNotifier connects to RabbitMQ, or falls back to logging when no URL is
// configured. The returned func releases the connection.
func SetupNotifier(cfg *config.Config, logger *slog.Logger) (service.Notifier, func(), error) {
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set, notifications are only logged")
		return notifier.NewLogNotifier(logger), func() {}, nil
	}

	n, err := notifier.NewRabbitMQNotifier(cfg.RabbitMQURL, cfg.NotificationExchange, logger)
	if err != nil {
		return nil, nil, err
	}

	return n, n.Close, nil
}

// NewTokenStore picks the token cache backend. The redis backend shares one
// token between every process.
func NewTokenStore(cfg *config.Config, redisClient rueidis.Client) (cache.Store, error) {
	switch cfg.TokenCacheBackend {
	case tokenCacheMemory:
		return cache.NewMemoryStore(time.Now), nil
	case tokenCacheRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("token cache backend %q needs a Redis client", cfg.TokenCacheBackend)
		}

		return cache.NewRedisStore(redisClient, tokenCachePrefix), nil
	default:
		return nil, fmt.Errorf("unknown token cache backend %q", cfg.TokenCacheBackend)
	}
}

// RequestTimeout bounds one webhook request: the IPN verification window
// followed by one processor call budget for the handler.
func RequestTimeout(cfg *config.Config) time.Duration {
	return cfg.PayPalIPNTimeout + cfg.ProcessorHTTPTimeout
}

// NewQueue creates the delayed job queue.
func NewQueue(cfg *config.Config, redisClient rueidis.Client, logger *slog.Logger) *queue.RedisQueue {
	return queue.NewRedisQueue(redisClient, queue.Options{
		ScheduleKey: cfg.JobScheduleKey,
		StreamKey:   cfg.JobStreamKey,
		Group:       cfg.JobConsumerGroup,
		RetryDelay:  cfg.JobRetryDelay,
		MaxAttempts: cfg.JobMaxAttempts,
	}, logger)
}

// PayPalConfig extracts the PayPal client settings.
func PayPalConfig(cfg *config.Config) processor.PayPalConfig {
	return processor.PayPalConfig{
		APIBaseURL:        cfg.PayPalAPIBaseURL,
		IPNURL:            cfg.PayPalIPNURL,
		ClientID:          cfg.PayPalClientID,
		ClientSecret:      cfg.PayPalClientSecret,
		PartnerMerchantID: cfg.PayPalPartnerMerchantID,
		BNCode:            cfg.PayPalBNCode,
		HTTPTimeout:       cfg.ProcessorHTTPTimeout,
		IPNTimeout:        cfg.PayPalIPNTimeout,
		RetryInterval:     cfg.TokenFetchRetryInterval,
	}
}

// NewServices builds every service on top of the given infrastructure.
func NewServices(
	cfg *config.Config,
	dbPool *pgxpool.Pool,
	tokens cache.Store,
	jobs service.DelayedQueue,
	n service.Notifier,
	logger *slog.Logger,
) *Services {
	// 依存関係注入
	chargeRepo := repository.NewChargeRepositoryImpl(dbPool)
	purchaseRepo := repository.NewPurchaseRepositoryImpl(dbPool)
	merchantRepo := repository.NewMerchantAccountRepositoryImpl(dbPool)
	payoutRepo := repository.NewPayoutRepositoryImpl(dbPool)
	transactionMgr := repository.NewTransactionManagerImpl(dbPool)

	stripeClient := processor.NewStripeClient(cfg.StripeSecretKey)
	payPalClient := processor.NewPayPalClient(PayPalConfig(cfg), tokens, logger)

	charges := service.NewChargeServiceImpl(chargeRepo, purchaseRepo, transactionMgr, n, logger)
	merchants := service.NewMerchantAccountServiceImpl(merchantRepo, transactionMgr, stripeClient, payPalClient, n, logger)
	payouts := service.NewPayoutServiceImpl(payoutRepo, transactionMgr, n, logger)
	dispatch := service.NewDispatchServiceImpl(charges, merchants, payouts, jobs, logger)
	verifier := service.NewVerificationServiceImpl(payPalClient, cfg.StripePlatformAccountID, logger)

	return &Services{
		Webhooks:         service.NewWebhookServiceImpl(verifier, event.NewDefaultRouter(), dispatch, logger),
		Dispatch:         dispatch,
		Charges:          charges,
		MerchantAccounts: merchants,
		Payouts:          payouts,
	}
}
