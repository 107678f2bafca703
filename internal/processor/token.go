package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jnst/payment-reconciler/internal/cache"
)

const (
	tokenFetchAttempts = 3
	// DefaultTokenRetryInterval is the constant wait between token fetch attempts.
	DefaultTokenRetryInterval = 2 * time.Second
)

// TokenFetcher obtains a fresh access token and its lifetime.
type TokenFetcher func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenProvider returns a cached access token, fetching a new one when the
// cached entry has expired.
type TokenProvider struct {
	store         cache.Store
	key           string
	fetch         TokenFetcher
	retryInterval time.Duration
	logger        *slog.Logger

	mu sync.Mutex
}

// NewTokenProvider creates a TokenProvider caching under key.
func NewTokenProvider(store cache.Store, key string, fetch TokenFetcher, retryInterval time.Duration, logger *slog.Logger) *TokenProvider {
	return &TokenProvider{
		store:         store,
		key:           key,
		fetch:         fetch,
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// Token returns a valid access token.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(ctx); ok {
		return token, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if token, ok := p.cached(ctx); ok {
		return token, nil
	}

	var (
		token     string
		expiresIn time.Duration
		attempt   int
	)
	operation := func() error {
		attempt++
		t, exp, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || !isTransientFetchError(err) {
				return backoff.Permanent(err)
			}
			p.logger.Warn("Token fetch failed",
				slog.String("key", p.key),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))

			return err
		}
		token, expiresIn = t, exp

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.retryInterval), tokenFetchAttempts-1),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}

	if err := p.store.Set(ctx, p.key, token, expiresIn); err != nil {
		p.logger.Warn("Failed to cache access token", slog.String("key", p.key), slog.String("error", err.Error()))
	}

	return token, nil
}

// Invalidate drops the cached token, e.g. after a 401.
func (p *TokenProvider) Invalidate(ctx context.Context) error {
	return p.store.Delete(ctx, p.key)
}

func (p *TokenProvider) cached(ctx context.Context) (string, bool) {
	token, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		p.logger.Warn("Token cache read failed", slog.String("key", p.key), slog.String("error", err.Error()))
		return "", false
	}

	return token, ok && token != ""
}

// isTransientFetchError reports network-level failures and processor outages.
func isTransientFetchError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return IsTransient(err)
}
