package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/payment-reconciler/internal/model"
)

// PurchaseRepositoryImpl implements PurchaseRepository using PostgreSQL.
type PurchaseRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepositoryImpl creates a new PurchaseRepository implementation.
func NewPurchaseRepositoryImpl(pool *pgxpool.Pool) PurchaseRepository {
	return &PurchaseRepositoryImpl{pool: pool}
}

// MarkFailed stores the error code and message on a purchase and fails it.
func (r *PurchaseRepositoryImpl) MarkFailed(ctx context.Context, id int64, code model.PurchaseErrorCode, message string) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE purchases SET state = $2, error_code = $3, error_message = $4, updated_at = NOW() WHERE id = $1`,
		id, string(model.PurchaseStateFailed), string(code), message)
	if err != nil {
		return fmt.Errorf("failed to mark purchase %d failed: %w", id, err)
	}

	return nil
}
