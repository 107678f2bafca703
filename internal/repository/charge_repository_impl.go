package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/payment-reconciler/internal/model"
)

// ChargeRepositoryImpl implements ChargeRepository using PostgreSQL.
type ChargeRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewChargeRepositoryImpl creates a new ChargeRepository implementation.
func NewChargeRepositoryImpl(pool *pgxpool.Pool) ChargeRepository {
	return &ChargeRepositoryImpl{pool: pool}
}

const selectChargeForUpdate = `
SELECT id, external_charge_id, processor, merchant_account_id, amount_cents, platform_fee_cents,
       state, payment_method_fingerprint, last_event_type, updated_at
FROM charges
WHERE processor = $1 AND external_charge_id = $2
FOR UPDATE`

// FindByExternalIDForUpdate retrieves and locks a charge by processor-side id.
func (r *ChargeRepositoryImpl) FindByExternalIDForUpdate(
	ctx context.Context, processor model.Processor, externalID string,
) (*model.ChargeRecord, error) {
	var c model.ChargeRecord
	err := conn(ctx, r.pool).QueryRow(ctx, selectChargeForUpdate, string(processor), externalID).Scan(
		&c.ID, &c.ExternalChargeID, &c.Processor, &c.MerchantAccountID, &c.AmountCents, &c.PlatformFeeCents,
		&c.State, &c.PaymentMethodFingerprint, &c.LastEventType, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrChargeNotFound
		}

		return nil, fmt.Errorf("failed to get charge %s: %w", externalID, err)
	}

	return &c, nil
}

// UpdateState writes a new state and the event type that caused it.
func (r *ChargeRepositoryImpl) UpdateState(ctx context.Context, id int64, state model.ChargeState, eventType string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE charges SET state = $2, last_event_type = $3, updated_at = NOW() WHERE id = $1`,
		id, string(state), eventType)
	if err != nil {
		return fmt.Errorf("failed to update charge %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrChargeNotFound
	}

	return nil
}
