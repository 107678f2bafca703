package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/payment-reconciler/internal/model"
)

// PayoutRepositoryImpl implements PayoutRepository using PostgreSQL.
type PayoutRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewPayoutRepositoryImpl creates a new PayoutRepository implementation.
func NewPayoutRepositoryImpl(pool *pgxpool.Pool) PayoutRepository {
	return &PayoutRepositoryImpl{pool: pool}
}

// FindByExternalIDForUpdate retrieves and locks a payout by processor-side id.
func (r *PayoutRepositoryImpl) FindByExternalIDForUpdate(
	ctx context.Context, processor model.Processor, externalID string,
) (*model.PayoutRecord, error) {
	var p model.PayoutRecord
	err := conn(ctx, r.pool).QueryRow(ctx, `
SELECT id, external_payout_id, processor, user_id, amount_cents, currency, state,
       failure_reason, diagnostic_note, updated_at
FROM payouts
WHERE processor = $1 AND external_payout_id = $2
FOR UPDATE`, string(processor), externalID).Scan(
		&p.ID, &p.ExternalPayoutID, &p.Processor, &p.UserID, &p.AmountCents, &p.Currency, &p.State,
		&p.FailureReason, &p.DiagnosticNote, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPayoutNotFound
		}

		return nil, fmt.Errorf("failed to get payout %s: %w", externalID, err)
	}

	return &p, nil
}

// Update persists state, failure reason and diagnostic note.
func (r *PayoutRepositoryImpl) Update(ctx context.Context, payout *model.PayoutRecord) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
UPDATE payouts
SET state = $2, failure_reason = $3, diagnostic_note = $4, updated_at = NOW()
WHERE id = $1`, payout.ID, string(payout.State), payout.FailureReason, payout.DiagnosticNote)
	if err != nil {
		return fmt.Errorf("failed to update payout %d: %w", payout.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPayoutNotFound
	}

	return nil
}
