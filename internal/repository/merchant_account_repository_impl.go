package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/payment-reconciler/internal/model"
)

// MerchantAccountRepositoryImpl implements MerchantAccountRepository using PostgreSQL.
type MerchantAccountRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewMerchantAccountRepositoryImpl creates a new MerchantAccountRepository implementation.
func NewMerchantAccountRepositoryImpl(pool *pgxpool.Pool) MerchantAccountRepository {
	return &MerchantAccountRepositoryImpl{pool: pool}
}

const merchantAccountColumns = `id, user_id, processor, charge_processor_merchant_id, country, currency, state,
       verified_at, alive_at, deleted_at, rejection_message, updated_at`

func scanMerchantAccount(row pgx.Row) (*model.MerchantAccount, error) {
	var a model.MerchantAccount
	err := row.Scan(
		&a.ID, &a.UserID, &a.Processor, &a.ChargeProcessorMerchantID, &a.Country, &a.Currency, &a.State,
		&a.VerifiedAt, &a.AliveAt, &a.DeletedAt, &a.RejectionMessage, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// FindByMerchantID retrieves the most recent account for a processor-side merchant id.
func (r *MerchantAccountRepositoryImpl) FindByMerchantID(
	ctx context.Context, processor model.Processor, merchantID string,
) (*model.MerchantAccount, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
SELECT `+merchantAccountColumns+`
FROM merchant_accounts
WHERE processor = $1 AND charge_processor_merchant_id = $2
ORDER BY deleted_at IS NULL DESC, id DESC
LIMIT 1`, string(processor), merchantID)

	account, err := scanMerchantAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrMerchantAccountNotFound
		}

		return nil, fmt.Errorf("failed to get merchant account %s: %w", merchantID, err)
	}

	return account, nil
}

// FindAliveByMerchantIDForUpdate retrieves and locks the alive account for a merchant id.
func (r *MerchantAccountRepositoryImpl) FindAliveByMerchantIDForUpdate(
	ctx context.Context, processor model.Processor, merchantID string,
) (*model.MerchantAccount, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
SELECT `+merchantAccountColumns+`
FROM merchant_accounts
WHERE processor = $1 AND charge_processor_merchant_id = $2 AND deleted_at IS NULL
ORDER BY id DESC
LIMIT 1
FOR UPDATE`, string(processor), merchantID)

	account, err := scanMerchantAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrMerchantAccountNotFound
		}

		return nil, fmt.Errorf("failed to lock merchant account %s: %w", merchantID, err)
	}

	return account, nil
}

// FindAliveByUserForUpdate locks every alive account of a user for one processor.
func (r *MerchantAccountRepositoryImpl) FindAliveByUserForUpdate(
	ctx context.Context, userID int64, processor model.Processor,
) ([]*model.MerchantAccount, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
SELECT `+merchantAccountColumns+`
FROM merchant_accounts
WHERE user_id = $1 AND processor = $2 AND deleted_at IS NULL
ORDER BY id
FOR UPDATE`, userID, string(processor))
	if err != nil {
		return nil, fmt.Errorf("failed to lock merchant accounts of user %d: %w", userID, err)
	}
	defer rows.Close()

	var accounts []*model.MerchantAccount
	for rows.Next() {
		account, err := scanMerchantAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merchant account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate merchant accounts: %w", err)
	}

	return accounts, nil
}

// FindOrCreate returns the alive account for (user, processor, merchant id), creating it if needed.
func (r *MerchantAccountRepositoryImpl) FindOrCreate(
	ctx context.Context, userID int64, processor model.Processor, merchantID string,
) (*model.MerchantAccount, error) {
	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
INSERT INTO merchant_accounts (user_id, processor, charge_processor_merchant_id, state)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, processor, charge_processor_merchant_id) WHERE deleted_at IS NULL DO NOTHING`,
		userID, string(processor), merchantID, string(model.MerchantAccountStatePendingOnboarding)); err != nil {
		return nil, fmt.Errorf("failed to create merchant account %s: %w", merchantID, err)
	}

	row := q.QueryRow(ctx, `
SELECT `+merchantAccountColumns+`
FROM merchant_accounts
WHERE user_id = $1 AND processor = $2 AND charge_processor_merchant_id = $3 AND deleted_at IS NULL
FOR UPDATE`, userID, string(processor), merchantID)

	account, err := scanMerchantAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant account %s: %w", merchantID, err)
	}

	return account, nil
}

// Update persists the mutable fields of an account.
func (r *MerchantAccountRepositoryImpl) Update(ctx context.Context, account *model.MerchantAccount) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
UPDATE merchant_accounts
SET country = $2, currency = $3, state = $4, verified_at = $5, alive_at = $6, deleted_at = $7,
    rejection_message = $8, updated_at = NOW()
WHERE id = $1`,
		account.ID, account.Country, account.Currency, string(account.State),
		account.VerifiedAt, account.AliveAt, account.DeletedAt, account.RejectionMessage)
	if err != nil {
		return fmt.Errorf("failed to update merchant account %d: %w", account.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMerchantAccountNotFound
	}

	return nil
}
