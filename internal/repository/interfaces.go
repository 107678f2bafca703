// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"

	"github.com/jnst/payment-reconciler/internal/model"
)

// ChargeRepository defines methods for charge data access.
type ChargeRepository interface {
	// FindByExternalIDForUpdate locks and returns the charge. Must run inside a transaction.
	FindByExternalIDForUpdate(ctx context.Context, processor model.Processor, externalID string) (*model.ChargeRecord, error)
	UpdateState(ctx context.Context, id int64, state model.ChargeState, eventType string) error
}

// PurchaseRepository defines methods for purchase data access.
type PurchaseRepository interface {
	MarkFailed(ctx context.Context, id int64, code model.PurchaseErrorCode, message string) error
}

// MerchantAccountRepository defines methods for merchant account data access.
type MerchantAccountRepository interface {
	// FindByMerchantID returns the alive account with the processor-side id, or the newest deleted one.
	FindByMerchantID(ctx context.Context, processor model.Processor, merchantID string) (*model.MerchantAccount, error)
	// FindAliveByMerchantIDForUpdate locks the alive account with the processor-side id.
	FindAliveByMerchantIDForUpdate(ctx context.Context, processor model.Processor, merchantID string) (*model.MerchantAccount, error)
	// FindAliveByUserForUpdate locks every alive account of the user in id order.
	FindAliveByUserForUpdate(ctx context.Context, userID int64, processor model.Processor) ([]*model.MerchantAccount, error)
	FindOrCreate(ctx context.Context, userID int64, processor model.Processor, merchantID string) (*model.MerchantAccount, error)
	Update(ctx context.Context, account *model.MerchantAccount) error
}

// PayoutRepository defines methods for payout data access.
type PayoutRepository interface {
	FindByExternalIDForUpdate(ctx context.Context, processor model.Processor, externalID string) (*model.PayoutRecord, error)
	Update(ctx context.Context, payout *model.PayoutRecord) error
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
