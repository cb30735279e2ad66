// Package repository persists payments, refunds, ledger entries and webhook
// records. Every read-modify-write that guards a ledger or lifecycle
// invariant is exposed as a single method so callers cannot interleave it.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/settle/internal/models"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrDuplicateKey            = errors.New("duplicate key")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrLedgerConflict          = errors.New("concurrent ledger update")
	ErrInsufficientFunds       = errors.New("insufficient funds")
)

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByReference(ctx context.Context, reference string) (*models.Payment, error)
	// LockByID reads the payment holding a row lock until the surrounding
	// Atomic call returns.
	LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	// Transition moves the payment to `to` only while its status is one of
	// `from`. It reports false when another writer got there first.
	Transition(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type RefundRepository interface {
	Create(ctx context.Context, refund *models.Refund) error
	FindByReference(ctx context.Context, reference string) (*models.Refund, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID, status models.RefundStatus) ([]models.Refund, error)
}

// LedgerPosting is a balance movement to append for a merchant.
// RequireFunds rejects a posting that would take the balance below zero.
type LedgerPosting struct {
	MerchantID   uuid.UUID
	PaymentID    uuid.UUID
	RefundID     *uuid.UUID
	Type         models.TransactionType
	Amount       decimal.Decimal
	Description  string
	RequireFunds bool
}

type LedgerRepository interface {
	// Append applies the posting to the merchant balance and records the
	// entry. It must run inside Atomic.
	Append(ctx context.Context, posting LedgerPosting) (*models.Transaction, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, page Page) ([]models.Transaction, int64, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error)
	History(ctx context.Context, merchantID uuid.UUID) ([]models.Transaction, error)
}

type MerchantRepository interface {
	Create(ctx context.Context, merchant *models.Merchant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	ListActive(ctx context.Context, merchantID uuid.UUID) ([]models.Webhook, error)
	CountByMerchant(ctx context.Context, merchantID uuid.UUID) (int64, error)
}

type WebhookLogRepository interface {
	Create(ctx context.Context, log *models.WebhookLog) error
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, page Page) ([]models.WebhookLog, int64, error)
	ListByDelivery(ctx context.Context, deliveryID string) ([]models.WebhookLog, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Store groups the repositories. Atomic runs fn against a Store bound to a
// single database transaction.
type Store interface {
	Payments() PaymentRepository
	Refunds() RefundRepository
	Ledger() LedgerRepository
	Merchants() MerchantRepository
	Webhooks() WebhookRepository
	WebhookLogs() WebhookLogRepository
	APIKeys() APIKeyRepository
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
