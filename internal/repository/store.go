package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolation = "23505"

// GormStore implements Store on gorm.
type GormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Payments() PaymentRepository       { return &paymentRepo{db: s.db} }
func (s *GormStore) Refunds() RefundRepository         { return &refundRepo{db: s.db} }
func (s *GormStore) Ledger() LedgerRepository          { return &ledgerRepo{db: s.db} }
func (s *GormStore) Merchants() MerchantRepository     { return &merchantRepo{db: s.db} }
func (s *GormStore) Webhooks() WebhookRepository       { return &webhookRepo{db: s.db} }
func (s *GormStore) WebhookLogs() WebhookLogRepository { return &webhookLogRepo{db: s.db} }
func (s *GormStore) APIKeys() APIKeyRepository         { return &apiKeyRepo{db: s.db} }

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}
