package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/settle/internal/models"
)

type ledgerRepo struct {
	db *gorm.DB
}

// Append locks the merchant row, moves the running balance and inserts the
// entry that records the move. The ledger_seq guard on the balance update
// also rejects a writer that read a stale balance on databases without
// row locks.
func (r *ledgerRepo) Append(ctx context.Context, posting LedgerPosting) (*models.Transaction, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", posting.MerchantID).
		First(&merchant).Error; err != nil {
		return nil, translate(err)
	}

	before := merchant.Balance
	after := before.Add(posting.Amount)
	if posting.RequireFunds && after.IsNegative() {
		return nil, ErrInsufficientFunds
	}
	seq := merchant.LedgerSeq + 1

	res := r.db.WithContext(ctx).
		Model(&models.Merchant{}).
		Where("id = ? AND ledger_seq = ?", merchant.ID, merchant.LedgerSeq).
		Updates(map[string]any{
			"balance":    after,
			"ledger_seq": seq,
		})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, ErrLedgerConflict
	}

	entry := &models.Transaction{
		MerchantID:    posting.MerchantID,
		Sequence:      seq,
		PaymentID:     posting.PaymentID,
		RefundID:      posting.RefundID,
		Type:          posting.Type,
		Amount:        posting.Amount,
		Description:   posting.Description,
		BalanceBefore: before,
		BalanceAfter:  after,
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", translate(err))
	}
	return entry, nil
}

func (r *ledgerRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, page Page) ([]models.Transaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("merchant_id = ?", merchantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var entries []models.Transaction
	if err := query.
		Order("sequence desc").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&entries).Error; err != nil {
		return nil, 0, translate(err)
	}
	return entries, total, nil
}

func (r *ledgerRepo) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	var entries []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("sequence asc").
		Find(&entries).Error; err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

func (r *ledgerRepo) History(ctx context.Context, merchantID uuid.UUID) ([]models.Transaction, error) {
	var entries []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("sequence asc").
		Find(&entries).Error; err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

// ReplayError describes the first entry that breaks the ledger chain.
type ReplayError struct {
	Sequence int64
	Reason   string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("ledger broken at sequence %d: %s", e.Sequence, e.Reason)
}

// Replay walks entries in sequence order, checks that each one continues
// from the previous balance, and returns the reconstructed balance.
func Replay(entries []models.Transaction) (decimal.Decimal, error) {
	balance := decimal.Zero
	var prevSeq int64
	for _, e := range entries {
		if e.Sequence != prevSeq+1 {
			return balance, &ReplayError{Sequence: e.Sequence, Reason: "sequence gap"}
		}
		if !e.BalanceBefore.Equal(balance) {
			return balance, &ReplayError{Sequence: e.Sequence, Reason: "balance_before does not match previous balance_after"}
		}
		if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)) {
			return balance, &ReplayError{Sequence: e.Sequence, Reason: "balance_after != balance_before + amount"}
		}
		if e.Type == models.TransactionFailed && !e.Amount.IsZero() {
			return balance, &ReplayError{Sequence: e.Sequence, Reason: "failed entry with non-zero amount"}
		}
		balance = e.BalanceAfter
		prevSeq = e.Sequence
	}
	return balance, nil
}
