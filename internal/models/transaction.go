package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionCharge TransactionType = "charge"
	TransactionRefund TransactionType = "refund"
	// TransactionFee is a merchant debit outside any payment, such as a
	// withdrawal. Its PaymentID is the nil UUID.
	TransactionFee    TransactionType = "fee"
	TransactionFailed TransactionType = "failed"
)

// Transaction is an immutable ledger entry. Sequence orders the entries of
// one merchant; BalanceAfter = BalanceBefore + Amount.
type Transaction struct {
	BaseModel
	MerchantID    uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_ledger_merchant_seq" json:"merchant_id"`
	Sequence      int64           `gorm:"uniqueIndex:idx_ledger_merchant_seq" json:"sequence"`
	PaymentID     uuid.UUID       `gorm:"type:uuid;index" json:"payment_id"`
	RefundID      *uuid.UUID      `gorm:"type:uuid" json:"refund_id,omitempty"`
	Type          TransactionType `gorm:"index;size:16" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance_after"`
	Description   string          `json:"description,omitempty"`
}
