package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Refund returns part or all of a succeeded payment to the customer.
type Refund struct {
	BaseModel
	PaymentID      uuid.UUID       `gorm:"type:uuid;index" json:"payment_id"`
	Payment        *Payment        `json:"payment,omitempty"`
	MerchantID     uuid.UUID       `gorm:"type:uuid;index" json:"merchant_id"`
	Reference      string          `gorm:"uniqueIndex;size:64" json:"reference"`
	Amount         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	FeeRefund      decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"fee_refund"`
	NetRefund      decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"net_refund"`
	Status         RefundStatus    `gorm:"index;size:16" json:"status"`
	Reason         string          `json:"reason,omitempty"`
	IdempotencyKey *string         `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
}
