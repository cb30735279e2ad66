package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

const (
	PaymentInitialized PaymentStatus = "initialized"
	PaymentPending     PaymentStatus = "pending"
	PaymentSucceeded   PaymentStatus = "succeeded"
	PaymentFailed      PaymentStatus = "failed"
	PaymentRefunded    PaymentStatus = "refunded"
)

const (
	PaymentMethodCard        = "card"
	PaymentMethodMobileMoney = "mobile_money"
)

// Payment is one charge attempt. Rows are never deleted.
type Payment struct {
	BaseModel
	MerchantID     uuid.UUID         `gorm:"type:uuid;index" json:"merchant_id"`
	AppID          *uuid.UUID        `gorm:"type:uuid;index" json:"app_id,omitempty"`
	AppUserID      *uuid.UUID        `gorm:"type:uuid;index" json:"app_user_id,omitempty"`
	Reference      string            `gorm:"uniqueIndex;size:64" json:"reference"`
	Amount         decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency       string            `gorm:"size:3" json:"currency"`
	Fee            decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"fee"`
	NetAmount      decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"net_amount"`
	Status         PaymentStatus     `gorm:"index;size:16" json:"status"`
	PaymentMethod  string            `json:"payment_method"`
	CardLast4      string            `gorm:"size:4" json:"card_last4,omitempty"`
	CardBrand      string            `json:"card_brand,omitempty"`
	CardExpMonth   string            `json:"card_exp_month,omitempty"`
	CardExpYear    string            `json:"card_exp_year,omitempty"`
	CustomerEmail  string            `json:"customer_email,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	IdempotencyKey *string           `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty"`
}

// StatusIn reports whether the payment is in one of the given states.
func (p *Payment) StatusIn(states ...PaymentStatus) bool {
	for _, s := range states {
		if p.Status == s {
			return true
		}
	}
	return false
}
