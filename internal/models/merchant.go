package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MerchantStatusActive    = "active"
	MerchantStatusInactive  = "inactive"
	MerchantStatusSuspended = "suspended"
)

// Merchant owns payments, a running balance and webhook settings.
type Merchant struct {
	BaseModel
	Name          string          `json:"name"`
	Email         string          `gorm:"uniqueIndex" json:"email"`
	BusinessName  string          `json:"business_name"`
	Status        string          `gorm:"index;default:active" json:"status"`
	WebhookURL    string          `json:"webhook_url"`
	WebhookSecret string          `json:"-"`
	Balance       decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"balance"`
	LedgerSeq     int64           `gorm:"not null;default:0" json:"-"`
	Currency      string          `gorm:"size:3;default:USD" json:"currency"`
}

// IsActive reports whether the merchant may use the API.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// APIKey is a bcrypt-hashed merchant credential. Prefix is stored in clear
// so a presented key can be matched without hashing against every row.
type APIKey struct {
	BaseModel
	MerchantID uuid.UUID  `gorm:"type:uuid;index" json:"merchant_id"`
	Merchant   *Merchant  `json:"-"`
	Prefix     string     `gorm:"index" json:"prefix"`
	KeyHash    string     `json:"-"`
	Type       string     `json:"type"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// App groups payments created on behalf of one merchant application.
type App struct {
	BaseModel
	MerchantID uuid.UUID `gorm:"type:uuid;index" json:"merchant_id"`
	Name       string    `json:"name"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
}

// AppUser is an end user of a merchant App.
type AppUser struct {
	BaseModel
	AppID      uuid.UUID `gorm:"type:uuid;index" json:"app_id"`
	ExternalID string    `gorm:"index" json:"external_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
}
