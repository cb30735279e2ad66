package services

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider collection statuses.
const (
	SettlementSuccessful = "successful"
	SettlementFailed     = "failed"
	SettlementPending    = "pending"
)

type SettlementRequest struct {
	Amount    decimal.Decimal
	Currency  string
	Phone     string
	Operator  string
	Reference string
	Email     string
}

type SettlementInitiation struct {
	ProviderID string
	Status     string
}

// SettlementStatus is what the provider reports for a collection, either
// from polling or from its callback.
type SettlementStatus struct {
	Status           string
	ReasonForFailure string
	ProviderID       string
	Raw              map[string]any
}

// SettlementAdapter initiates and verifies mobile-money collections. Any
// returned error is treated as a settlement failure.
type SettlementAdapter interface {
	Initiate(ctx context.Context, req SettlementRequest) (*SettlementInitiation, error)
	Verify(ctx context.Context, reference string) (*SettlementStatus, error)
}
