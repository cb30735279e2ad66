package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/settle/internal/metrics"
	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/repository"
)

var minWithdrawal = decimal.NewFromInt(1)

// WithdrawalService moves money out of a merchant balance. A withdrawal is
// recorded as a fee entry that is not tied to any payment.
type WithdrawalService struct {
	store   repository.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewWithdrawalService(store repository.Store, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{store: store, logger: logger.Named("withdrawals")}
}

func (s *WithdrawalService) WithMetrics(m *metrics.Metrics) *WithdrawalService {
	s.metrics = m
	return s
}

type WithdrawalInput struct {
	Amount         decimal.Decimal
	AccountDetails string
}

// Withdraw debits the balance under the merchant row lock and rejects any
// amount above the current balance with InsufficientFundsError.
func (s *WithdrawalService) Withdraw(ctx context.Context, merchant *models.Merchant, in WithdrawalInput) (*models.Transaction, error) {
	if !validAmount(in.Amount) || in.Amount.LessThan(minWithdrawal) {
		return nil, validationError("invalid_amount", "Amount must be at least 1.00 with at most 2 decimal places")
	}
	details := strings.TrimSpace(in.AccountDetails)
	if details == "" {
		return nil, validationError("missing_account_details", "Account details are required")
	}

	var entry *models.Transaction
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		e, err := tx.Ledger().Append(ctx, repository.LedgerPosting{
			MerchantID:   merchant.ID,
			PaymentID:    uuid.Nil,
			Type:         models.TransactionFee,
			Amount:       in.Amount.Neg(),
			Description:  "withdrawal: " + details,
			RequireFunds: true,
		})
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		s.logger.Info("withdrawal rejected",
			zap.String("merchant_id", merchant.ID.String()),
			zap.String("amount", in.Amount.StringFixed(2)),
			zap.Error(err))
		return nil, storeError(err, "merchant")
	}

	s.metrics.Withdrawal()
	s.logger.Info("withdrawal recorded",
		zap.String("merchant_id", merchant.ID.String()),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("balance_after", entry.BalanceAfter.StringFixed(2)))
	return entry, nil
}
