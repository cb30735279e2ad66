package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/settle/internal/metrics"
	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/repository"
)

// RefundService applies refunds as ledger operations; no provider is called.
type RefundService struct {
	store   repository.Store
	events  EventDispatcher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRefundService(store repository.Store, events EventDispatcher, logger *zap.Logger) *RefundService {
	return &RefundService{store: store, events: events, logger: logger.Named("refunds")}
}

func (s *RefundService) WithMetrics(m *metrics.Metrics) *RefundService {
	s.metrics = m
	return s
}

type RefundInput struct {
	PaymentReference string
	// Amount defaults to the remaining refundable amount.
	Amount         *decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// CreateRefund refunds part or all of a succeeded payment. The payment row
// stays locked for the whole unit so concurrent refunds cannot exceed the
// payment amount.
func (s *RefundService) CreateRefund(ctx context.Context, merchant *models.Merchant, in RefundInput) (*models.Refund, error) {
	if in.Amount != nil && !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, validationError("invalid_amount", "Amount must have at most 2 decimal places")
	}

	payment, err := s.store.Payments().FindByReference(ctx, in.PaymentReference)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	if payment.MerchantID != merchant.ID {
		return nil, notFound("payment not found")
	}

	var refund *models.Refund
	fully := false
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		p, err := tx.Payments().LockByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		switch p.Status {
		case models.PaymentSucceeded:
		default:
			return &ServiceError{Info: InfoInvalidState, Detail: fmt.Sprintf("Payment is %s; only succeeded payments can be refunded", p.Status)}
		}

		prior, err := tx.Refunds().ListByPayment(ctx, p.ID, models.RefundSucceeded)
		if err != nil {
			return err
		}
		refunded, feeRefunded := decimal.Zero, decimal.Zero
		for _, r := range prior {
			refunded = refunded.Add(r.Amount)
			feeRefunded = feeRefunded.Add(r.FeeRefund)
		}
		if refunded.GreaterThanOrEqual(p.Amount) {
			return &ServiceError{Info: InfoFullyRefunded}
		}

		remaining := p.Amount.Sub(refunded)
		amount := remaining
		if in.Amount != nil {
			amount = *in.Amount
		}
		if !amount.IsPositive() || amount.GreaterThan(remaining) {
			return &ServiceError{
				Info:   InfoExceedsAvailable,
				Detail: fmt.Sprintf("Refund amount must be greater than 0 and at most %s", remaining.StringFixed(2)),
			}
		}

		// The refund that completes the payment takes whatever fee is left,
		// so fee refunds always sum to the payment fee.
		feeRefund := ProrateFee(amount, p.Amount, p.Fee)
		if amount.Equal(remaining) {
			feeRefund = p.Fee.Sub(feeRefunded)
		}
		net := amount.Sub(feeRefund)

		r := &models.Refund{
			PaymentID:  p.ID,
			MerchantID: p.MerchantID,
			Reference:  newReference("ref_"),
			Amount:     amount,
			FeeRefund:  feeRefund,
			NetRefund:  net,
			Status:     models.RefundSucceeded,
			Reason:     in.Reason,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			r.IdempotencyKey = &key
		}
		if err := tx.Refunds().Create(ctx, r); err != nil {
			return err
		}

		if _, err := tx.Ledger().Append(ctx, repository.LedgerPosting{
			MerchantID: p.MerchantID,
			PaymentID:  p.ID,
			RefundID:   &r.ID,
			Type:       models.TransactionRefund,
			Amount:     net.Neg(),
		}); err != nil {
			return err
		}

		if refunded.Add(amount).GreaterThanOrEqual(p.Amount) {
			if _, err := tx.Payments().Transition(ctx, p.ID,
				[]models.PaymentStatus{models.PaymentSucceeded}, models.PaymentRefunded, nil); err != nil {
				return err
			}
			p.Status = models.PaymentRefunded
			fully = true
		}
		r.Payment = p
		refund = r
		return nil
	})
	if err != nil {
		return nil, storeError(err, "payment")
	}

	s.metrics.RefundSucceeded()
	if fully {
		s.metrics.PaymentTransition(string(models.PaymentRefunded))
	}
	s.logger.Info("refund succeeded",
		zap.String("reference", refund.Reference),
		zap.String("payment", payment.Reference),
		zap.String("amount", refund.Amount.StringFixed(2)),
		zap.Bool("fully_refunded", fully))

	s.events.Dispatch(ctx, merchant, EventRefundSucceeded, refund)
	return refund, nil
}

// Get returns the merchant's refund by reference.
func (s *RefundService) Get(ctx context.Context, merchant *models.Merchant, reference string) (*models.Refund, error) {
	refund, err := s.store.Refunds().FindByReference(ctx, reference)
	if err != nil {
		return nil, storeError(err, "refund")
	}
	if refund.MerchantID != merchant.ID {
		return nil, notFound("refund not found")
	}
	return refund, nil
}
