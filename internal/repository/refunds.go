package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/settle/internal/models"
)

type refundRepo struct {
	db *gorm.DB
}

func (r *refundRepo) Create(ctx context.Context, refund *models.Refund) error {
	err := translate(r.db.WithContext(ctx).Omit("Payment").Create(refund).Error)
	if errors.Is(err, ErrDuplicateKey) && refund.IdempotencyKey != nil {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func (r *refundRepo) FindByReference(ctx context.Context, reference string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).
		Preload("Payment").
		Where("reference = ?", reference).
		First(&refund).Error; err != nil {
		return nil, translate(err)
	}
	return &refund, nil
}

func (r *refundRepo) ListByPayment(ctx context.Context, paymentID uuid.UUID, status models.RefundStatus) ([]models.Refund, error) {
	var refunds []models.Refund
	query := r.db.WithContext(ctx).Where("payment_id = ?", paymentID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	if err := query.Order("created_at asc").Find(&refunds).Error; err != nil {
		return nil, translate(err)
	}
	return refunds, nil
}
