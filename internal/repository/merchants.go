package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/settle/internal/models"
)

type merchantRepo struct {
	db *gorm.DB
}

func (r *merchantRepo) Create(ctx context.Context, merchant *models.Merchant) error {
	return translate(r.db.WithContext(ctx).Create(merchant).Error)
}

func (r *merchantRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&merchant).Error; err != nil {
		return nil, translate(err)
	}
	return &merchant, nil
}

// Update never touches balance or ledger_seq; those move only through
// LedgerRepository.Append.
func (r *merchantRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Merchant{}).
		Where("id = ?", id).
		Omit("balance", "ledger_seq").
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type webhookRepo struct {
	db *gorm.DB
}

func (r *webhookRepo) Create(ctx context.Context, webhook *models.Webhook) error {
	return translate(r.db.WithContext(ctx).Create(webhook).Error)
}

func (r *webhookRepo) ListActive(ctx context.Context, merchantID uuid.UUID) ([]models.Webhook, error) {
	var hooks []models.Webhook
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND is_active = ?", merchantID, true).
		Order("created_at asc").
		Find(&hooks).Error; err != nil {
		return nil, translate(err)
	}
	return hooks, nil
}

func (r *webhookRepo) CountByMerchant(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Webhook{}).Where("merchant_id = ?", merchantID).Count(&total).Error
	return total, translate(err)
}

type webhookLogRepo struct {
	db *gorm.DB
}

func (r *webhookLogRepo) Create(ctx context.Context, log *models.WebhookLog) error {
	return translate(r.db.WithContext(ctx).Create(log).Error)
}

func (r *webhookLogRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, page Page) ([]models.WebhookLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.WebhookLog{}).Where("merchant_id = ?", merchantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var logs []models.WebhookLog
	if err := query.
		Order("created_at desc").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&logs).Error; err != nil {
		return nil, 0, translate(err)
	}
	return logs, total, nil
}

func (r *webhookLogRepo) ListByDelivery(ctx context.Context, deliveryID string) ([]models.WebhookLog, error) {
	var logs []models.WebhookLog
	if err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("attempts asc").
		Find(&logs).Error; err != nil {
		return nil, translate(err)
	}
	return logs, nil
}

type apiKeyRepo struct {
	db *gorm.DB
}

func (r *apiKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	return translate(r.db.WithContext(ctx).Omit("Merchant").Create(key).Error)
}

func (r *apiKeyRepo) FindByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := r.db.WithContext(ctx).
		Preload("Merchant").
		Where("prefix = ?", prefix).
		Find(&keys).Error; err != nil {
		return nil, translate(err)
	}
	return keys, nil
}

func (r *apiKeyRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return translate(r.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error)
}
