package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/repository"
	"github.com/example/settle/internal/utils"
)

const (
	APIKeyTest = "test"
	APIKeyLive = "live"

	apiKeyPrefixLen = 16
)

// APIKeyService issues merchant API keys and authenticates them. Only a
// bcrypt hash and a lookup prefix are stored.
type APIKeyService struct {
	store     repository.Store
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAPIKeyService(store repository.Store, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{store: store, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger.Named("apikeys")}
}

// Generate creates a key and returns its plaintext, which is never stored.
func (s *APIKeyService) Generate(ctx context.Context, merchantID uuid.UUID, keyType string) (string, *models.APIKey, error) {
	if keyType != APIKeyLive {
		keyType = APIKeyTest
	}
	random, err := utils.RandomHex(24)
	if err != nil {
		return "", nil, err
	}
	plain := "pk_" + keyType + "_" + random

	hash, err := utils.HashSecret(plain)
	if err != nil {
		return "", nil, err
	}
	key := &models.APIKey{
		MerchantID: merchantID,
		Prefix:     plain[:apiKeyPrefixLen],
		KeyHash:    hash,
		Type:       keyType,
	}
	if err := s.store.APIKeys().Create(ctx, key); err != nil {
		return "", nil, err
	}
	return plain, key, nil
}

// Authenticate resolves the merchant owning an API key.
func (s *APIKeyService) Authenticate(ctx context.Context, plain string) (*models.Merchant, error) {
	if len(plain) <= apiKeyPrefixLen {
		return nil, &ServiceError{Info: InfoUnauthorized, Detail: "Invalid API key"}
	}
	keys, err := s.store.APIKeys().FindByPrefix(ctx, plain[:apiKeyPrefixLen])
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range keys {
		k := &keys[i]
		if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
			continue
		}
		if !utils.CheckSecret(k.KeyHash, plain) {
			continue
		}
		if k.Merchant == nil || !k.Merchant.IsActive() {
			return nil, &ServiceError{Info: InfoForbidden, Detail: "Merchant account is not active"}
		}
		if err := s.store.APIKeys().Touch(ctx, k.ID, now); err != nil {
			s.logger.Warn("touch api key", zap.Error(err))
		}
		return k.Merchant, nil
	}
	return nil, &ServiceError{Info: InfoUnauthorized, Detail: "Invalid API key"}
}

// IssueToken exchanges an API key for a bearer token.
func (s *APIKeyService) IssueToken(ctx context.Context, plain string) (string, *models.Merchant, error) {
	merchant, err := s.Authenticate(ctx, plain)
	if err != nil {
		return "", nil, err
	}
	token, err := utils.GenerateToken(s.jwtSecret, merchant.ID, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	return token, merchant, nil
}

// MerchantFromToken resolves an active merchant from a bearer token.
func (s *APIKeyService) MerchantFromToken(ctx context.Context, token string) (*models.Merchant, error) {
	id, err := utils.ParseToken(s.jwtSecret, token)
	if err != nil {
		return nil, &ServiceError{Info: InfoUnauthorized, Detail: "Invalid token"}
	}
	merchant, err := s.store.Merchants().FindByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Info: InfoUnauthorized, Detail: "Invalid token"}
	}
	if !merchant.IsActive() {
		return nil, &ServiceError{Info: InfoForbidden, Detail: "Merchant account is not active"}
	}
	return merchant, nil
}

type CreateMerchantInput struct {
	Name         string
	Email        string
	BusinessName string
	WebhookURL   string
	Currency     string
}

// CreateMerchant registers a merchant with a fresh webhook secret and a
// test API key, returned in plaintext once.
func (s *APIKeyService) CreateMerchant(ctx context.Context, in CreateMerchantInput) (*models.Merchant, string, error) {
	if in.Name == "" || in.Email == "" {
		return nil, "", validationError("missing_field", "Name and email are required")
	}
	if in.WebhookURL != "" && !validWebhookURL(in.WebhookURL) {
		return nil, "", validationError("invalid_webhook_url", "Webhook URL must be an absolute http(s) URL")
	}
	secret, err := NewWebhookSecret()
	if err != nil {
		return nil, "", err
	}
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}

	merchant := &models.Merchant{
		Name:          in.Name,
		Email:         in.Email,
		BusinessName:  in.BusinessName,
		Status:        models.MerchantStatusActive,
		WebhookURL:    in.WebhookURL,
		WebhookSecret: secret,
		Currency:      currency,
	}

	var plain string
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.Merchants().Create(ctx, merchant); err != nil {
			return err
		}
		txKeys := &APIKeyService{store: tx, logger: s.logger}
		p, _, err := txKeys.Generate(ctx, merchant.ID, APIKeyTest)
		plain = p
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return merchant, plain, nil
}
