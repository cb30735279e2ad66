// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/settle/internal/database"
	"github.com/example/settle/internal/models"
)

// NewDB opens a migrated sqlite database in a temp dir. A single connection
// keeps sqlite writers serialized the way row locks do on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "settle.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateMerchant inserts an active merchant with the given legacy webhook URL.
func CreateMerchant(t *testing.T, db *gorm.DB, webhookURL string) *models.Merchant {
	t.Helper()

	m := &models.Merchant{
		Name:          "Test Merchant",
		Email:         "merchant-" + uuid.NewString() + "@example.com",
		BusinessName:  "Test Co",
		Status:        models.MerchantStatusActive,
		WebhookURL:    webhookURL,
		WebhookSecret: "whsec_test",
		Balance:       decimal.Zero,
		Currency:      "USD",
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("create merchant: %v", err)
	}
	return m
}

// Dec parses a decimal literal or fails the test.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}
