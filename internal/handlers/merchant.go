package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/settle/internal/repository"
	"github.com/example/settle/internal/services"
	"github.com/example/settle/internal/utils"
)

// MerchantHandler serves the merchant's balance, ledger and webhook
// settings.
type MerchantHandler struct {
	store       repository.Store
	notifier    *services.WebhookNotifier
	withdrawals *services.WithdrawalService
	logger      *zap.Logger
}

// NewMerchantHandler constructs MerchantHandler.
func NewMerchantHandler(store repository.Store, notifier *services.WebhookNotifier, withdrawals *services.WithdrawalService, logger *zap.Logger) *MerchantHandler {
	return &MerchantHandler{store: store, notifier: notifier, withdrawals: withdrawals, logger: logger.Named("merchant")}
}

// Balance returns the running balance and whether the ledger replays to
// it.
func (h *MerchantHandler) Balance(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	fresh, err := h.store.Merchants().FindByID(ctx, merchant.ID)
	if err != nil {
		return err
	}
	entries, err := h.store.Ledger().History(ctx, merchant.ID)
	if err != nil {
		return err
	}

	consistent := true
	replayed, err := repository.Replay(entries)
	if err != nil || !replayed.Equal(fresh.Balance) {
		consistent = false
		h.logger.Error("ledger does not replay to balance",
			zap.String("merchant_id", merchant.ID.String()),
			zap.String("balance", fresh.Balance.StringFixed(2)),
			zap.String("replayed", replayed.StringFixed(2)),
			zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"balance":           fresh.Balance,
		"currency":          fresh.Currency,
		"entries":           len(entries),
		"ledger_consistent": consistent,
	})
}

type withdrawRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	AccountDetails string          `json:"account_details"`
}

// Withdraw debits the balance and returns the ledger entry with the new
// balance.
func (h *MerchantHandler) Withdraw(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.withdrawals.Withdraw(c.UserContext(), merchant, services.WithdrawalInput{
		Amount:         req.Amount,
		AccountDetails: req.AccountDetails,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":     "Withdrawal request received",
		"transaction": entry,
		"new_balance": entry.BalanceAfter,
	})
}

// Transactions lists ledger entries, newest first.
func (h *MerchantHandler) Transactions(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}
	page := utils.ParsePagination(c)

	entries, total, err := h.store.Ledger().ListByMerchant(c.UserContext(), merchant.ID, page.Repository())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries, "meta": page.Meta(total)})
}

// WebhookLogs lists delivery attempts, newest first.
func (h *MerchantHandler) WebhookLogs(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}
	page := utils.ParsePagination(c)

	logs, total, err := h.notifier.Logs(c.UserContext(), merchant, page.Repository())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": logs, "meta": page.Meta(total)})
}

type webhookSettingsRequest struct {
	WebhookURL       *string `json:"webhook_url"`
	RegenerateSecret bool    `json:"regenerate_secret"`
}

// UpdateWebhookSettings changes the legacy webhook URL and optionally
// rotates the signing secret, which is shown only in this response.
func (h *MerchantHandler) UpdateWebhookSettings(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	var req webhookSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updated, secret, err := h.notifier.UpdateSettings(c.UserContext(), merchant, services.WebhookSettingsInput{
		URL:              req.WebhookURL,
		RegenerateSecret: req.RegenerateSecret,
	})
	if err != nil {
		return err
	}

	resp := fiber.Map{"webhook_url": updated.WebhookURL}
	if secret != "" {
		resp["webhook_secret"] = secret
	}
	return c.JSON(resp)
}
