package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/settle/internal/idempotency"
	"github.com/example/settle/internal/middleware"
	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/services"
)

// PaymentHandler exposes the payment lifecycle.
type PaymentHandler struct {
	payments *services.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type initializeRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method"`
	CustomerEmail  string          `json:"customer_email"`
	CustomerName   string          `json:"customer_name"`
	Metadata       map[string]any  `json:"metadata"`
	IdempotencyKey string          `json:"idempotency_key"`
	AppID          *uuid.UUID      `json:"app_id"`
	AppUserID      *uuid.UUID      `json:"app_user_id"`
}

type processCardRequest struct {
	Reference string `json:"reference"`
	services.CardFields
}

type processMobileMoneyRequest struct {
	Reference string `json:"reference"`
	Phone     string `json:"phone"`
	Provider  string `json:"provider"`
}

func currentMerchant(c *fiber.Ctx) (*models.Merchant, error) {
	merchant, ok := middleware.GetCurrentMerchant(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return merchant, nil
}

// Initialize creates a payment.
func (h *PaymentHandler) Initialize(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	var req initializeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.Get(idempotency.HeaderKey)
	}

	payment, err := h.payments.Initialize(c.UserContext(), merchant, services.InitializeInput{
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentMethod:  req.PaymentMethod,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
		AppID:          req.AppID,
		AppUserID:      req.AppUserID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"payment": payment})
}

// ProcessCard queues card authorization and answers 202 with the pending
// payment.
func (h *PaymentHandler) ProcessCard(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	var req processCardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Reference == "" {
		return fiber.NewError(fiber.StatusBadRequest, "reference is required")
	}

	payment, err := h.payments.SubmitCard(c.UserContext(), merchant, req.Reference, req.CardFields)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"payment": payment,
		"message": "Payment is being processed",
	})
}

// ProcessMobileMoney queues a mobile money collection.
func (h *PaymentHandler) ProcessMobileMoney(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	var req processMobileMoneyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Reference == "" {
		return fiber.NewError(fiber.StatusBadRequest, "reference is required")
	}

	payment, err := h.payments.SubmitMobileMoney(c.UserContext(), merchant, req.Reference, req.Phone, req.Provider)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"payment": payment,
		"message": "Authorize the payment on your phone",
	})
}

// Get returns the payment, checking the provider first when it is still
// awaiting a mobile money outcome.
func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	payment, err := h.payments.Verify(c.UserContext(), merchant, c.Params("reference"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"payment": payment})
}
