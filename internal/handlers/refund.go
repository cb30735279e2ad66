package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/settle/internal/idempotency"
	"github.com/example/settle/internal/services"
)

// RefundHandler exposes refunds.
type RefundHandler struct {
	refunds *services.RefundService
}

// NewRefundHandler constructs RefundHandler.
func NewRefundHandler(refunds *services.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

type createRefundRequest struct {
	PaymentReference string           `json:"payment_reference"`
	Amount           *decimal.Decimal `json:"amount"`
	Reason           string           `json:"reason"`
	IdempotencyKey   string           `json:"idempotency_key"`
}

// Create refunds part or all of a succeeded payment.
func (h *RefundHandler) Create(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	var req createRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.PaymentReference == "" {
		return fiber.NewError(fiber.StatusBadRequest, "payment_reference is required")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.Get(idempotency.HeaderKey)
	}

	refund, err := h.refunds.CreateRefund(c.UserContext(), merchant, services.RefundInput{
		PaymentReference: req.PaymentReference,
		Amount:           req.Amount,
		Reason:           req.Reason,
		IdempotencyKey:   key,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"refund": refund})
}

// Get returns a refund by reference.
func (h *RefundHandler) Get(c *fiber.Ctx) error {
	merchant, err := currentMerchant(c)
	if err != nil {
		return err
	}

	refund, err := h.refunds.Get(c.UserContext(), merchant, c.Params("reference"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"refund": refund})
}
