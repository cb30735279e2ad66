package handlers

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/settle/internal/services"
)

const HeaderLencoSignature = "X-Lenco-Signature"

// ProviderWebhookHandler receives collection callbacks from Lenco.
type ProviderWebhookHandler struct {
	payments *services.PaymentService
	secret   string
	logger   *zap.Logger
}

// NewProviderWebhookHandler constructs ProviderWebhookHandler. With an
// empty secret callbacks are accepted unsigned.
func NewProviderWebhookHandler(payments *services.PaymentService, secret string, logger *zap.Logger) *ProviderWebhookHandler {
	return &ProviderWebhookHandler{payments: payments, secret: secret, logger: logger.Named("lenco-callback")}
}

// Lenco answers 200 for anything it does not act on so the provider stops
// redelivering; only internal failures return 500.
func (h *ProviderWebhookHandler) Lenco(c *fiber.Ctx) error {
	body := c.Body()
	if h.secret != "" && !validLencoSignature(h.secret, body, c.Get(HeaderLencoSignature)) {
		h.logger.Warn("rejected callback with bad signature", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "error", "message": "Invalid signature"})
	}

	var cb services.ProviderCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return c.JSON(services.CallbackResult{Status: "ignored", Message: "Malformed payload"})
	}
	h.logger.Info("provider callback received", zap.String("event", cb.Event))

	result, err := h.payments.HandleProviderCallback(c.UserContext(), cb)
	if err != nil {
		h.logger.Error("provider callback failed", zap.String("event", cb.Event), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error"})
	}
	return c.JSON(result)
}

func validLencoSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
