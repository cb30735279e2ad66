package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/settle/internal/services"
)

// AuthHandler exchanges API keys for bearer tokens.
type AuthHandler struct {
	keys *services.APIKeyService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(keys *services.APIKeyService) *AuthHandler {
	return &AuthHandler{keys: keys}
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

// Token issues a JWT for a valid API key.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.APIKey == "" {
		return fiber.NewError(fiber.StatusBadRequest, "api_key is required")
	}

	token, merchant, err := h.keys.IssueToken(c.UserContext(), req.APIKey)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token":    token,
		"merchant": merchant,
	})
}
