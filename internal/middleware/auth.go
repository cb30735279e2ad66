package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/settle/internal/models"
)

const (
	merchantContextKey = "currentMerchant"
	HeaderAPIKey       = "X-API-KEY"
)

// MerchantAuthenticator resolves the calling merchant from a bearer token
// or an API key.
type MerchantAuthenticator interface {
	MerchantFromToken(ctx context.Context, token string) (*models.Merchant, error)
	Authenticate(ctx context.Context, apiKey string) (*models.Merchant, error)
}

// AuthMiddleware accepts a JWT bearer token or an X-API-KEY header and
// loads the authenticated merchant into context.
func AuthMiddleware(auth MerchantAuthenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var (
			merchant *models.Merchant
			err      error
		)

		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return abort(c, fiber.StatusUnauthorized, "unauthorized", "invalid authorization header")
			}
			merchant, err = auth.MerchantFromToken(c.UserContext(), strings.TrimSpace(parts[1]))
		} else if key := c.Get(HeaderAPIKey); key != "" {
			merchant, err = auth.Authenticate(c.UserContext(), key)
		} else {
			return abort(c, fiber.StatusUnauthorized, "unauthorized", "missing credentials")
		}

		if err != nil {
			return abortWith(c, err, fiber.StatusUnauthorized, "unauthorized")
		}

		c.Locals(merchantContextKey, merchant)
		return c.Next()
	}
}

// GetCurrentMerchant extracts the authenticated merchant from context.
func GetCurrentMerchant(c *fiber.Ctx) (*models.Merchant, bool) {
	merchant, ok := c.Locals(merchantContextKey).(*models.Merchant)
	return merchant, ok && merchant != nil
}
