package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/example/settle/internal/services"
)

// abort writes the API error envelope and stops the chain.
func abort(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

func abortWith(c *fiber.Ctx, err error, fallbackStatus int, fallbackCode string) error {
	var se *services.ServiceError
	if errors.As(err, &se) {
		return abort(c, se.Info.Status, se.Code(), se.Message())
	}
	return abort(c, fallbackStatus, fallbackCode, "Request could not be authenticated")
}
