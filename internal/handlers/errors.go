package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/settle/internal/services"
)

// ErrorHandler renders every error as {"error": {"code", "message"}}.
// Unknown errors are logged and reported as internal_error without their
// text.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var se *services.ServiceError
		if errors.As(err, &se) {
			if se.Info.Status >= fiber.StatusInternalServerError {
				logger.Warn("request failed", zap.String("path", c.Path()), zap.Error(err))
			}
			return writeError(c, se.Info.Status, se.Code(), se.Message())
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return writeError(c, fe.Code, codeForStatus(fe.Code), fe.Message)
		}

		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusUnprocessableEntity:
		return "validation_error"
	}
	if status >= fiber.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}
