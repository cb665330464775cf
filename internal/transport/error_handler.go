package transport

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"go.uber.org/zap"
)

// StatusCode maps a handler error to its HTTP status.
func StatusCode(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrInvalidCode):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrAttemptsExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrNoProvider):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDeliveryFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if correlationID, ok := observability.CorrelationIDFromContext(c.UserContext()); ok {
			fields = append(fields, zap.String("correlationId", correlationID))
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}

		body := fiber.Map{"error": err.Error()}
		if code == fiber.StatusInternalServerError {
			body["error"] = "internal server error"
		}

		var rateErr *domain.RateLimitError
		if errors.As(err, &rateErr) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(rateErr.WaitMinutes*60))
			body["retryAfterMinutes"] = rateErr.WaitMinutes
		}

		return c.Status(code).JSON(body)
	}
}
