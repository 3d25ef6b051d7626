package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/domain"
)

// ErrorHandler translates domain errors into HTTP responses. It is the only
// place where the error taxonomy meets status codes.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			logger.Error("unhandled request error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestIDFrom(c)),
				slog.Any("error", err),
			)
			msg = "internal server error"
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidKind), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrHolderNotFound),
		errors.Is(err, domain.ErrPlanNotFound), errors.Is(err, domain.ErrDepositNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDuplicateActiveDeposit), errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrNotMatured), errors.Is(err, domain.ErrDuplicatePeriod):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
