package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured log line per request, tagged with the request id
// and, once authenticated, the owner id.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		duration := time.Since(start)
		requestID := RequestIDOf(c)

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		}
		if requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if ownerID, ok := OwnerID(c); ok {
			attrs = append(attrs, slog.Int64("owner_id", ownerID))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.ErrorContext(c.UserContext(), "request completed", attrs...)
			return err
		}

		logger.InfoContext(c.UserContext(), "request completed", attrs...)
		return nil
	}
}
