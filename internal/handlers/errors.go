package handlers

import (
	"errors"
	"log/slog"

	"dinepay/internal/repositories"
	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
)

// respondError renders err as the JSON error body used by every handler.
func respondError(c *fiber.Ctx, fallback string, err error) error {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": verr.Message,
			"field":   verr.Field,
		})
	case errors.Is(err, repositories.ErrOrderNotFound), errors.Is(err, services.ErrOrderAccess):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Order not found",
		})
	case errors.Is(err, services.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Checkout session not found",
		})
	case errors.Is(err, services.ErrPlaceOrder):
		slog.Error("checkout failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": services.ErrPlaceOrder.Error(),
			"error":   err.Error(),
		})
	}

	status := fiber.StatusInternalServerError
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) && storeErr.Transient() {
		status = fiber.StatusServiceUnavailable
	}
	slog.Error(fallback, "path", c.Path(), "error", err)
	return c.Status(status).JSON(fiber.Map{
		"message": fallback,
		"error":   err.Error(),
	})
}

func invalidBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}
