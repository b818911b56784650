package handlers

import (
	"log/slog"

	"dinepay/internal/middleware"
	"dinepay/internal/models"
	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
)

// WebhookHandler receives bank transfer notifications.
type WebhookHandler struct {
	auth *services.AuthService
	sink services.TransferSink
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(auth *services.AuthService, sink services.TransferSink) *WebhookHandler {
	return &WebhookHandler{auth: auth, sink: sink}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(router fiber.Router) {
	webhookRoutes := router.Group("/webhooks", middleware.APIKeyRequired(h.auth))
	webhookRoutes.Post("/sepay", h.HandleSepay)
}

// HandleSepay accepts a transfer notification. The gateway retries anything
// but a 2xx with success=true, so unmatched transfers are acknowledged too.
func (h *WebhookHandler) HandleSepay(c *fiber.Ctx) error {
	var transfer models.BankTransfer
	if err := c.BodyParser(&transfer); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if err := h.sink.Accept(c.UserContext(), transfer); err != nil {
		slog.Error("could not accept bank transfer", "transfer_id", transfer.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Transfer could not be processed",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
