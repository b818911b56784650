package handlers

import (
	"dinepay/internal/middleware"
	"dinepay/internal/models"
	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
)

// CheckoutHandler handles HTTP requests for checkout sessions.
type CheckoutHandler struct {
	service *services.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(service *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

// RegisterRoutes registers the checkout routes. router must be authenticated.
func (h *CheckoutHandler) RegisterRoutes(router fiber.Router) {
	checkoutRoutes := router.Group("/checkout")
	checkoutRoutes.Post("/", h.HandleSubmit)
	checkoutRoutes.Get("/:id", h.HandleGetSession)
	checkoutRoutes.Delete("/:id", h.HandleCancel)
}

// HandleSubmit places an order and starts its payment.
//
// The status tells the storefront what to do next: 201 when the checkout is
// complete, 202 while a bank transfer is awaited, 402 when payment failed.
func (h *CheckoutHandler) HandleSubmit(c *fiber.Ctx) error {
	var req models.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	session, err := h.service.Submit(c.UserContext(), middleware.CurrentIdentity(c).UserID, req)
	if err != nil {
		return respondError(c, "Could not complete checkout", err)
	}

	snap := session.Snapshot()
	return c.Status(checkoutStatus(snap.State)).JSON(snap)
}

// HandleGetSession returns the current state of a checkout.
func (h *CheckoutHandler) HandleGetSession(c *fiber.Ctx) error {
	session, err := h.ownSession(c)
	if err != nil {
		return respondError(c, "Could not retrieve checkout", err)
	}
	return c.JSON(session.Snapshot())
}

// HandleCancel abandons a pending bank transfer wait.
func (h *CheckoutHandler) HandleCancel(c *fiber.Ctx) error {
	session, err := h.ownSession(c)
	if err != nil {
		return respondError(c, "Could not cancel checkout", err)
	}
	snap, err := h.service.Cancel(session.ID())
	if err != nil {
		return respondError(c, "Could not cancel checkout", err)
	}
	return c.JSON(snap)
}

func (h *CheckoutHandler) ownSession(c *fiber.Ctx) (*services.CheckoutSession, error) {
	session, err := h.service.Session(c.Params("id"))
	if err != nil {
		return nil, err
	}
	if session.Snapshot().UserID != middleware.CurrentIdentity(c).UserID {
		return nil, services.ErrSessionNotFound
	}
	return session, nil
}

func checkoutStatus(state models.CheckoutState) int {
	switch state {
	case models.CheckoutSucceeded:
		return fiber.StatusCreated
	case models.CheckoutFailed:
		return fiber.StatusPaymentRequired
	default:
		return fiber.StatusAccepted
	}
}
