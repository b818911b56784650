package handlers

import (
	"fmt"

	"dinepay/internal/middleware"
	"dinepay/internal/models"
	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service *services.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService) *OrderHandler {
	return &OrderHandler{
		service: service,
	}
}

// RegisterRoutes registers the order routes. router must be authenticated.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Get("/:id/settlement", h.HandleGetSettlement)
	orderRoutes.Patch("/:id/status", middleware.StaffRequired(), h.HandleUpdateOrderStatus)
}

// HandleGetOrders lists the caller's orders, newest first.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	orders, err := h.service.ListUserOrders(c.UserContext(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		return respondError(c, "Could not retrieve orders", err)
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves one of the caller's orders.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.service.GetUserOrder(c.UserContext(), middleware.CurrentIdentity(c).UserID, c.Params("id"))
	if err != nil {
		return respondError(c, "Could not retrieve order", err)
	}
	return c.JSON(order)
}

// HandleGetSettlement returns the ledger record of a card payment.
func (h *OrderHandler) HandleGetSettlement(c *fiber.Ctx) error {
	record, err := h.service.GetSettlement(c.UserContext(), middleware.CurrentIdentity(c).UserID, c.Params("id"))
	if err != nil {
		return respondError(c, "Could not retrieve settlement", err)
	}
	return c.JSON(record)
}

// HandleUpdateOrderStatus updates the operational status of an order.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	var updateData struct {
		Status models.OrderStatus `json:"status"`
	}

	if err := c.BodyParser(&updateData); err != nil {
		return invalidBody(c, err)
	}

	if updateData.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Status is required for order status update.",
		})
	}

	order, err := h.service.UpdateOrderStatus(c.UserContext(), orderID, updateData.Status)
	if err != nil {
		return respondError(c, "Could not update order status", err)
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Order %s status updated successfully to %s", order.OrderNumber, order.OrderStatus),
		"order":   order,
	})
}
