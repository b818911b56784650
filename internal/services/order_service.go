package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dinepay/internal/models"
)

// ErrOrderAccess is returned when a customer asks for another customer's order.
var ErrOrderAccess = errors.New("order belongs to another user")

// SettlementReader reads the ledger's record of a card payment.
type SettlementReader interface {
	GetTransaction(ctx context.Context, orderNumber string) (*models.SettlementRecord, error)
}

// OrderService handles the order queries and operational updates exposed
// over HTTP.
type OrderService struct {
	orders      *OrderGateway
	settlements SettlementReader
	events      EventPublisher
}

// NewOrderService creates a new OrderService. settlements and events may be nil.
func NewOrderService(orders *OrderGateway, settlements SettlementReader, events EventPublisher) *OrderService {
	return &OrderService{
		orders:      orders,
		settlements: settlements,
		events:      events,
	}
}

// ListUserOrders returns the orders of userID, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.orders.ListUserOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for user %s: %w", userID, err)
	}
	return orders, nil
}

// GetUserOrder returns an order if it belongs to userID.
func (s *OrderService) GetUserOrder(ctx context.Context, userID, id string) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderAccess
	}
	return order, nil
}

// GetSettlement returns the ledger record of a paid CARD order.
func (s *OrderService) GetSettlement(ctx context.Context, userID, id string) (*models.SettlementRecord, error) {
	order, err := s.GetUserOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentMethodCard {
		return nil, &ValidationError{Field: "payment_method", Message: fmt.Sprintf("order %s was not paid on the ledger", order.OrderNumber)}
	}
	if s.settlements == nil {
		return nil, errors.New("ledger is not configured")
	}
	return s.settlements.GetTransaction(ctx, order.OrderNumber)
}

// UpdateOrderStatus changes the operational status of an order.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	if err := s.orders.UpdateOrderStatus(ctx, id, status); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrderByID(ctx, id)
	if err != nil {
		slog.Warn("order status updated but could not be re-read", "order_id", id, "error", err)
		return nil, err
	}
	publishOrderEvent(s.events, EventOrderStatusUpdated, newOrderEvent(order))
	return order, nil
}
