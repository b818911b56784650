package services

import (
	"encoding/json"
	"log/slog"
	"time"

	"dinepay/internal/models"
	"dinepay/pkg/rabbitmq"

	"github.com/shopspring/decimal"
)

// Routing keys of order events.
const (
	EventOrderCreated        = "order.created"
	EventOrderPaymentUpdated = "order.payment_updated"
	EventOrderStatusUpdated  = "order.status_updated"
)

// EventPublisher sends a message to an exchange. *rabbitmq.Client satisfies it.
type EventPublisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// OrderEvent is the body of every order event.
type OrderEvent struct {
	OrderID         string               `json:"order_id"`
	OrderNumber     string               `json:"order_number"`
	UserID          string               `json:"user_id"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
	PaymentStatus   models.PaymentStatus `json:"payment_status"`
	OrderStatus     models.OrderStatus   `json:"order_status"`
	Total           decimal.Decimal      `json:"total"`
	TransactionHash string               `json:"transaction_hash,omitempty"`
	OccurredAt      time.Time            `json:"occurred_at"`
}

func newOrderEvent(order *models.Order) OrderEvent {
	return OrderEvent{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		PaymentMethod:   order.PaymentMethod,
		PaymentStatus:   order.PaymentStatus,
		OrderStatus:     order.OrderStatus,
		Total:           order.Total,
		TransactionHash: order.TransactionHash,
		OccurredAt:      time.Now().UTC(),
	}
}

// publishOrderEvent is best effort: a broker failure never fails the
// operation that produced the event.
func publishOrderEvent(pub EventPublisher, routingKey string, event OrderEvent) {
	if pub == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal order event", "event", routingKey, "order_id", event.OrderID, "error", err)
		return
	}
	if err := pub.Publish(rabbitmq.OrdersExchange, routingKey, body); err != nil {
		slog.Warn("failed to publish order event", "event", routingKey, "order_id", event.OrderID, "error", err)
		return
	}
	slog.Debug("order event published", "event", routingKey, "order_id", event.OrderID)
}
