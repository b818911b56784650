package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"dinepay/internal/models"
	"dinepay/internal/repositories"
	"dinepay/internal/retry"

	"github.com/shopspring/decimal"
)

// CreateOrderParams are the caller-supplied fields of a new order.
type CreateOrderParams struct {
	Items           []models.OrderItem
	Total           decimal.Decimal
	PaymentMethod   models.PaymentMethod
	DeliveryAddress string
}

// OrderGateway wraps the order store with the retry policy.
type OrderGateway struct {
	repo        repositories.OrderRepository
	writePolicy retry.Policy
	readPolicy  retry.Policy
	pollPolicy  retry.Policy
	now         func() time.Time
}

// NewOrderGateway creates a new OrderGateway with the default retry budgets.
func NewOrderGateway(repo repositories.OrderRepository) *OrderGateway {
	return &OrderGateway{
		repo:        repo,
		writePolicy: retry.Write,
		readPolicy:  retry.Write,
		pollPolicy:  retry.Poll,
		now:         time.Now,
	}
}

// WithPolicies overrides the write and poll retry budgets.
func (g *OrderGateway) WithPolicies(write, poll retry.Policy) *OrderGateway {
	g.writePolicy = write
	g.readPolicy = write
	g.pollPolicy = poll
	return g
}

// GenerateOrderNumber returns ORD followed by the unix millis and a
// zero-padded 3-digit random suffix.
func GenerateOrderNumber() string {
	return orderNumberAt(time.Now())
}

func orderNumberAt(t time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	suffix := int64(0)
	if err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("ORD%d%03d", t.UnixMilli(), suffix)
}

// CreateOrder stores a new order. Payment and order status always start at
// pending, whatever the payment method.
func (g *OrderGateway) CreateOrder(ctx context.Context, userID string, params CreateOrderParams) (*models.Order, error) {
	return retry.Do(ctx, g.writePolicy, "create order", func(ctx context.Context) (*models.Order, error) {
		order := &models.Order{
			OrderNumber:     orderNumberAt(g.now()),
			UserID:          userID,
			Items:           params.Items,
			Total:           params.Total,
			PaymentMethod:   params.PaymentMethod,
			PaymentStatus:   models.PaymentStatusPending,
			OrderStatus:     models.OrderStatusPending,
			DeliveryAddress: params.DeliveryAddress,
		}
		if err := g.repo.Create(ctx, order); err != nil {
			return nil, err
		}
		slog.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "method", order.PaymentMethod)
		return order, nil
	})
}

// GetOrderByID reads an order with the standard retry budget.
func (g *OrderGateway) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return retry.Do(ctx, g.readPolicy, "get order", func(ctx context.Context) (*models.Order, error) {
		return g.repo.GetByID(ctx, id)
	})
}

// PollOrder reads an order with the reduced budget used while polling.
func (g *OrderGateway) PollOrder(ctx context.Context, id string) (*models.Order, error) {
	return retry.Do(ctx, g.pollPolicy, "poll order", func(ctx context.Context) (*models.Order, error) {
		return g.repo.GetByID(ctx, id)
	})
}

// GetOrderByNumber looks an order up by its order number.
func (g *OrderGateway) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return retry.Do(ctx, g.readPolicy, "get order by number", func(ctx context.Context) (*models.Order, error) {
		return g.repo.GetByOrderNumber(ctx, number)
	})
}

// ListUserOrders lists the orders placed by a user.
func (g *OrderGateway) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return retry.Do(ctx, g.readPolicy, "list orders", func(ctx context.Context) ([]models.Order, error) {
		return g.repo.ListByUser(ctx, userID)
	})
}

// UpdateOrder applies a partial update.
func (g *OrderGateway) UpdateOrder(ctx context.Context, id string, update models.OrderUpdate) error {
	_, err := retry.Do(ctx, g.writePolicy, "update order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.repo.Update(ctx, id, update)
	})
	return err
}

// UpdatePaymentStatus records a payment status and, for paid orders, the
// settlement reference and time.
func (g *OrderGateway) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus, transactionHash string) error {
	update := models.OrderUpdate{PaymentStatus: &status}
	if transactionHash != "" {
		update.TransactionHash = &transactionHash
	}
	if status == models.PaymentStatusPaid {
		paidAt := g.now().UTC()
		update.PaidAt = &paidAt
	}
	if err := g.UpdateOrder(ctx, id, update); err != nil {
		return err
	}
	slog.Info("payment status updated", "order_id", id, "status", status)
	return nil
}

// UpdateOrderStatus changes the operational status of an order. It does not
// look at or change the payment status.
func (g *OrderGateway) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	if !status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid order status: %s", status)}
	}
	return g.UpdateOrder(ctx, id, models.OrderUpdate{OrderStatus: &status})
}
