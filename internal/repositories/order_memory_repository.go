package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"dinepay/internal/models"

	"github.com/google/uuid"
)

// MemoryOrderRepository is an in-memory implementation of OrderRepository.
type MemoryOrderRepository struct {
	orders   map[string]models.Order
	byNumber map[string]string
	mu       sync.RWMutex
}

// NewMemoryOrderRepository creates a new instance of MemoryOrderRepository.
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:   make(map[string]models.Order),
		byNumber: make(map[string]string),
	}
}

// Create adds a new order and assigns its ID and timestamps.
func (r *MemoryOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.OrderNumber == "" {
		return invalid("create", errors.New("order number is required"))
	}
	if _, taken := r.byNumber[order.OrderNumber]; taken {
		return &StoreError{Op: "create", Code: 409, Err: errors.New("order number already exists")}
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.orders[order.ID] = cloneOrder(*order)
	r.byNumber[order.OrderNumber] = order.ID
	return nil
}

// GetByID returns an order by its ID.
func (r *MemoryOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, notFound("get", id)
	}
	out := cloneOrder(order)
	return &out, nil
}

// GetByOrderNumber returns an order by its human-facing number.
func (r *MemoryOrderRepository) GetByOrderNumber(_ context.Context, number string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return nil, notFound("get by number", number)
	}
	out := cloneOrder(r.orders[id])
	return &out, nil
}

// ListByUser returns the user's orders, newest first.
func (r *MemoryOrderRepository) ListByUser(_ context.Context, userID string) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]models.Order, 0)
	for _, order := range r.orders {
		if order.UserID == userID {
			orders = append(orders, cloneOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// Update applies a partial update to an order.
func (r *MemoryOrderRepository) Update(_ context.Context, id string, update models.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return notFound("update", id)
	}
	if update.PaymentStatus != nil {
		order.PaymentStatus = *update.PaymentStatus
	}
	if update.OrderStatus != nil {
		order.OrderStatus = *update.OrderStatus
	}
	if update.TransactionHash != nil {
		order.TransactionHash = *update.TransactionHash
	}
	if update.PaidAt != nil {
		paidAt := *update.PaidAt
		order.PaidAt = &paidAt
	}
	order.UpdatedAt = time.Now()
	r.orders[id] = order
	return nil
}

func cloneOrder(o models.Order) models.Order {
	if o.Items != nil {
		items := make([]models.OrderItem, len(o.Items))
		copy(items, o.Items)
		o.Items = items
	}
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		o.PaidAt = &paidAt
	}
	return o
}
