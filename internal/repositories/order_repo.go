package repositories

import (
	"context"

	"dinepay/internal/models"
)

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, number string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	Update(ctx context.Context, id string, update models.OrderUpdate) error
}
