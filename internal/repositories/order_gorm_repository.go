package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dinepay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// Migrate creates or updates the orders table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Order{}); err != nil {
		return fmt.Errorf("failed to migrate orders: %w", err)
	}
	return nil
}

// Create inserts a new order.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.OrderNumber == "" {
		return invalid("create", errors.New("order number is required"))
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return classify("create", order.ID, err)
	}
	return nil
}

// GetByID retrieves a single order by its ID.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, classify("get", id, err)
	}
	return &order, nil
}

// GetByOrderNumber retrieves a single order by its order number.
func (r *GORMOrderRepository) GetByOrderNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "order_number = ?", number).Error; err != nil {
		return nil, classify("get by number", number, err)
	}
	return &order, nil
}

// ListByUser retrieves the user's orders, newest first.
func (r *GORMOrderRepository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, classify("list", userID, err)
	}
	return orders, nil
}

// Update applies a partial update to an order.
func (r *GORMOrderRepository) Update(ctx context.Context, id string, update models.OrderUpdate) error {
	if update.Empty() {
		return invalid("update", errors.New("no fields to update"))
	}

	fields := map[string]interface{}{"updated_at": time.Now()}
	if update.PaymentStatus != nil {
		fields["payment_status"] = *update.PaymentStatus
	}
	if update.OrderStatus != nil {
		fields["order_status"] = *update.OrderStatus
	}
	if update.TransactionHash != nil {
		fields["transaction_hash"] = *update.TransactionHash
	}
	if update.PaidAt != nil {
		fields["paid_at"] = *update.PaidAt
	}

	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return classify("update", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Updates does not report ErrRecordNotFound for a missing row.
		return notFound("update", id)
	}
	return nil
}

func classify(op, key string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(op, key)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &StoreError{Op: op, Code: 409, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return unavailable(op, err)
	}
}
