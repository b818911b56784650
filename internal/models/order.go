package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentMethod is how the customer settles an order.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "COD"
	PaymentMethodCard PaymentMethod = "CARD"
	PaymentMethodQR   PaymentMethod = "QR"
)

// Valid reports whether m is one of the supported payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodQR:
		return true
	}
	return false
}

// PaymentStatus tracks settlement of an order. It starts at pending and is
// moved at most once to paid or failed.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further automatic transition happens from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// OrderStatus is the operational (kitchen/delivery) status of an order.
// It is owned by staff tooling and never derived from PaymentStatus.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPreparing  OrderStatus = "preparing"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusDelivering, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// ItemCustomization is an add-on chosen for a cart line.
type ItemCustomization struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// OrderItem is a snapshot of a cart line taken when the order is placed.
// It does not follow later changes to the menu.
type OrderItem struct {
	MenuID         string              `json:"menu_id" validate:"required"`
	Name           string              `json:"name" validate:"required"`
	Price          decimal.Decimal     `json:"price"`
	Quantity       int                 `json:"quantity" validate:"gt=0"`
	ImageURL       string              `json:"image_url"`
	Customizations []ItemCustomization `json:"customizations,omitempty"`
}

// Subtotal returns price × quantity for the line.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order.
type Order struct {
	ID              string                         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderNumber     string                         `json:"order_number" gorm:"uniqueIndex;type:varchar(32);not null"`
	UserID          string                         `json:"user_id" gorm:"index;type:varchar(64);not null"`
	Items           datatypes.JSONSlice[OrderItem] `json:"items"`
	Total           decimal.Decimal                `json:"total" gorm:"type:numeric(18,0);not null"`
	PaymentMethod   PaymentMethod                  `json:"payment_method" gorm:"type:varchar(8);not null"`
	PaymentStatus   PaymentStatus                  `json:"payment_status" gorm:"type:varchar(16);not null;default:pending"`
	OrderStatus     OrderStatus                    `json:"order_status" gorm:"type:varchar(16);not null;default:pending"`
	DeliveryAddress string                         `json:"delivery_address" gorm:"type:text;not null"`
	TransactionHash string                         `json:"transaction_hash,omitempty" gorm:"type:varchar(80)"`
	PaidAt          *time.Time                     `json:"paid_at,omitempty"`
	CreatedAt       time.Time                      `json:"created_at"`
	UpdatedAt       time.Time                      `json:"updated_at"`
}

// ItemsTotal sums the line subtotals. Callers are expected to send a Total
// equal to this value; the store does not enforce it.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// OrderUpdate is a partial update. Nil fields are left untouched.
type OrderUpdate struct {
	PaymentStatus   *PaymentStatus
	OrderStatus     *OrderStatus
	TransactionHash *string
	PaidAt          *time.Time
}

// Empty reports whether the update carries no fields.
func (u OrderUpdate) Empty() bool {
	return u.PaymentStatus == nil && u.OrderStatus == nil && u.TransactionHash == nil && u.PaidAt == nil
}
