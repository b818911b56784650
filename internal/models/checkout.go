package models

import "github.com/shopspring/decimal"

// CheckoutState is a step of the checkout state machine.
type CheckoutState string

const (
	CheckoutIdle         CheckoutState = "idle"
	CheckoutOrderCreated CheckoutState = "order_created"
	CheckoutSettling     CheckoutState = "settling"
	CheckoutSucceeded    CheckoutState = "succeeded"
	CheckoutFailed       CheckoutState = "failed"
)

// Terminal reports whether the checkout has finished.
func (s CheckoutState) Terminal() bool {
	return s == CheckoutSucceeded || s == CheckoutFailed
}

// CheckoutRequest is what the storefront submits when the customer places an order.
type CheckoutRequest struct {
	Items           []OrderItem     `json:"items" validate:"required,min=1,dive"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   PaymentMethod   `json:"payment_method" validate:"required,oneof=COD CARD QR"`
	DeliveryAddress string          `json:"delivery_address" validate:"required"`
	Card            *CardInfo       `json:"card,omitempty"`
}
