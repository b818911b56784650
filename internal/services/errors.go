package services

import "errors"

var (
	// ErrPlaceOrder is surfaced when the order could not be stored.
	ErrPlaceOrder = errors.New("failed to place order")
	// ErrInvalidCard is returned by the wallet mapper for malformed card data.
	ErrInvalidCard = errors.New("invalid card information")
	// ErrPaymentTimeout is reported when a QR payment is not confirmed in time.
	ErrPaymentTimeout = errors.New("payment timed out")
	// ErrPaymentFailed is reported when the order's payment ends as failed.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrCheckoutCancelled is reported when the customer abandons a QR wait.
	ErrCheckoutCancelled = errors.New("payment cancelled")
	// ErrSessionNotFound is returned for unknown checkout sessions.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// ValidationError is bad input. It is never retried and its message is shown
// to the submitter as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
