package repositories

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrOrderNotFound is returned when no order matches the lookup.
var ErrOrderNotFound = errors.New("order not found")

// StoreError is a failure talking to the order store, tagged with an
// HTTP-like status code so callers can tell client errors from transient ones.
type StoreError struct {
	Op   string
	Code int
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("order store %s (status %d): %v", e.Op, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// StatusCode returns the status code of the failure.
func (e *StoreError) StatusCode() int { return e.Code }

// Transient reports whether retrying may help.
func (e *StoreError) Transient() bool {
	return e.Code == 0 || e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

func notFound(op, id string) error {
	return &StoreError{Op: op, Code: http.StatusNotFound, Err: fmt.Errorf("%w: %s", ErrOrderNotFound, id)}
}

func invalid(op string, err error) error {
	return &StoreError{Op: op, Code: http.StatusBadRequest, Err: err}
}

func unavailable(op string, err error) error {
	return &StoreError{Op: op, Code: http.StatusServiceUnavailable, Err: err}
}
