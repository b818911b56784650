package services

import (
	"context"
	"log/slog"
	"time"

	"dinepay/internal/models"
)

// PollOptions bound a status wait. The wait lasts at most
// MaxAttempts × Interval.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPollOptions waits up to three minutes.
var DefaultPollOptions = PollOptions{MaxAttempts: 60, Interval: 3 * time.Second}

// OrderPoller reads the current state of an order for polling.
type OrderPoller interface {
	PollOrder(ctx context.Context, id string) (*models.Order, error)
}

// PaymentPoller waits for an order to reach a terminal payment status.
type PaymentPoller struct {
	orders OrderPoller
}

// NewPaymentPoller creates a new PaymentPoller.
func NewPaymentPoller(orders OrderPoller) *PaymentPoller {
	return &PaymentPoller{orders: orders}
}

// PollPaymentStatus re-reads the order every opts.Interval until its payment
// status is terminal. It returns true only for paid. Reads are sequential: the
// next wait starts after the previous read returns. Read errors and missing
// orders count as attempts and polling goes on. A cancelled ctx stops the wait
// and returns ctx.Err().
func (p *PaymentPoller) PollPaymentStatus(ctx context.Context, orderID string, opts PollOptions) (bool, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultPollOptions.MaxAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollOptions.Interval
	}

	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}

		order, err := p.orders.PollOrder(ctx, orderID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			slog.Warn("polling attempt failed", "order_id", orderID, "attempt", attempt, "error", err)
		case order.PaymentStatus == models.PaymentStatusPaid:
			slog.Info("payment confirmed", "order_id", orderID, "attempt", attempt)
			return true, nil
		case order.PaymentStatus == models.PaymentStatusFailed:
			slog.Info("payment failed", "order_id", orderID, "attempt", attempt)
			return false, nil
		}

		timer.Reset(opts.Interval)
	}

	slog.Info("payment wait timed out", "order_id", orderID, "attempts", opts.MaxAttempts)
	return false, nil
}
