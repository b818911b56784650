package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dinepay/internal/models"
	"dinepay/internal/repositories"
	"dinepay/pkg/rabbitmq"

	"github.com/shopspring/decimal"
)

// ErrTransferUnmatched is returned for transfers that cannot settle any
// pending QR order. They are acknowledged and dropped.
var ErrTransferUnmatched = errors.New("transfer does not match a pending order")

// TransferReconciler marks QR orders paid from incoming bank transfers.
type TransferReconciler struct {
	orders *OrderGateway
	events EventPublisher
	// accountNumber, when set, must match the transfer's receiving account.
	accountNumber string
}

// NewTransferReconciler creates a new TransferReconciler. events may be nil.
func NewTransferReconciler(orders *OrderGateway, accountNumber string, events EventPublisher) *TransferReconciler {
	return &TransferReconciler{orders: orders, events: events, accountNumber: accountNumber}
}

func unmatched(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransferUnmatched, fmt.Sprintf(format, args...))
}

// HandleTransfer finds the order named in the transfer note and marks it
// paid when it is a pending QR order and the amount covers its total.
// A repeated notification for an order already paid by the same transfer
// returns the order without changing it.
func (r *TransferReconciler) HandleTransfer(ctx context.Context, t models.BankTransfer) (*models.Order, error) {
	if !strings.EqualFold(t.TransferType, "in") {
		return nil, unmatched("outgoing transfer %d", t.ID)
	}
	if r.accountNumber != "" && t.AccountNumber != "" && t.AccountNumber != r.accountNumber {
		return nil, unmatched("transfer %d credited account %s", t.ID, t.AccountNumber)
	}

	number, ok := ExtractOrderNumber(t.Content)
	if !ok {
		return nil, unmatched("no order number in %q", t.Content)
	}

	order, err := r.orders.GetOrderByNumber(ctx, number)
	if errors.Is(err, repositories.ErrOrderNotFound) {
		return nil, unmatched("order %s does not exist", number)
	}
	if err != nil {
		return nil, err
	}

	reference := transferReference(t)
	switch {
	case order.PaymentMethod != models.PaymentMethodQR:
		return nil, unmatched("order %s is paid by %s", number, order.PaymentMethod)
	case order.PaymentStatus == models.PaymentStatusPaid && order.TransactionHash == reference:
		slog.Info("duplicate transfer notification", "order_number", number, "reference", reference)
		return order, nil
	case order.PaymentStatus != models.PaymentStatusPending:
		return nil, unmatched("order %s is already %s", number, order.PaymentStatus)
	case decimal.NewFromInt(t.TransferAmount).LessThan(order.Total):
		slog.Warn("transfer does not cover order total",
			"order_number", number, "amount", t.TransferAmount, "total", order.Total.String())
		return nil, unmatched("transfer of %d VND is below order total %s", t.TransferAmount, order.Total.String())
	}

	if err := r.orders.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid, reference); err != nil {
		return nil, err
	}
	order.PaymentStatus = models.PaymentStatusPaid
	order.TransactionHash = reference
	publishOrderEvent(r.events, EventOrderPaymentUpdated, newOrderEvent(order))

	slog.Info("bank transfer reconciled", "order_number", number, "amount", t.TransferAmount, "reference", reference)
	return order, nil
}

// HandleMessage is the queue consumer for bank transfer notifications.
// Malformed and unmatched messages are dropped; store failures are returned
// so the message is requeued.
func (r *TransferReconciler) HandleMessage(ctx context.Context, body []byte) error {
	var t models.BankTransfer
	if err := json.Unmarshal(body, &t); err != nil {
		slog.Error("dropping malformed transfer message", "error", err)
		return nil
	}
	if _, err := r.HandleTransfer(ctx, t); err != nil {
		if errors.Is(err, ErrTransferUnmatched) {
			slog.Info("transfer not reconciled", "transfer_id", t.ID, "reason", err)
			return nil
		}
		return err
	}
	return nil
}

func transferReference(t models.BankTransfer) string {
	if t.ReferenceCode != "" {
		return t.ReferenceCode
	}
	return fmt.Sprintf("%s-%d", t.Gateway, t.ID)
}

// TransferSink accepts bank transfer notifications from the webhook.
type TransferSink interface {
	Accept(ctx context.Context, t models.BankTransfer) error
}

// InlineTransferSink reconciles transfers synchronously. Unmatched
// transfers are accepted.
type InlineTransferSink struct {
	Reconciler *TransferReconciler
}

// Accept implements TransferSink.
func (s InlineTransferSink) Accept(ctx context.Context, t models.BankTransfer) error {
	if _, err := s.Reconciler.HandleTransfer(ctx, t); err != nil && !errors.Is(err, ErrTransferUnmatched) {
		return err
	}
	return nil
}

// QueuedTransferSink hands transfers to the reconciliation queue.
type QueuedTransferSink struct {
	Publisher EventPublisher
}

// Accept implements TransferSink.
func (s QueuedTransferSink) Accept(_ context.Context, t models.BankTransfer) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer %d: %w", t.ID, err)
	}
	if err := s.Publisher.Publish("", rabbitmq.BankTransferQueue, body); err != nil {
		return fmt.Errorf("failed to queue transfer %d: %w", t.ID, err)
	}
	return nil
}
