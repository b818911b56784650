package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"dinepay/internal/models"
	"dinepay/internal/repositories"
	"dinepay/internal/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSettler is a mock implementation of services.Settler
type MockSettler struct {
	mock.Mock
}

func (m *MockSettler) ProcessPayment(ctx context.Context, orderNumber string, amountVND int64, card models.CardInfo) models.PaymentResult {
	args := m.Called(ctx, orderNumber, amountVND, card)
	return args.Get(0).(models.PaymentResult)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []services.OrderEvent
}

func (p *recordingPublisher) Publish(exchange, routingKey string, body []byte) error {
	var event services.OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type checkoutFixture struct {
	repo    *repositories.MemoryOrderRepository
	settler *MockSettler
	events  *recordingPublisher
	svc     *services.CheckoutService
}

func newCheckoutFixture(t *testing.T, poll services.PollOptions) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		repo:    repositories.NewMemoryOrderRepository(),
		settler: new(MockSettler),
		events:  &recordingPublisher{},
	}
	f.svc = services.NewCheckoutService(newTestGateway(f.repo), f.settler, newQRGenerator(), poll, f.events)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, f.svc.Shutdown(ctx))
	})
	return f
}

func (f *checkoutFixture) order(t *testing.T, id string) *models.Order {
	t.Helper()
	order, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func checkoutRequest(method models.PaymentMethod) models.CheckoutRequest {
	req := models.CheckoutRequest{
		Items: []models.OrderItem{
			{MenuID: "com-tam", Name: "Com Tam", Price: decimal.NewFromInt(75000), Quantity: 2},
		},
		Total:           decimal.NewFromInt(150000),
		PaymentMethod:   method,
		DeliveryAddress: "123 Main St",
	}
	if method == models.PaymentMethodCard {
		card := validCard("4532 1111 1111 1234")
		req.Card = &card
	}
	return req
}

func waitTerminal(t *testing.T, session *services.CheckoutSession) services.CheckoutSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := session.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestCheckout_COD(t *testing.T) {
	f := newCheckoutFixture(t, fastPoll)

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCOD))
	require.NoError(t, err)

	snap := session.Snapshot()
	assert.Equal(t, models.CheckoutSucceeded, snap.State)
	assert.Empty(t, snap.Error)

	order := f.order(t, snap.OrderID)
	assert.Equal(t, models.PaymentMethodCOD, order.PaymentMethod)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, order.OrderStatus)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, "123 Main St", order.DeliveryAddress)

	assert.Equal(t, []string{services.EventOrderCreated}, f.events.routingKeys())
	f.settler.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckout_CardSuccessMarksOrderPaid(t *testing.T) {
	f := newCheckoutFixture(t, fastPoll)
	f.settler.On("ProcessPayment", mock.Anything, mock.AnythingOfType("string"), int64(150000), mock.Anything).
		Return(models.PaymentResult{Success: true, TransactionHash: "0xfeed", BlockNumber: 12}).Once()

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCard))
	require.NoError(t, err)

	snap := session.Snapshot()
	assert.Equal(t, models.CheckoutSucceeded, snap.State)
	assert.Equal(t, "0xfeed", snap.TransactionHash)
	assert.Equal(t, uint64(12), snap.BlockNumber)

	order := f.order(t, snap.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "0xfeed", order.TransactionHash)
	assert.NotNil(t, order.PaidAt)
	assert.Equal(t, models.OrderStatusPending, order.OrderStatus)

	assert.Equal(t, []string{services.EventOrderCreated, services.EventOrderPaymentUpdated}, f.events.routingKeys())
	f.settler.AssertCalled(t, "ProcessPayment", mock.Anything, snap.OrderNumber, int64(150000), mock.Anything)
}

func TestCheckout_CardInsufficientFundsLeavesOrderPending(t *testing.T) {
	f := newCheckoutFixture(t, fastPoll)
	f.settler.On("ProcessPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.PaymentResult{Success: false, Error: "Insufficient balance in wallet"}).Once()

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCard))
	require.NoError(t, err)

	snap := session.Snapshot()
	assert.Equal(t, models.CheckoutFailed, snap.State)
	assert.Equal(t, "Insufficient balance in wallet", snap.Error)
	assert.Empty(t, snap.TransactionHash)

	order := f.order(t, snap.OrderID)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Empty(t, order.TransactionHash)
}

func TestCheckout_ResubmitCreatesNewOrder(t *testing.T) {
	f := newCheckoutFixture(t, fastPoll)
	f.settler.On("ProcessPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.PaymentResult{Success: false, Error: "Insufficient balance in wallet"})

	first, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCard))
	require.NoError(t, err)
	second, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCard))
	require.NoError(t, err)

	assert.NotEqual(t, first.Snapshot().OrderID, second.Snapshot().OrderID)
	orders, err := f.repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestCheckout_QRPaid(t *testing.T) {
	f := newCheckoutFixture(t, services.PollOptions{MaxAttempts: 500, Interval: 2 * time.Millisecond})

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodQR))
	require.NoError(t, err)

	snap := session.Snapshot()
	require.Equal(t, models.CheckoutSettling, snap.State)
	require.NotNil(t, snap.QR)
	assert.Equal(t, "DH "+snap.OrderNumber, snap.QR.DisplayInfo.Note)
	assert.Equal(t, int64(150000), snap.QR.DisplayInfo.Amount)

	paid := models.PaymentStatusPaid
	require.NoError(t, f.repo.Update(context.Background(), snap.OrderID, models.OrderUpdate{PaymentStatus: &paid}))

	final := waitTerminal(t, session)
	assert.Equal(t, models.CheckoutSucceeded, final.State)
}

func TestCheckout_QRFailed(t *testing.T) {
	f := newCheckoutFixture(t, services.PollOptions{MaxAttempts: 500, Interval: 2 * time.Millisecond})

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodQR))
	require.NoError(t, err)

	failed := models.PaymentStatusFailed
	require.NoError(t, f.repo.Update(context.Background(), session.Snapshot().OrderID, models.OrderUpdate{PaymentStatus: &failed}))

	final := waitTerminal(t, session)
	assert.Equal(t, models.CheckoutFailed, final.State)
	assert.Equal(t, services.ErrPaymentFailed.Error(), final.Error)
}

func TestCheckout_QRTimeoutLeavesOrderPending(t *testing.T) {
	f := newCheckoutFixture(t, services.PollOptions{MaxAttempts: 2, Interval: time.Millisecond})

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodQR))
	require.NoError(t, err)

	final := waitTerminal(t, session)
	assert.Equal(t, models.CheckoutFailed, final.State)
	assert.Equal(t, "payment timed out", final.Error)
	assert.Equal(t, models.PaymentStatusPending, f.order(t, final.OrderID).PaymentStatus)
}

func TestCheckout_QRCancel(t *testing.T) {
	f := newCheckoutFixture(t, services.PollOptions{MaxAttempts: 5, Interval: time.Hour})

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodQR))
	require.NoError(t, err)

	snap, err := f.svc.Cancel(session.ID())
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutFailed, snap.State)
	assert.Equal(t, "payment cancelled", snap.Error)

	final := waitTerminal(t, session)
	assert.Equal(t, "payment cancelled", final.Error)
	assert.Equal(t, models.PaymentStatusPending, f.order(t, final.OrderID).PaymentStatus)

	// a second cancel is a no-op
	again, err := f.svc.Cancel(session.ID())
	require.NoError(t, err)
	assert.Equal(t, final, again)
}

func TestCheckout_QRBelowMinimumFails(t *testing.T) {
	f := newCheckoutFixture(t, fastPoll)
	req := checkoutRequest(models.PaymentMethodQR)
	req.Items = []models.OrderItem{{MenuID: "tra-da", Name: "Tra Da", Price: decimal.NewFromInt(500), Quantity: 1}}
	req.Total = decimal.NewFromInt(500)

	session, err := f.svc.Submit(context.Background(), "user-1", req)
	require.NoError(t, err)

	snap := session.Snapshot()
	assert.Equal(t, models.CheckoutFailed, snap.State)
	assert.Equal(t, "Minimum amount is 1,000 VND", snap.Error)
	assert.Nil(t, snap.QR)
}

func TestCheckout_ValidationCreatesNoOrder(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*models.CheckoutRequest)
		field string
	}{
		{"empty cart", func(r *models.CheckoutRequest) { r.Items = nil }, "items"},
		{"blank address", func(r *models.CheckoutRequest) { r.DeliveryAddress = "   " }, "delivery_address"},
		{"unknown method", func(r *models.CheckoutRequest) { r.PaymentMethod = "PAYPAL" }, "payment_method"},
		{"zero quantity", func(r *models.CheckoutRequest) { r.Items[0].Quantity = 0 }, "Items[0].Quantity"},
		{"missing card", func(r *models.CheckoutRequest) { r.Card = nil }, "card"},
		{"bad expiry", func(r *models.CheckoutRequest) { r.Card.ExpiryDate = "1225" }, "card"},
		{"negative total", func(r *models.CheckoutRequest) { r.Total = decimal.NewFromInt(-1) }, "total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t, fastPoll)
			req := checkoutRequest(models.PaymentMethodCard)
			tt.edit(&req)

			session, err := f.svc.Submit(context.Background(), "user-1", req)

			assert.Nil(t, session)
			var verr *services.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			orders, err := f.repo.ListByUser(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Empty(t, orders)
			f.settler.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCheckout_StoreFailureIsPlaceOrderError(t *testing.T) {
	repo := newFlakyRepository(10, http.StatusServiceUnavailable)
	svc := services.NewCheckoutService(newTestGateway(repo), new(MockSettler), newQRGenerator(), fastPoll, nil)

	session, err := svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCOD))

	assert.Nil(t, session)
	assert.ErrorIs(t, err, services.ErrPlaceOrder)
	assert.Equal(t, 3, repo.createCalls)
}

func TestCheckout_SessionLookup(t *testing.T) {
	f := newCheckoutFixture(t, fastPoll)

	session, err := f.svc.Submit(context.Background(), "user-1", checkoutRequest(models.PaymentMethodCOD))
	require.NoError(t, err)

	got, err := f.svc.Session(session.ID())
	require.NoError(t, err)
	assert.Equal(t, session.Snapshot(), got.Snapshot())
	assert.Equal(t, "user-1", got.Snapshot().UserID)

	_, err = f.svc.Session("missing")
	assert.True(t, errors.Is(err, services.ErrSessionNotFound))
	_, err = f.svc.Cancel("missing")
	assert.ErrorIs(t, err, services.ErrSessionNotFound)
}
