package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dinepay/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// finishedSessionTTL is how long a terminal session stays queryable.
const finishedSessionTTL = 30 * time.Minute

// CheckoutSnapshot is a point-in-time view of a checkout session.
type CheckoutSnapshot struct {
	ID              string               `json:"id"`
	UserID          string               `json:"-"`
	State           models.CheckoutState `json:"state"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
	OrderID         string               `json:"order_id,omitempty"`
	OrderNumber     string               `json:"order_number,omitempty"`
	Total           decimal.Decimal      `json:"total"`
	QR              *models.BankQR       `json:"qr,omitempty"`
	TransactionHash string               `json:"transaction_hash,omitempty"`
	BlockNumber     uint64               `json:"block_number,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// CheckoutSession tracks one checkout submission from order creation to a
// terminal state.
type CheckoutSession struct {
	mu         sync.Mutex
	snap       CheckoutSnapshot
	finishedAt time.Time
	done       chan struct{}
	cancel     context.CancelFunc
}

func newCheckoutSession(userID string, method models.PaymentMethod) *CheckoutSession {
	return &CheckoutSession{
		snap: CheckoutSnapshot{
			ID:            uuid.New().String(),
			UserID:        userID,
			State:         models.CheckoutIdle,
			PaymentMethod: method,
		},
		done: make(chan struct{}),
	}
}

// ID returns the session id.
func (s *CheckoutSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ID
}

// Snapshot returns a copy of the session state.
func (s *CheckoutSession) Snapshot() CheckoutSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Done is closed when the session reaches a terminal state.
func (s *CheckoutSession) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is terminal or ctx is done.
func (s *CheckoutSession) Wait(ctx context.Context) (CheckoutSnapshot, error) {
	select {
	case <-s.done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

func (s *CheckoutSession) update(fn func(*CheckoutSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State.Terminal() {
		return
	}
	fn(&s.snap)
}

// finish moves the session to a terminal state. Only the first call wins.
func (s *CheckoutSession) finish(state models.CheckoutState, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State.Terminal() {
		return false
	}
	s.snap.State = state
	s.snap.Error = errMsg
	s.finishedAt = time.Now()
	if s.cancel != nil {
		s.cancel()
	}
	close(s.done)
	return true
}

func (s *CheckoutSession) succeed() bool {
	return s.finish(models.CheckoutSucceeded, "")
}

func (s *CheckoutSession) fail(msg string) bool {
	return s.finish(models.CheckoutFailed, msg)
}

func (s *CheckoutSession) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State.Terminal() && now.Sub(s.finishedAt) > finishedSessionTTL
}

// CheckoutService creates orders and drives them through the settlement
// path of the chosen payment method.
type CheckoutService struct {
	validate *validator.Validate
	orders   *OrderGateway
	settler  Settler
	qr       *QRPaymentGenerator
	poller   *PaymentPoller
	pollOpts PollOptions
	events   EventPublisher

	mu       sync.Mutex
	sessions map[string]*CheckoutSession
	waits    sync.WaitGroup
}

// NewCheckoutService creates a new CheckoutService. events may be nil.
func NewCheckoutService(orders *OrderGateway, settler Settler, qr *QRPaymentGenerator, pollOpts PollOptions, events EventPublisher) *CheckoutService {
	return &CheckoutService{
		validate: validator.New(),
		orders:   orders,
		settler:  settler,
		qr:       qr,
		poller:   NewPaymentPoller(orders),
		pollOpts: pollOpts,
		events:   events,
		sessions: make(map[string]*CheckoutSession),
	}
}

// Submit validates the request, creates a pending order and starts its
// settlement. Validation errors and store failures are returned as errors
// and leave no session behind. Settlement failures are reported in the
// returned session. COD and CARD sessions are terminal on return; a QR session
// keeps waiting for the transfer in the background.
func (s *CheckoutService) Submit(ctx context.Context, userID string, req models.CheckoutRequest) (*CheckoutSession, error) {
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	order, err := s.orders.CreateOrder(ctx, userID, CreateOrderParams{
		Items:           req.Items,
		Total:           req.Total,
		PaymentMethod:   req.PaymentMethod,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		slog.Error("checkout: order creation failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPlaceOrder, err)
	}
	publishOrderEvent(s.events, EventOrderCreated, newOrderEvent(order))

	session := newCheckoutSession(userID, req.PaymentMethod)
	session.update(func(snap *CheckoutSnapshot) {
		snap.State = models.CheckoutOrderCreated
		snap.OrderID = order.ID
		snap.OrderNumber = order.OrderNumber
		snap.Total = order.Total
	})
	s.register(session)

	switch req.PaymentMethod {
	case models.PaymentMethodCOD:
		session.succeed()
	case models.PaymentMethodCard:
		s.settleCard(ctx, session, order, *req.Card)
	case models.PaymentMethodQR:
		s.startTransferWait(session, order)
	}

	snap := session.Snapshot()
	slog.Info("checkout submitted", "session_id", snap.ID, "order_number", snap.OrderNumber, "method", snap.PaymentMethod, "state", snap.State)
	return session, nil
}

func (s *CheckoutService) validateRequest(req *models.CheckoutRequest) error {
	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)

	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Message: "cart is empty"}
	}
	if req.DeliveryAddress == "" {
		return &ValidationError{Field: "delivery_address", Message: "delivery address is required"}
	}
	if !req.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unsupported payment method: %q", req.PaymentMethod)}
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := strings.TrimPrefix(verrs[0].Namespace(), "CheckoutRequest.")
			return &ValidationError{Field: field, Message: fmt.Sprintf("invalid %s: failed %q check", field, verrs[0].Tag())}
		}
		return &ValidationError{Field: "request", Message: err.Error()}
	}

	if req.Total.IsZero() {
		req.Total = (&models.Order{Items: req.Items}).ItemsTotal()
	}
	if !req.Total.IsPositive() {
		return &ValidationError{Field: "total", Message: "total must be positive"}
	}
	if !req.Total.Equal(req.Total.Truncate(0)) {
		return &ValidationError{Field: "total", Message: "total must be a whole VND amount"}
	}

	if req.PaymentMethod == models.PaymentMethodCard {
		if req.Card == nil {
			return &ValidationError{Field: "card", Message: "card information is required"}
		}
		if err := ValidateCard(*req.Card); err != nil {
			return &ValidationError{Field: "card", Message: err.Error()}
		}
	}
	return nil
}

func (s *CheckoutService) settleCard(ctx context.Context, session *CheckoutSession, order *models.Order, card models.CardInfo) {
	session.update(func(snap *CheckoutSnapshot) { snap.State = models.CheckoutSettling })

	result := s.settler.ProcessPayment(ctx, order.OrderNumber, order.Total.IntPart(), card)
	if !result.Success {
		slog.Warn("card settlement failed", "order_number", order.OrderNumber, "error", result.Error)
		session.fail(result.Error)
		return
	}

	session.update(func(snap *CheckoutSnapshot) {
		snap.TransactionHash = result.TransactionHash
		snap.BlockNumber = result.BlockNumber
	})

	if err := s.orders.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid, result.TransactionHash); err != nil {
		slog.Error("settled payment could not be recorded",
			"order_id", order.ID, "order_number", order.OrderNumber, "tx", result.TransactionHash, "error", err)
		session.fail(fmt.Sprintf("payment settled (tx %s) but the order could not be updated", result.TransactionHash))
		return
	}

	order.PaymentStatus = models.PaymentStatusPaid
	order.TransactionHash = result.TransactionHash
	publishOrderEvent(s.events, EventOrderPaymentUpdated, newOrderEvent(order))
	session.succeed()
}

func (s *CheckoutService) startTransferWait(session *CheckoutSession, order *models.Order) {
	res := s.qr.CreateQRPayment(order.OrderNumber, order.Total.IntPart())
	if !res.Success {
		session.fail(res.Message)
		return
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	session.mu.Lock()
	if session.snap.State.Terminal() {
		session.mu.Unlock()
		cancel()
		return
	}
	session.snap.State = models.CheckoutSettling
	session.snap.QR = res.BIDV
	session.cancel = cancel
	session.mu.Unlock()

	s.waits.Add(1)
	go func() {
		defer s.waits.Done()
		defer cancel()
		s.awaitTransfer(waitCtx, session, order.ID)
	}()
}

func (s *CheckoutService) awaitTransfer(ctx context.Context, session *CheckoutSession, orderID string) {
	paid, err := s.poller.PollPaymentStatus(ctx, orderID, s.pollOpts)
	switch {
	case err != nil:
		session.fail(ErrCheckoutCancelled.Error())
	case paid:
		session.succeed()
	case s.paymentFailed(orderID):
		session.fail(ErrPaymentFailed.Error())
	default:
		session.fail(ErrPaymentTimeout.Error())
	}
}

// paymentFailed tells a failed payment apart from an exhausted wait.
func (s *CheckoutService) paymentFailed(orderID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	order, err := s.orders.PollOrder(ctx, orderID)
	return err == nil && order.PaymentStatus == models.PaymentStatusFailed
}

func (s *CheckoutService) register(session *CheckoutSession) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.sessions {
		if existing.expired(now) {
			delete(s.sessions, id)
		}
	}
	s.sessions[session.ID()] = session
}

// Session returns a registered session.
func (s *CheckoutService) Session(id string) (*CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Cancel abandons a pending QR wait. The order itself is left as it is.
// Cancelling a terminal session changes nothing.
func (s *CheckoutService) Cancel(id string) (CheckoutSnapshot, error) {
	session, err := s.Session(id)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	if session.fail(ErrCheckoutCancelled.Error()) {
		slog.Info("checkout cancelled", "session_id", id)
	}
	return session.Snapshot(), nil
}

// Shutdown cancels every pending QR wait and waits for them to stop.
func (s *CheckoutService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, session := range s.sessions {
		session.mu.Lock()
		cancel := session.cancel
		session.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		s.waits.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
