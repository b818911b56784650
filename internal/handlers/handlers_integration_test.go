package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"dinepay/internal/handlers"
	"dinepay/internal/models"
	"dinepay/internal/repositories"
	"dinepay/internal/retry"
	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret = "test_jwt_secret"
	webhookKey    = "sepay-test-key"
)

// fakeSettler settles every card unless fail is set.
type fakeSettler struct {
	fail string
}

func (s *fakeSettler) ProcessPayment(_ context.Context, orderNumber string, amountVND int64, card models.CardInfo) models.PaymentResult {
	if s.fail != "" {
		return models.PaymentResult{Success: false, Error: s.fail}
	}
	return models.PaymentResult{Success: true, TransactionHash: "0xtx-" + orderNumber, BlockNumber: 3}
}

func (s *fakeSettler) GetTransaction(_ context.Context, orderNumber string) (*models.SettlementRecord, error) {
	return &models.SettlementRecord{
		Customer:  "0x764D59C961DEef9691AAc51f63580f821770DccB",
		AmountVND: big.NewInt(150000),
		Completed: true,
		CardLast4: "1234",
	}, nil
}

type testEnv struct {
	app      *fiber.App
	auth     *services.AuthService
	repo     *repositories.MemoryOrderRepository
	settler  *fakeSettler
	checkout *services.CheckoutService
}

// setupApp sets up a Fiber app for testing with the in-memory store and all handlers/services.
func setupApp(t *testing.T, probes map[string]handlers.Probe) *testEnv {
	t.Helper()

	hash, err := services.HashAPIKey(webhookKey)
	require.NoError(t, err)
	auth := services.NewAuthService(testJWTSecret, hash)

	repo := repositories.NewMemoryOrderRepository()
	gateway := services.NewOrderGateway(repo).WithPolicies(
		retry.Policy{Attempts: 3, Delay: time.Millisecond},
		retry.Policy{Attempts: 2, Delay: time.Millisecond},
	)
	settler := &fakeSettler{}
	qr := services.NewQRPaymentGenerator(services.BankAccount{
		BankCode: "BIDV", AccountNumber: "96247C3FS8", AccountName: "HUYNH DUC KHOI",
	}, "https://img.vietqr.io/image", 1000)

	checkout := services.NewCheckoutService(gateway, settler, qr,
		services.PollOptions{MaxAttempts: 1000, Interval: 5 * time.Millisecond}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = checkout.Shutdown(ctx)
	})

	reconciler := services.NewTransferReconciler(gateway, "96247C3FS8", nil)

	app := handlers.NewApp(handlers.Deps{
		Auth:      auth,
		Checkout:  checkout,
		Orders:    services.NewOrderService(gateway, settler, nil),
		Transfers: services.InlineTransferSink{Reconciler: reconciler},
		Probes:    probes,
	})

	return &testEnv{app: app, auth: auth, repo: repo, settler: settler, checkout: checkout}
}

// TestMain runs setup and teardown for all tests
func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := e.auth.IssueToken(userID, userID, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, authorization string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(jsonBody)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func checkoutBody(method models.PaymentMethod) map[string]interface{} {
	body := map[string]interface{}{
		"items": []map[string]interface{}{
			{"menu_id": "bun-cha", "name": "Bun Cha", "price": 75000, "quantity": 2},
		},
		"total":            150000,
		"payment_method":   method,
		"delivery_address": "123 Main St",
	}
	if method == models.PaymentMethodCard {
		body["card"] = map[string]string{
			"card_number": "4532 1111 1111 1234",
			"card_holder": "NGUYEN VAN A",
			"expiry_date": "12/25",
			"cvv":         "123",
		}
	}
	return body
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupApp(t, nil)

	status, body := env.do(t, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Authorization header format must be 'Bearer <token>'", body["message"])

	status, body = env.do(t, http.MethodPost, "/api/v1/checkout", "Bearer invalid.token.here", checkoutBody(models.PaymentMethodCOD))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid or expired token", body["message"])
}

func TestCheckoutCODAndOrderEndpoints(t *testing.T) {
	env := setupApp(t, nil)
	bearer := "Bearer " + env.token(t, "user-1", "")

	status, session := env.do(t, http.MethodPost, "/api/v1/checkout", bearer, checkoutBody(models.PaymentMethodCOD))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(models.CheckoutSucceeded), session["state"])
	orderID := session["order_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", bearer)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	var orders []models.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
	resp.Body.Close()
	require.Len(t, orders, 1)
	assert.Equal(t, models.PaymentMethodCOD, orders[0].PaymentMethod)
	assert.Equal(t, models.PaymentStatusPending, orders[0].PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, orders[0].OrderStatus)
	assert.True(t, orders[0].Total.Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, "123 Main St", orders[0].DeliveryAddress)

	status, order := env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, bearer, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, orderID, order["id"])

	other := "Bearer " + env.token(t, "user-2", "")
	status, _ = env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, other, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/checkout/"+session["id"].(string), other, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/orders/missing", bearer, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCheckoutValidation(t *testing.T) {
	env := setupApp(t, nil)
	bearer := "Bearer " + env.token(t, "user-1", "")

	body := checkoutBody(models.PaymentMethodCOD)
	body["items"] = []interface{}{}
	status, resp := env.do(t, http.MethodPost, "/api/v1/checkout", bearer, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "cart is empty", resp["message"])

	body = checkoutBody(models.PaymentMethodCOD)
	body["delivery_address"] = "  "
	status, resp = env.do(t, http.MethodPost, "/api/v1/checkout", bearer, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "delivery_address", resp["field"])

	orders, err := env.repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutCard(t *testing.T) {
	env := setupApp(t, nil)
	bearer := "Bearer " + env.token(t, "user-1", "")

	status, session := env.do(t, http.MethodPost, "/api/v1/checkout", bearer, checkoutBody(models.PaymentMethodCard))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "0xtx-"+session["order_number"].(string), session["transaction_hash"])

	status, order := env.do(t, http.MethodGet, "/api/v1/orders/"+session["order_id"].(string), bearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.PaymentStatusPaid), order["payment_status"])

	status, record := env.do(t, http.MethodGet, "/api/v1/orders/"+session["order_id"].(string)+"/settlement", bearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1234", record["card_last4"])
	assert.Equal(t, true, record["completed"])

	env.settler.fail = "Insufficient balance in wallet"
	status, session = env.do(t, http.MethodPost, "/api/v1/checkout", bearer, checkoutBody(models.PaymentMethodCard))
	require.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "Insufficient balance in wallet", session["error"])

	_, order = env.do(t, http.MethodGet, "/api/v1/orders/"+session["order_id"].(string), bearer, nil)
	assert.Equal(t, string(models.PaymentStatusPending), order["payment_status"])
}

func TestCheckoutQRSettledByWebhook(t *testing.T) {
	env := setupApp(t, nil)
	bearer := "Bearer " + env.token(t, "user-1", "")

	status, session := env.do(t, http.MethodPost, "/api/v1/checkout", bearer, checkoutBody(models.PaymentMethodQR))
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, string(models.CheckoutSettling), session["state"])
	require.NotNil(t, session["qr"])
	sessionID := session["id"].(string)

	transfer := models.BankTransfer{
		ID: 1, Gateway: "BIDV", AccountNumber: "96247C3FS8", TransferType: "in",
		Content: "DH " + session["order_number"].(string), TransferAmount: 150000, ReferenceCode: "FT001",
	}

	status, _ = env.do(t, http.MethodPost, "/api/v1/webhooks/sepay", "Apikey wrong-key", transfer)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, ack := env.do(t, http.MethodPost, "/api/v1/webhooks/sepay", "Apikey "+webhookKey, transfer)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, ack["success"])

	require.Eventually(t, func() bool {
		_, snap := env.do(t, http.MethodGet, "/api/v1/checkout/"+sessionID, bearer, nil)
		return snap["state"] == string(models.CheckoutSucceeded)
	}, 3*time.Second, 10*time.Millisecond)

	_, order := env.do(t, http.MethodGet, "/api/v1/orders/"+session["order_id"].(string), bearer, nil)
	assert.Equal(t, "FT001", order["transaction_hash"])
}

func TestCheckoutQRCancel(t *testing.T) {
	env := setupApp(t, nil)
	bearer := "Bearer " + env.token(t, "user-1", "")

	status, session := env.do(t, http.MethodPost, "/api/v1/checkout", bearer, checkoutBody(models.PaymentMethodQR))
	require.Equal(t, http.StatusAccepted, status)

	status, cancelled := env.do(t, http.MethodDelete, "/api/v1/checkout/"+session["id"].(string), bearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.CheckoutFailed), cancelled["state"])
	assert.Equal(t, "payment cancelled", cancelled["error"])

	_, order := env.do(t, http.MethodGet, "/api/v1/orders/"+session["order_id"].(string), bearer, nil)
	assert.Equal(t, string(models.PaymentStatusPending), order["payment_status"])
}

func TestUpdateOrderStatusRequiresStaff(t *testing.T) {
	env := setupApp(t, nil)
	customer := "Bearer " + env.token(t, "user-1", "")
	staff := "Bearer " + env.token(t, "kitchen-1", services.RoleStaff)

	_, session := env.do(t, http.MethodPost, "/api/v1/checkout", customer, checkoutBody(models.PaymentMethodCOD))
	path := "/api/v1/orders/" + session["order_id"].(string) + "/status"

	status, _ := env.do(t, http.MethodPatch, path, customer, map[string]string{"status": "preparing"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPatch, path, staff, map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp := env.do(t, http.MethodPatch, path, staff, map[string]string{"status": "preparing"})
	require.Equal(t, http.StatusOK, status)
	order := resp["order"].(map[string]interface{})
	assert.Equal(t, string(models.OrderStatusPreparing), order["order_status"])
	assert.Equal(t, string(models.PaymentStatusPending), order["payment_status"])
}

func TestHealth(t *testing.T) {
	env := setupApp(t, map[string]handlers.Probe{
		"store": func(context.Context) error { return nil },
	})
	status, body := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	env = setupApp(t, map[string]handlers.Probe{
		"ledger": func(context.Context) error { return errors.New("connection refused") },
	})
	status, body = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "connection refused", body["components"].(map[string]interface{})["ledger"])
}
