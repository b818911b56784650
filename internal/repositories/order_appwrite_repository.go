package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dinepay/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// AppwriteConfig locates the orders collection in an Appwrite project.
type AppwriteConfig struct {
	Endpoint     string
	ProjectID    string
	DatabaseID   string
	CollectionID string
	APIKey       string
	Timeout      time.Duration
}

// AppwriteOrderRepository stores orders as documents through the Appwrite REST API.
type AppwriteOrderRepository struct {
	cfg AppwriteConfig
}

// NewAppwriteOrderRepository creates a new instance of AppwriteOrderRepository.
func NewAppwriteOrderRepository(cfg AppwriteConfig) *AppwriteOrderRepository {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &AppwriteOrderRepository{cfg: cfg}
}

// orderDocument is the wire shape of an order document. Items are kept as a
// JSON string because the collection attribute is a string.
type orderDocument struct {
	ID              string  `json:"$id,omitempty"`
	CreatedAt       string  `json:"$createdAt,omitempty"`
	UpdatedAt       string  `json:"$updatedAt,omitempty"`
	OrderNumber     string  `json:"order_number"`
	UserID          string  `json:"user_id"`
	Items           string  `json:"items"`
	Total           float64 `json:"total"`
	PaymentMethod   string  `json:"payment_method"`
	PaymentStatus   string  `json:"payment_status"`
	OrderStatus     string  `json:"order_status"`
	DeliveryAddress string  `json:"delivery_address"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	PaidAt          string  `json:"paid_at,omitempty"`
}

type documentList struct {
	Total     int             `json:"total"`
	Documents []orderDocument `json:"documents"`
}

type appwriteError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

func (r *AppwriteOrderRepository) documentsURL() string {
	return fmt.Sprintf("%s/databases/%s/collections/%s/documents", r.cfg.Endpoint, r.cfg.DatabaseID, r.cfg.CollectionID)
}

// Create inserts a new order document with a server-generated id.
func (r *AppwriteOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.OrderNumber == "" {
		return invalid("create", errors.New("order number is required"))
	}
	doc, err := toDocument(order)
	if err != nil {
		return invalid("create", err)
	}
	payload := map[string]interface{}{
		"documentId": "unique()",
		"data":       doc,
	}

	var created orderDocument
	if err := r.do(ctx, "create", fiber.Post(r.documentsURL()).JSON(payload), &created); err != nil {
		return err
	}
	stored, err := fromDocument(created)
	if err != nil {
		return unavailable("create", err)
	}
	*order = *stored
	return nil
}

// GetByID retrieves a single order document.
func (r *AppwriteOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var doc orderDocument
	if err := r.do(ctx, "get", fiber.Get(r.documentsURL()+"/"+url.PathEscape(id)), &doc); err != nil {
		return nil, err
	}
	return fromDocument(doc)
}

// GetByOrderNumber finds the order document with the given number.
func (r *AppwriteOrderRepository) GetByOrderNumber(ctx context.Context, number string) (*models.Order, error) {
	orders, err := r.list(ctx, "get by number", equalQuery("order_number", number), limitQuery(1))
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, notFound("get by number", number)
	}
	return &orders[0], nil
}

// ListByUser lists the user's orders, newest first.
func (r *AppwriteOrderRepository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.list(ctx, "list", equalQuery("user_id", userID), `{"method":"orderDesc","attribute":"$createdAt"}`, limitQuery(100))
}

// Update patches the given fields of an order document.
func (r *AppwriteOrderRepository) Update(ctx context.Context, id string, update models.OrderUpdate) error {
	if update.Empty() {
		return invalid("update", errors.New("no fields to update"))
	}
	data := map[string]interface{}{}
	if update.PaymentStatus != nil {
		data["payment_status"] = string(*update.PaymentStatus)
	}
	if update.OrderStatus != nil {
		data["order_status"] = string(*update.OrderStatus)
	}
	if update.TransactionHash != nil {
		data["transaction_hash"] = *update.TransactionHash
	}
	if update.PaidAt != nil {
		data["paid_at"] = update.PaidAt.UTC().Format(time.RFC3339)
	}
	agent := fiber.Patch(r.documentsURL() + "/" + url.PathEscape(id)).JSON(map[string]interface{}{"data": data})
	return r.do(ctx, "update", agent, nil)
}

func (r *AppwriteOrderRepository) list(ctx context.Context, op string, queries ...string) ([]models.Order, error) {
	params := url.Values{}
	for _, q := range queries {
		params.Add("queries[]", q)
	}
	var res documentList
	if err := r.do(ctx, op, fiber.Get(r.documentsURL()+"?"+params.Encode()), &res); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(res.Documents))
	for _, doc := range res.Documents {
		order, err := fromDocument(doc)
		if err != nil {
			return nil, unavailable(op, err)
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// do sends the request and decodes a 2xx body into out. fasthttp has no
// context support, so ctx is only checked before sending.
func (r *AppwriteOrderRepository) do(ctx context.Context, op string, agent *fiber.Agent, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agent.Set("X-Appwrite-Project", r.cfg.ProjectID).
		Set("X-Appwrite-Response-Format", "1.5.0").
		Timeout(r.cfg.Timeout)
	if r.cfg.APIKey != "" {
		agent.Set("X-Appwrite-Key", r.cfg.APIKey)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return unavailable(op, errors.Join(errs...))
	}
	if code >= 300 {
		var apiErr appwriteError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		if code == 404 {
			return &StoreError{Op: op, Code: code, Err: fmt.Errorf("%w: %s", ErrOrderNotFound, msg)}
		}
		return &StoreError{Op: op, Code: code, Err: errors.New(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return unavailable(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func equalQuery(attribute, value string) string {
	q, _ := json.Marshal(map[string]interface{}{
		"method":    "equal",
		"attribute": attribute,
		"values":    []string{value},
	})
	return string(q)
}

func limitQuery(n int) string {
	return fmt.Sprintf(`{"method":"limit","values":[%d]}`, n)
}

func toDocument(order *models.Order) (orderDocument, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return orderDocument{}, fmt.Errorf("encode items: %w", err)
	}
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Items:           string(items),
		Total:           order.Total.InexactFloat64(),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		OrderStatus:     string(order.OrderStatus),
		DeliveryAddress: order.DeliveryAddress,
		TransactionHash: order.TransactionHash,
	}
	if order.PaidAt != nil {
		doc.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	return doc, nil
}

func fromDocument(doc orderDocument) (*models.Order, error) {
	order := &models.Order{
		ID:              doc.ID,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		Total:           decimal.NewFromFloat(doc.Total),
		PaymentMethod:   models.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:   models.PaymentStatus(doc.PaymentStatus),
		OrderStatus:     models.OrderStatus(doc.OrderStatus),
		DeliveryAddress: doc.DeliveryAddress,
		TransactionHash: doc.TransactionHash,
	}
	if order.OrderStatus == "" {
		order.OrderStatus = models.OrderStatusPending
	}
	if doc.Items != "" {
		if err := json.Unmarshal([]byte(doc.Items), &order.Items); err != nil {
			return nil, fmt.Errorf("decode items of %s: %w", doc.ID, err)
		}
	}
	order.CreatedAt = parseTime(doc.CreatedAt)
	order.UpdatedAt = parseTime(doc.UpdatedAt)
	if doc.PaidAt != "" {
		paidAt := parseTime(doc.PaidAt)
		order.PaidAt = &paidAt
	}
	return order, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
