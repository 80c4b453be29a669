// Package gateway talks to the Razorpay REST API and checks the signatures
// Razorpay attaches to checkout responses and webhooks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"academy/internal/apperr"
)

// Payment statuses reported by the gateway.
const (
	PaymentCreated    = "created"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// Order is a gateway order.
type Order struct {
	ID        string            `json:"id"`
	Entity    string            `json:"entity"`
	Amount    int64             `json:"amount"`
	AmountDue int64             `json:"amount_due"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// Payment is a gateway payment.
type Payment struct {
	ID        string            `json:"id"`
	Entity    string            `json:"entity"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	OrderID   string            `json:"order_id"`
	Method    string            `json:"method,omitempty"`
	Captured  bool              `json:"captured"`
	Email     string            `json:"email,omitempty"`
	Contact   string            `json:"contact,omitempty"`
	Notes     map[string]string `json:"notes,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// Settled reports whether money has been taken for the payment. An
// authorized payment is not settled until it is captured; Razorpay refunds
// authorizations that are never captured.
func (p Payment) Settled() bool {
	return p.Status == PaymentCaptured
}

// Capturable reports whether the payment is waiting to be captured.
func (p Payment) Capturable() bool {
	return p.Status == PaymentAuthorized
}

type captureRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderRequest is the body of an order creation.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// APIError is the error body returned by the gateway.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// Client calls the Razorpay API with basic auth.
type Client struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	HTTP          *http.Client
	// Skip fakes orders and payments locally; signatures are still checked.
	Skip bool

	mu         sync.Mutex
	fakeOrders map[string]Order
}

// Config holds the client settings.
type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	Skip          bool
}

// New creates a client with configurable timeout.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com/v1"
	}
	return &Client{
		BaseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		KeyID:         cfg.KeyID,
		KeySecret:     cfg.KeySecret,
		WebhookSecret: cfg.WebhookSecret,
		Skip:          cfg.Skip,
		HTTP:          &http.Client{Timeout: cfg.Timeout},
		fakeOrders:    make(map[string]Order),
	}
}

// CreateOrder creates an order for amount minor units.
func (c *Client) CreateOrder(ctx context.Context, in OrderRequest) (Order, error) {
	if in.Amount <= 0 {
		return Order{}, apperr.Validation("gateway.create_order", "amount must be positive")
	}
	if c.Skip {
		o := Order{
			ID:        "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
			Entity:    "order",
			Amount:    in.Amount,
			AmountDue: in.Amount,
			Currency:  in.Currency,
			Receipt:   in.Receipt,
			Status:    "created",
			Notes:     in.Notes,
			CreatedAt: time.Now().Unix(),
		}
		c.mu.Lock()
		c.fakeOrders[o.ID] = o
		c.mu.Unlock()
		return o, nil
	}

	var out Order
	if err := c.do(ctx, http.MethodPost, "/orders", in, &out); err != nil {
		return Order{}, wrap("gateway.create_order", err)
	}
	return out, nil
}

// FetchPayment loads a payment by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	if paymentID == "" {
		return Payment{}, apperr.Validation("gateway.fetch_payment", "payment id required")
	}
	if c.Skip {
		return c.fakePayment(paymentID)
	}

	var out Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return Payment{}, wrap("gateway.fetch_payment", err)
	}
	return out, nil
}

// CapturePayment captures an authorized payment for its full amount.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (Payment, error) {
	if paymentID == "" {
		return Payment{}, apperr.Validation("gateway.capture_payment", "payment id required")
	}
	if c.Skip {
		p, err := c.fakePayment(paymentID)
		if err != nil {
			return Payment{}, err
		}
		p.Amount = amount
		return p, nil
	}

	var out Payment
	in := captureRequest{Amount: amount, Currency: currency}
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/capture", in, &out); err != nil {
		return Payment{}, wrap("gateway.capture_payment", err)
	}
	return out, nil
}

// fakePayment reports a captured payment for the most recent fake order
// whose id the payment id embeds, as produced by FakePaymentID.
func (c *Client) fakePayment(paymentID string) (Payment, error) {
	orderID, ok := strings.CutPrefix(paymentID, "pay_")
	if ok {
		orderID, _, ok = strings.Cut(orderID, ".")
	}
	c.mu.Lock()
	o, found := c.fakeOrders["order_"+orderID]
	c.mu.Unlock()
	if !ok || !found {
		return Payment{}, apperr.NotFound("gateway.fetch_payment", "payment %s does not exist", paymentID)
	}
	return Payment{
		ID:        paymentID,
		Entity:    "payment",
		Amount:    o.Amount,
		Currency:  o.Currency,
		Status:    PaymentCaptured,
		OrderID:   o.ID,
		Captured:  true,
		CreatedAt: time.Now().Unix(),
	}, nil
}

// FakePaymentID builds a payment id that Skip mode resolves to orderID.
func FakePaymentID(orderID, suffix string) string {
	return "pay_" + strings.TrimPrefix(orderID, "order_") + "." + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Description = envelope.Error.Description
		} else {
			apiErr.Description = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// wrap classifies a gateway failure: client errors are rejections of the
// request itself, everything else is retryable.
func wrap(op string, err error) error {
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode < 500 {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return apperr.Upstream(op, err)
		case http.StatusNotFound:
			return &apperr.Error{Kind: apperr.ErrNotFound, Op: op, Msg: apiErr.Description, Err: err}
		}
		return &apperr.Error{Kind: apperr.ErrValidation, Op: op, Msg: apiErr.Description, Err: err}
	}
	return apperr.Upstream(op, err)
}
