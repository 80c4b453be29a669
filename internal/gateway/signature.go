package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CheckoutResponse is what the checkout widget hands back to the browser.
type CheckoutResponse struct {
	OrderID   string `json:"razorpay_order_id" binding:"required"`
	PaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature string `json:"razorpay_signature" binding:"required"`
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckoutSignature is the signature Razorpay computes over order_id|payment_id.
func CheckoutSignature(secret, orderID, paymentID string) string {
	return Sign(secret, []byte(orderID+"|"+paymentID))
}

// VerifyCheckout reports whether the checkout response was signed with the
// key secret. The comparison is constant time.
func (c *Client) VerifyCheckout(r CheckoutResponse) bool {
	return equalHex(CheckoutSignature(c.KeySecret, r.OrderID, r.PaymentID), r.Signature)
}

// VerifyWebhook checks the X-Razorpay-Signature header against the raw body.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	if c.WebhookSecret == "" {
		return false
	}
	return equalHex(Sign(c.WebhookSecret, body), signature)
}

func equalHex(want, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(want), []byte(got))
}

// Webhook is the envelope of a gateway webhook delivery.
type Webhook struct {
	Event     string   `json:"event"`
	AccountID string   `json:"account_id"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Payment *struct {
			Entity Payment `json:"entity"`
		} `json:"payment,omitempty"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// Webhook events handled by the academy.
const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
)

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return Webhook{}, fmt.Errorf("decode webhook: %w", err)
	}
	if w.Event == "" {
		return Webhook{}, fmt.Errorf("decode webhook: missing event")
	}
	return w, nil
}

// Payment returns the payment entity carried by the webhook, if any.
func (w Webhook) Payment() (Payment, bool) {
	if w.Payload.Payment == nil {
		return Payment{}, false
	}
	return w.Payload.Payment.Entity, true
}
