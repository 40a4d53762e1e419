// Package payments verifies Razorpay checkout confirmations and webhook deliveries.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/inkfold/api/internal/platform/textutil"
)

// EventPaymentCaptured is the webhook event that confirms a payment.
const EventPaymentCaptured = "payment.captured"

var (
	// ErrSignatureMissing is returned when no signature accompanies a payload.
	ErrSignatureMissing = errors.New("payments: signature missing")
	// ErrSignatureMismatch is returned when the signature does not match the payload.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrNotConfigured is returned when the secret required for a check is absent.
	ErrNotConfigured = errors.New("payments: secret not configured")
	// ErrMalformedEvent is returned for webhook bodies that cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)

// RazorpayConfig carries the gateway credentials.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// RazorpayVerifier checks checkout and webhook signatures.
type RazorpayVerifier struct {
	keyID         string
	keySecret     []byte
	webhookSecret []byte
}

// NewRazorpayVerifier constructs a verifier. The key secret is mandatory; the webhook
// secret is only needed when webhooks are enabled.
func NewRazorpayVerifier(cfg RazorpayConfig) (*RazorpayVerifier, error) {
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, fmt.Errorf("%w: key secret is required", ErrNotConfigured)
	}
	return &RazorpayVerifier{
		keyID:         strings.TrimSpace(cfg.KeyID),
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(strings.TrimSpace(cfg.WebhookSecret)),
	}, nil
}

// KeyID returns the public key id handed to checkout clients.
func (v *RazorpayVerifier) KeyID() string {
	if v == nil {
		return ""
	}
	return v.keyID
}

// VerifyPayment checks the checkout signature, hex(HMAC-SHA256(keySecret, orderID|paymentID)).
func (v *RazorpayVerifier) VerifyPayment(gatewayOrderID, paymentID, signature string) error {
	if v == nil || len(v.keySecret) == 0 {
		return ErrNotConfigured
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	paymentID = strings.TrimSpace(paymentID)
	if gatewayOrderID == "" || paymentID == "" {
		return errors.New("payments: order id and payment id are required")
	}
	return verifyHex(v.keySecret, []byte(gatewayOrderID+"|"+paymentID), signature)
}

// VerifyWebhook checks the X-Razorpay-Signature header against the raw body.
func (v *RazorpayVerifier) VerifyWebhook(body []byte, signature string) error {
	if v == nil || len(v.webhookSecret) == 0 {
		return fmt.Errorf("%w: webhook secret", ErrNotConfigured)
	}
	return verifyHex(v.webhookSecret, body, signature)
}

// GetSecret serves the webhook secret to the HMAC middleware.
func (v *RazorpayVerifier) GetSecret(_ context.Context, _ string) (string, error) {
	if v == nil || len(v.webhookSecret) == 0 {
		return "", fmt.Errorf("%w: webhook secret", ErrNotConfigured)
	}
	return string(v.webhookSecret), nil
}

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(secret, message []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	provided, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// WebhookEvent is the subset of a Razorpay webhook needed to confirm an order.
type WebhookEvent struct {
	Event          string
	PaymentID      string
	GatewayOrderID string
	// OrderID is the storefront order id carried in the payment notes.
	OrderID  string
	Amount   int64
	Currency string
	Status   string
	Notes    map[string]string
}

// Captured reports whether the event confirms a captured payment.
func (e WebhookEvent) Captured() bool {
	return e.Event == EventPaymentCaptured
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string          `json:"id"`
				OrderID  string          `json:"order_id"`
				Amount   int64           `json:"amount"`
				Currency string          `json:"currency"`
				Status   string          `json:"status"`
				Notes    json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a webhook body. Only payment.captured events carry the
// payment fields; other events return with just Event populated. Missing payment or
// order references are left empty for the caller to decide on.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	event := WebhookEvent{Event: strings.TrimSpace(envelope.Event)}
	if event.Event == "" {
		return WebhookEvent{}, fmt.Errorf("%w: event is required", ErrMalformedEvent)
	}
	if !event.Captured() {
		return event, nil
	}

	entity := envelope.Payload.Payment.Entity
	event.PaymentID = strings.TrimSpace(entity.ID)
	event.GatewayOrderID = strings.TrimSpace(entity.OrderID)
	event.Amount = entity.Amount
	event.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))
	event.Status = strings.TrimSpace(entity.Status)
	event.Notes = decodeNotes(entity.Notes)
	event.OrderID = textutil.ControlFree(event.Notes["orderId"], 64)
	return event, nil
}

// decodeNotes accepts the notes object. Razorpay sends an empty array when no notes exist.
func decodeNotes(raw json.RawMessage) map[string]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	notes := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" || value == nil {
			continue
		}
		if str, ok := value.(string); ok {
			notes[key] = strings.TrimSpace(str)
			continue
		}
		notes[key] = fmt.Sprint(value)
	}
	if len(notes) == 0 {
		return nil
	}
	return notes
}
