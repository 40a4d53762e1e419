package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/payments"
	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/platform/requestctx"
	"github.com/inkfold/api/internal/services"
)

const (
	maxWebhookBodySize = 256 * 1024
	webhookActor       = "razorpay-webhook"
)

// WebhookHandlers processes signed deliveries from the payment gateway. Signature and
// replay checks run in the group middleware before these handlers.
type WebhookHandlers struct {
	orders services.OrderService
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/razorpay", h.razorpay)
}

func (h *WebhookHandlers) razorpay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	event, err := payments.ParseWebhookEvent(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if !event.Captured() {
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Event: event.Event, Ignored: true})
		return
	}
	if event.OrderID == "" || event.PaymentID == "" {
		requestctx.Logger(ctx).Warn("webhook payment without order reference",
			zap.String("deliveryId", deliveryID(r)),
			zap.String("paymentId", event.PaymentID),
		)
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Event: event.Event, Ignored: true, Reason: "missing order or payment id"})
		return
	}

	_, err = h.orders.MarkPaid(ctx, services.MarkPaidCommand{
		OrderID:        event.OrderID,
		PaymentID:      event.PaymentID,
		GatewayOrderID: event.GatewayOrderID,
		Verified:       true,
		Viewer:         services.OrderViewer{UserID: webhookActor, Admin: true},
		Metadata:       requestMetadata(r),
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Event: event.Event})
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderPrecondition), errors.Is(err, services.ErrOrderInvalidInput):
		// Redelivery cannot fix these, so acknowledge and leave a trail.
		requestctx.Logger(ctx).Warn("webhook payment not applied",
			zap.String("deliveryId", deliveryID(r)),
			zap.String("orderId", event.OrderID),
			zap.String("paymentId", event.PaymentID),
			zap.Error(err),
		)
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Event: event.Event, Ignored: true, Reason: err.Error()})
	default:
		writeOrderError(ctx, w, err)
	}
}

// deliveryID is the gateway event id the signature middleware used as the nonce.
func deliveryID(r *http.Request) string {
	if meta, ok := auth.HMACMetadataFromContext(r.Context()); ok {
		return meta.Nonce
	}
	return ""
}

type webhookAck struct {
	Received bool   `json:"received"`
	Event    string `json:"event,omitempty"`
	Ignored  bool   `json:"ignored,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// WebhookRejectionAudit returns a hook that records rejected deliveries in the audit log.
func WebhookRejectionAudit(audit services.AuditLogService) auth.RejectionHook {
	return func(r *http.Request, reason string) {
		if audit == nil || r == nil {
			return
		}
		audit.Record(r.Context(), services.AuditLogRecord{
			Action:   domain.AuditActionWebhookRejected,
			Actor:    webhookActor,
			Reason:   reason,
			Metadata: requestMetadata(r),
		})
	}
}
