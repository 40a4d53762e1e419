package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/services"
)

// courierStatuses are the shipping states a courier sync may report.
var courierStatuses = map[domain.ShippingStatus]struct{}{
	domain.ShippingStatusProcessing:     {},
	domain.ShippingStatusShipped:        {},
	domain.ShippingStatusInTransit:      {},
	domain.ShippingStatusOutForDelivery: {},
	domain.ShippingStatusDelivered:      {},
}

type shippingStatusRequest struct {
	Status         string  `json:"status"`
	TrackingID     *string `json:"trackingId"`
	ExpectedStatus *string `json:"expectedStatus"`
	Note           string  `json:"note"`
}

// InternalHandlers serves service-to-service endpoints behind OIDC.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs the internal endpoints.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/shipping-status", h.syncShippingStatus)
}

func (h *InternalHandlers) syncShippingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req shippingStatusRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	status, ok := domain.ParseShippingStatus(req.Status)
	if _, allowed := courierStatuses[status]; !ok || !allowed {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a courier shipping status", http.StatusBadRequest))
		return
	}

	actor := "courier-sync"
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		if email := strings.TrimSpace(identity.Email); email != "" {
			actor = email
		} else if subject := strings.TrimSpace(identity.Subject); subject != "" {
			actor = subject
		}
	}

	statusValue := string(status)
	order, err := h.orders.Patch(ctx, services.PatchOrderCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		Status:         &statusValue,
		TrackingID:     req.TrackingID,
		ExpectedStatus: req.ExpectedStatus,
		Note:           req.Note,
		ActorID:        actor,
		Metadata:       requestMetadata(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderStatusResponse{
		OrderID:        order.OrderID,
		Status:         string(order.Status),
		ShippingStatus: string(order.ShippingStatus),
		PaymentStatus:  string(order.PaymentStatus),
	})
}
