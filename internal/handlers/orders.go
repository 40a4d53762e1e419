package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/platform/pagination"
	"github.com/inkfold/api/internal/services"
)

const (
	maxOrderCreateBodySize = 64 * 1024
	maxOrderActionBodySize = 4 * 1024
)

type patchOrderRequest struct {
	OrderID        string  `json:"orderId"`
	Status         *string `json:"status"`
	TrackingID     *string `json:"trackingId"`
	ExpectedStatus *string `json:"expectedStatus"`
	Note           string  `json:"note"`
}

type cancelOrderRequest struct {
	OrderID            string `json:"orderId"`
	CancellationReason string `json:"cancellationReason"`
	Reason             string `json:"reason"`
}

type markPaidRequest struct {
	OrderID           string `json:"orderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpayOrderID   string `json:"razorpayOrderId"`
	RazorpaySignature string `json:"razorpaySignature"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency guards mutating order routes with the supplied middleware. It runs
// after authentication so stored responses are scoped to the caller.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.OptionalFirebaseAuth())
		}
		h.useIdempotency(r)
		r.Post("/", h.createOrder)
	})
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth())
		}
		r.With(pagination.Middleware(paginationOptions("userId", "status"), writePaginationError)).Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
	})
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		h.useIdempotency(r)
		r.Patch("/", h.patchOrder)
	})
}

// ActionRoutes registers the cancel and payment confirmation endpoints at the API root.
func (h *OrderHandlers) ActionRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth())
		}
		h.useIdempotency(r)
		r.Post("/cancelOrder", h.cancelOrder)
		r.Post("/razorpay/markPaid", h.markPaid)
	})
}

func (h *OrderHandlers) useIdempotency(r chi.Router) {
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var cmd services.CreateOrderCommand
	if !decodeJSONBody(w, r, maxOrderCreateBodySize, &cmd) {
		return
	}
	if viewer, ok := viewerFromContext(ctx); ok {
		cmd.UserID = viewer.UserID
	}
	cmd.Metadata = requestMetadata(r)

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		OrderID:          order.OrderID,
		Status:           string(order.Status),
		Amount:           order.Amount,
		ShippingCost:     order.Shipping.Cost,
		DeliveryEstimate: order.Shipping.DeliveryEstimate,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	viewer, ok := viewerFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	params := pagination.FromContextOrDefault(ctx)
	page, err := h.orders.List(ctx, services.OrderListFilter{
		Viewer: viewer,
		UserID: params.Filter("userId"),
		Status: params.Filter("status"),
		Page:   params.Page,
		Limit:  params.Limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	data := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		data = append(data, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Data:       data,
		Pagination: paginationPayload{Page: page.Page, Limit: page.Limit, HasMore: page.HasMore},
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	viewer, ok := viewerFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID, viewer)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) patchOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	viewer, ok := viewerFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	if !viewer.Admin {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	var req patchOrderRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}

	order, err := h.orders.Patch(ctx, services.PatchOrderCommand{
		OrderID:        req.OrderID,
		Status:         req.Status,
		TrackingID:     req.TrackingID,
		ExpectedStatus: req.ExpectedStatus,
		Note:           req.Note,
		ActorID:        viewer.UserID,
		Metadata:       requestMetadata(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	if !isJSONRequest(r) {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "Content-Type must be application/json", http.StatusUnsupportedMediaType))
		return
	}

	viewer, ok := viewerFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	reason := req.CancellationReason
	if strings.TrimSpace(reason) == "" {
		reason = req.Reason
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:  req.OrderID,
		Reason:   reason,
		Viewer:   viewer,
		Metadata: requestMetadata(r),
	})
	if err != nil {
		writeOrderErrorWithCode(ctx, w, err, "cannot_cancel")
		return
	}

	writeJSONResponse(w, http.StatusOK, orderStatusResponse{
		OrderID:        order.OrderID,
		Status:         string(order.Status),
		ShippingStatus: string(order.ShippingStatus),
		PaymentStatus:  string(order.PaymentStatus),
	})
}

func (h *OrderHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	viewer, ok := viewerFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	var req markPaidRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req) {
		return
	}

	order, err := h.orders.MarkPaid(ctx, services.MarkPaidCommand{
		OrderID:        req.OrderID,
		PaymentID:      req.RazorpayPaymentID,
		GatewayOrderID: req.RazorpayOrderID,
		Signature:      req.RazorpaySignature,
		Viewer:         viewer,
		Metadata:       requestMetadata(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderStatusResponse{
		OrderID:        order.OrderID,
		Status:         string(order.Status),
		ShippingStatus: string(order.ShippingStatus),
		PaymentStatus:  string(order.PaymentStatus),
	}
	if order.Payment != nil {
		resp.PaymentID = order.Payment.ID
		resp.Verified = order.Payment.Verified
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type createOrderResponse struct {
	OrderID          string  `json:"orderId"`
	Status           string  `json:"status"`
	Amount           float64 `json:"amount"`
	ShippingCost     float64 `json:"shippingCost"`
	DeliveryEstimate string  `json:"deliveryEstimate,omitempty"`
}

type orderStatusResponse struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	ShippingStatus string `json:"shippingStatus"`
	PaymentStatus  string `json:"paymentStatus"`
	PaymentID      string `json:"paymentId,omitempty"`
	Verified       bool   `json:"verified,omitempty"`
}

type orderListResponse struct {
	Data       []orderPayload    `json:"data"`
	Pagination paginationPayload `json:"pagination"`
}

type orderPayload struct {
	OrderID            string                `json:"orderId"`
	Customer           orderCustomerPayload  `json:"customer"`
	Shipping           orderShippingPayload  `json:"shipping"`
	Items              []orderItemPayload    `json:"items"`
	Amount             float64               `json:"amount"`
	Status             string                `json:"status"`
	ShippingStatus     string                `json:"shippingStatus"`
	PaymentStatus      string                `json:"paymentStatus"`
	Payment            *orderPaymentPayload  `json:"payment,omitempty"`
	StatusHistory      []orderHistoryPayload `json:"statusHistory,omitempty"`
	CancelledBy        *string               `json:"cancelledBy,omitempty"`
	CancellationReason *string               `json:"cancellationReason,omitempty"`
	CreatedAt          string                `json:"createdAt"`
	UpdatedAt          string                `json:"updatedAt,omitempty"`
}

type orderCustomerPayload struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	UserID string `json:"userId"`
}

type orderShippingPayload struct {
	Address          string  `json:"address"`
	Pincode          string  `json:"pincode"`
	Cost             float64 `json:"cost"`
	TrackingID       string  `json:"trackingId,omitempty"`
	Zone             string  `json:"zone,omitempty"`
	DeliveryEstimate string  `json:"deliveryEstimate,omitempty"`
	FreeShipping     bool    `json:"freeShipping"`
}

type orderItemPayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Weight   float64 `json:"weight,omitempty"`
}

type orderPaymentPayload struct {
	ID         string `json:"razorpay_payment_id"`
	OrderID    string `json:"razorpay_order_id,omitempty"`
	Verified   bool   `json:"verified"`
	VerifiedAt string `json:"verified_at,omitempty"`
}

type orderHistoryPayload struct {
	Field     string `json:"field"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Actor     string `json:"actor,omitempty"`
	Note      string `json:"note,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		OrderID: order.OrderID,
		Customer: orderCustomerPayload{
			Name:   order.Customer.Name,
			Email:  order.Customer.Email,
			Phone:  order.Customer.Phone,
			UserID: order.Customer.UserID,
		},
		Shipping: orderShippingPayload{
			Address:          order.Shipping.Address,
			Pincode:          order.Shipping.Pincode,
			Cost:             order.Shipping.Cost,
			TrackingID:       order.Shipping.TrackingID,
			Zone:             order.Shipping.Zone,
			DeliveryEstimate: order.Shipping.DeliveryEstimate,
			FreeShipping:     order.Shipping.FreeShipping,
		},
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		Amount:             order.Amount,
		Status:             string(order.Status),
		ShippingStatus:     string(order.ShippingStatus),
		PaymentStatus:      string(order.PaymentStatus),
		CancelledBy:        order.CancelledBy,
		CancellationReason: order.CancellationReason,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Weight:   item.Weight,
		})
	}
	if order.Payment != nil {
		payment := &orderPaymentPayload{
			ID:       order.Payment.ID,
			OrderID:  order.Payment.OrderID,
			Verified: order.Payment.Verified,
		}
		if order.Payment.VerifiedAt != nil {
			payment.VerifiedAt = formatTime(*order.Payment.VerifiedAt)
		}
		payload.Payment = payment
	}
	for _, entry := range order.History {
		payload.StatusHistory = append(payload.StatusHistory, orderHistoryPayload{
			Field:     entry.Field,
			From:      entry.From,
			To:        entry.To,
			Actor:     entry.Actor,
			Note:      entry.Note,
			Timestamp: formatTime(entry.Timestamp),
		})
	}
	return payload
}
