package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/validation"
	"github.com/inkfold/api/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn      func(context.Context, string, services.OrderViewer) (services.Order, error)
	listFn     func(context.Context, services.OrderListFilter) (domain.Page[services.Order], error)
	patchFn    func(context.Context, services.PatchOrderCommand) (services.Order, error)
	cancelFn   func(context.Context, services.CancelOrderCommand) (services.Order, error)
	markPaidFn func(context.Context, services.MarkPaidCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, viewer services.OrderViewer) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, viewer)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[services.Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) Patch(ctx context.Context, cmd services.PatchOrderCommand) (services.Order, error) {
	if s.patchFn != nil {
		return s.patchFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) MarkPaid(ctx context.Context, cmd services.MarkPaidCommand) (services.Order, error) {
	if s.markPaidFn != nil {
		return s.markPaidFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

func customerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid}
}

func adminIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleAdmin}}
}

// serveOrderRoutes mounts the handlers the way the router does and injects identity in
// place of the Firebase middleware.
func serveOrderRoutes(h *OrderHandlers, req *http.Request, identity *auth.Identity) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/orders", h.Routes)
	h.ActionRoutes(router)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	code, _ := body["error"].(string)
	return code
}

func sampleOrder() services.Order {
	created := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	verifiedAt := created.Add(5 * time.Minute)
	return services.Order{
		OrderID: "ORD-1748770200000-ABCDEF",
		Customer: domain.Customer{
			Name:   "Asha Rao",
			Email:  "asha@example.com",
			Phone:  "9876543210",
			UserID: "user-1",
		},
		Shipping: domain.ShippingDetails{
			Address:          "12 MG Road, Bengaluru",
			Pincode:          "560001",
			Cost:             99,
			Zone:             "regional",
			DeliveryEstimate: "2-4 days",
		},
		Items: []domain.OrderItem{
			{ID: "nb-a5", Name: "A5 Dotted Notebook", Price: 149.5, Quantity: 2, Weight: 0.3},
		},
		Amount:         398,
		Status:         domain.OrderStatusConfirmed,
		ShippingStatus: domain.ShippingStatusNotDispatched,
		PaymentStatus:  domain.PaymentStatusPaid,
		Payment: &domain.Payment{
			ID:         "pay_123",
			OrderID:    "order_rzp_1",
			Verified:   true,
			VerifiedAt: &verifiedAt,
		},
		History: []domain.StatusHistoryEntry{
			{Field: "paymentStatus", From: "unpaid", To: "paid", Actor: "user-1", Timestamp: verifiedAt},
		},
		CreatedAt: created,
		UpdatedAt: verifiedAt,
	}
}

func TestOrderHandlersCreateGuest(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPending
			order.PaymentStatus = domain.PaymentStatusUnpaid
			order.Payment = nil
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, svc)

	body := `{
		"customer": {"name": "Asha Rao", "email": "asha@example.com"},
		"shipping": {"address": "12 MG Road", "pincode": "560001"},
		"items": [{"id": "nb-a5", "name": "A5 Dotted Notebook", "price": 149.5, "quantity": 2, "weight": 0.3}],
		"amount": 1
	}`
	req := jsonRequest(http.MethodPost, "/orders", body)
	req.Header.Set("User-Agent", "inkfold-test")
	rr := serveOrderRoutes(h, req, nil)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Empty(t, captured.UserID, "guest command carries no user id")
	require.Len(t, captured.Items, 1)
	require.Equal(t, 2, captured.Items[0].Quantity)
	require.Equal(t, "inkfold-test", captured.Metadata.UserAgent)

	var resp createOrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "ORD-1748770200000-ABCDEF", resp.OrderID)
	require.Equal(t, "pending", resp.Status)
	require.Equal(t, 398.0, resp.Amount)
	require.Equal(t, 99.0, resp.ShippingCost)
}

func TestOrderHandlersCreateUsesSignedInUser(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	h := NewOrderHandlers(nil, svc)

	rr := serveOrderRoutes(h, jsonRequest(http.MethodPost, "/orders", `{"items":[]}`), customerIdentity("user-9"))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "user-9", captured.UserID)
}

func TestOrderHandlersCreateErrors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed json",
			body:     `{"customer":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "validation",
			body:     `{}`,
			err:      fmt.Errorf("%w: %w", services.ErrOrderInvalidInput, &validation.Error{Fields: map[string]string{"items[0].quantity": "must be at most 10"}}),
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "unserviceable pincode",
			body:     `{}`,
			err:      fmt.Errorf("%w: 999999", services.ErrShippingPincodeNotFound),
			wantCode: http.StatusNotFound,
			wantErr:  "pincode_not_found",
		},
		{
			name:     "store unavailable",
			body:     `{}`,
			err:      fmt.Errorf("%w: firestore down", services.ErrOrderUnavailable),
			wantCode: http.StatusInternalServerError,
			wantErr:  "store_unavailable",
		},
		{
			name:     "unexpected",
			body:     `{}`,
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantErr:  "internal_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPost, "/orders", tc.body), nil)
			require.Equal(t, tc.wantCode, rr.Code, rr.Body.String())
			require.Equal(t, tc.wantErr, decodeErrorCode(t, rr))
		})
	}
}

func TestOrderHandlersCreateValidationDetails(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: %w", services.ErrOrderInvalidInput, &validation.Error{Fields: map[string]string{"customer.email": "must be a valid email"}})
		},
	}
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPost, "/orders", `{}`), nil)

	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Details, rr.Body.String())
	require.Contains(t, rr.Body.String(), "customer.email")
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
			captured = filter
			return domain.Page[services.Order]{
				Items:   []services.Order{sampleOrder()},
				Page:    filter.Page,
				Limit:   filter.Limit,
				HasMore: true,
			}, nil
		},
	}
	h := NewOrderHandlers(nil, svc)

	rr := serveOrderRoutes(h, httptest.NewRequest(http.MethodGet, "/orders?page=2&limit=5&status=paid", nil), customerIdentity("user-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "user-1", captured.Viewer.UserID)
	require.False(t, captured.Viewer.Admin)
	require.Equal(t, 2, captured.Page)
	require.Equal(t, 5, captured.Limit)
	require.Equal(t, "paid", captured.Status)

	var resp struct {
		Data       []map[string]any  `json:"data"`
		Pagination paginationPayload `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, "ORD-1748770200000-ABCDEF", resp.Data[0]["orderId"])
	require.Equal(t, paginationPayload{Page: 2, Limit: 5, HasMore: true}, resp.Pagination)
}

func TestOrderHandlersListOrdersClampsLimit(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
			captured = filter
			return domain.Page[services.Order]{Page: filter.Page, Limit: filter.Limit}, nil
		},
	}
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), httptest.NewRequest(http.MethodGet, "/orders?limit=500", nil), adminIdentity("admin-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 50, captured.Limit)
	require.True(t, captured.Viewer.Admin)
}

func TestOrderHandlersListOrdersRejectsBadPages(t *testing.T) {
	for _, target := range []string{
		"/orders?page=0",
		"/orders?page=9999999&limit=50",
		"/orders?page=9223372036854775807&limit=50",
	} {
		t.Run(target, func(t *testing.T) {
			svc := &stubOrderService{
				listFn: func(context.Context, services.OrderListFilter) (domain.Page[services.Order], error) {
					require.FailNow(t, "service must not be called")
					return domain.Page[services.Order]{}, nil
				},
			}
			rr := serveOrderRoutes(NewOrderHandlers(nil, svc), httptest.NewRequest(http.MethodGet, target, nil), customerIdentity("user-1"))
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			require.Equal(t, "invalid_pagination", decodeErrorCode(t, rr))
		})
	}
}

func TestOrderHandlersListOrdersUnauthenticated(t *testing.T) {
	rr := serveOrderRoutes(NewOrderHandlers(nil, &stubOrderService{}), httptest.NewRequest(http.MethodGet, "/orders", nil), nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthenticated", decodeErrorCode(t, rr))
}

func TestOrderHandlersServiceUnavailable(t *testing.T) {
	h := NewOrderHandlers(nil, nil)
	rr := serveOrderRoutes(h, httptest.NewRequest(http.MethodGet, "/orders", nil), customerIdentity("user-1"))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOrderHandlersGetOrder(t *testing.T) {
	var gotID string
	var gotViewer services.OrderViewer
	svc := &stubOrderService{
		getFn: func(_ context.Context, orderID string, viewer services.OrderViewer) (services.Order, error) {
			gotID = orderID
			gotViewer = viewer
			return sampleOrder(), nil
		},
	}
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), httptest.NewRequest(http.MethodGet, "/orders/ORD-1748770200000-ABCDEF", nil), customerIdentity("user-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "ORD-1748770200000-ABCDEF", gotID)
	require.Equal(t, "user-1", gotViewer.UserID)

	var payload orderPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Equal(t, "asha@example.com", payload.Customer.Email)
	require.Equal(t, "560001", payload.Shipping.Pincode)
	require.NotNil(t, payload.Payment)
	require.Equal(t, "pay_123", payload.Payment.ID)
	require.True(t, payload.Payment.Verified)
	require.Equal(t, "2025-06-01T09:35:00Z", payload.Payment.VerifiedAt)
	require.Len(t, payload.StatusHistory, 1)
	require.Equal(t, "paid", payload.StatusHistory[0].To)
	require.Equal(t, "2025-06-01T09:30:00Z", payload.CreatedAt)
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string, services.OrderViewer) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), httptest.NewRequest(http.MethodGet, "/orders/ORD-missing", nil), customerIdentity("user-2"))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "order_not_found", decodeErrorCode(t, rr))
}

func TestOrderHandlersPatch(t *testing.T) {
	t.Run("admin", func(t *testing.T) {
		var captured services.PatchOrderCommand
		svc := &stubOrderService{
			patchFn: func(_ context.Context, cmd services.PatchOrderCommand) (services.Order, error) {
				captured = cmd
				order := sampleOrder()
				order.ShippingStatus = domain.ShippingStatusShipped
				order.Shipping.TrackingID = "TRK1"
				return order, nil
			},
		}
		body := `{"orderId":"ORD-1","status":"shipped","trackingId":"TRK1","expectedStatus":"processing"}`
		rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPatch, "/orders", body), adminIdentity("admin-1"))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.Equal(t, "ORD-1", captured.OrderID)
		require.Equal(t, "admin-1", captured.ActorID)
		require.NotNil(t, captured.Status)
		require.Equal(t, "shipped", *captured.Status)
		require.NotNil(t, captured.ExpectedStatus)
		require.Equal(t, "processing", *captured.ExpectedStatus)
		require.NotNil(t, captured.TrackingID)
		require.Equal(t, "TRK1", *captured.TrackingID)
	})

	t.Run("non admin forbidden", func(t *testing.T) {
		svc := &stubOrderService{
			patchFn: func(context.Context, services.PatchOrderCommand) (services.Order, error) {
				require.FailNow(t, "service must not be called")
				return services.Order{}, nil
			},
		}
		rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPatch, "/orders", `{"orderId":"ORD-1"}`), customerIdentity("user-1"))
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("stale expected status", func(t *testing.T) {
		svc := &stubOrderService{
			patchFn: func(context.Context, services.PatchOrderCommand) (services.Order, error) {
				return services.Order{}, fmt.Errorf("%w: expected processing, found shipped", services.ErrOrderConflict)
			},
		}
		rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPatch, "/orders", `{"orderId":"ORD-1","status":"delivered","expectedStatus":"processing"}`), adminIdentity("admin-1"))
		require.Equal(t, http.StatusConflict, rr.Code)
		require.Equal(t, "order_conflict", decodeErrorCode(t, rr))
	})
}

func TestOrderHandlersCancel(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			order.ShippingStatus = domain.ShippingStatusCancelled
			order.PaymentStatus = domain.PaymentStatusRefundInitiated
			return order, nil
		},
	}
	body := `{"orderId":"ORD-1748770200000-ABCDEF","cancellationReason":"ordered twice"}`
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPost, "/cancelOrder", body), customerIdentity("user-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "ordered twice", captured.Reason)
	require.Equal(t, "user-1", captured.Viewer.UserID)

	var resp orderStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "cancelled", resp.ShippingStatus)
	require.Equal(t, "refund_initiated", resp.PaymentStatus)
}

func TestOrderHandlersCancelAcceptsReasonAlias(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPost, "/cancelOrder", `{"orderId":"ORD-1","reason":"changed mind"}`), customerIdentity("user-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "changed mind", captured.Reason)
}

func TestOrderHandlersCancelRejections(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		identity    *auth.Identity
		err         error
		wantCode    int
		wantErr     string
	}{
		{
			name:        "wrong content type",
			contentType: "text/plain",
			identity:    customerIdentity("user-1"),
			wantCode:    http.StatusUnsupportedMediaType,
			wantErr:     "unsupported_media_type",
		},
		{
			name:        "unauthenticated",
			contentType: "application/json",
			wantCode:    http.StatusUnauthorized,
			wantErr:     "unauthenticated",
		},
		{
			name:        "not owner",
			contentType: "application/json",
			identity:    customerIdentity("user-2"),
			err:         services.ErrOrderForbidden,
			wantCode:    http.StatusForbidden,
			wantErr:     "forbidden",
		},
		{
			name:        "already shipped",
			contentType: "application/json; charset=utf-8",
			identity:    customerIdentity("user-1"),
			err:         fmt.Errorf("%w: order already dispatched", services.ErrOrderPrecondition),
			wantCode:    http.StatusConflict,
			wantErr:     "cannot_cancel",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
					require.NotNil(t, tc.err, "service must not be called")
					return services.Order{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/cancelOrder", strings.NewReader(`{"orderId":"ORD-1"}`))
			req.Header.Set("Content-Type", tc.contentType)
			rr := serveOrderRoutes(NewOrderHandlers(nil, svc), req, tc.identity)
			require.Equal(t, tc.wantCode, rr.Code, rr.Body.String())
			require.Equal(t, tc.wantErr, decodeErrorCode(t, rr))
		})
	}
}

func TestOrderHandlersMarkPaid(t *testing.T) {
	var captured services.MarkPaidCommand
	svc := &stubOrderService{
		markPaidFn: func(_ context.Context, cmd services.MarkPaidCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	body := `{"orderId":"ORD-1","razorpayPaymentId":"pay_123","razorpayOrderId":"order_rzp_1","razorpaySignature":"abc"}`
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPost, "/razorpay/markPaid", body), customerIdentity("user-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "pay_123", captured.PaymentID)
	require.Equal(t, "order_rzp_1", captured.GatewayOrderID)
	require.Equal(t, "abc", captured.Signature)
	require.False(t, captured.Verified, "client calls are never pre-verified")

	var resp orderStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "paid", resp.PaymentStatus)
	require.Equal(t, "pay_123", resp.PaymentID)
	require.True(t, resp.Verified)
}

func TestOrderHandlersMarkPaidBadSignature(t *testing.T) {
	svc := &stubOrderService{
		markPaidFn: func(context.Context, services.MarkPaidCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: signature mismatch", services.ErrOrderUnauthorized)
		},
	}
	rr := serveOrderRoutes(NewOrderHandlers(nil, svc), jsonRequest(http.MethodPost, "/razorpay/markPaid", `{"orderId":"ORD-1","razorpayPaymentId":"pay_1","razorpaySignature":"bad"}`), customerIdentity("user-1"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOrderHandlersIdempotencyWrapsMutations(t *testing.T) {
	calls := 0
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			next.ServeHTTP(w, r)
		})
	}
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
		getFn: func(context.Context, string, services.OrderViewer) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	h := NewOrderHandlers(nil, svc, WithOrderIdempotency(mw))

	serveOrderRoutes(h, jsonRequest(http.MethodPost, "/orders", `{}`), nil)
	serveOrderRoutes(h, httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil), customerIdentity("user-1"))

	require.Equal(t, 1, calls, "idempotency middleware wraps create only")
}
