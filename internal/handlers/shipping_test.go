package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/inkfold/api/internal/platform/requestctx"
	"github.com/inkfold/api/internal/services"
)

type stubShippingService struct {
	quoteFn func(context.Context, services.ShippingQuoteCommand) (services.ShippingQuote, error)
	calls   []services.ShippingQuoteCommand
}

func (s *stubShippingService) Quote(ctx context.Context, cmd services.ShippingQuoteCommand) (services.ShippingQuote, error) {
	s.calls = append(s.calls, cmd)
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return services.ShippingQuote{
		Pincode:          cmd.Pincode,
		Zone:             "metro",
		Cost:             60,
		BaseCost:         60,
		EstimateMinDays:  2,
		EstimateMaxDays:  3,
		DeliveryEstimate: "2-3 days",
		District:         "Mumbai",
		State:            "Maharashtra",
	}, nil
}

func serveShipping(h *ShippingHandlers, req *http.Request, clientIP string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/shipping", h.Routes)
	if clientIP != "" {
		req = req.WithContext(requestctx.WithClientIP(req.Context(), clientIP))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestShippingHandlersQuoteGet(t *testing.T) {
	svc := &stubShippingService{}
	h := NewShippingHandlers(svc)

	rr := serveShipping(h, httptest.NewRequest(http.MethodGet, "/shipping/quote?pincode=400001&weightKg=1.2&subtotal=250", nil), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []services.ShippingQuoteCommand{{Pincode: "400001", WeightKg: 1.2, Subtotal: 250}}, svc.calls)

	var resp shippingQuoteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "metro", resp.Zone)
	require.Equal(t, 60.0, resp.Cost)
	require.Equal(t, estimatePayload{MinDays: 2, MaxDays: 3}, resp.Estimate)
}

func TestShippingHandlersQuotePost(t *testing.T) {
	svc := &stubShippingService{
		quoteFn: func(_ context.Context, cmd services.ShippingQuoteCommand) (services.ShippingQuote, error) {
			return services.ShippingQuote{
				Pincode:      cmd.Pincode,
				Zone:         "national",
				BaseCost:     120,
				FreeShipping: true,
				BranchOffice: true,
			}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/shipping/quote", strings.NewReader(`{"pincode":"781001","weightKg":0.4,"subtotal":650}`))
	req.Header.Set("Content-Type", "application/json")
	rr := serveShipping(NewShippingHandlers(svc), req, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp shippingQuoteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.FreeShipping)
	require.Zero(t, resp.Cost)
	require.Equal(t, 120.0, resp.BaseCost)
	require.True(t, resp.BranchOffice)
}

func TestShippingHandlersQuoteErrors(t *testing.T) {
	cases := []struct {
		name     string
		target   string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "non numeric weight", target: "/shipping/quote?pincode=400001&weightKg=heavy", wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{name: "invalid pincode", target: "/shipping/quote?pincode=12", err: fmt.Errorf("%w: pincode must be 6 digits", services.ErrShippingInvalidInput), wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{name: "unknown pincode", target: "/shipping/quote?pincode=999999&weightKg=1", err: fmt.Errorf("%w: 999999", services.ErrShippingPincodeNotFound), wantCode: http.StatusNotFound, wantErr: "pincode_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubShippingService{
				quoteFn: func(context.Context, services.ShippingQuoteCommand) (services.ShippingQuote, error) {
					return services.ShippingQuote{}, tc.err
				},
			}
			rr := serveShipping(NewShippingHandlers(svc), httptest.NewRequest(http.MethodGet, tc.target, nil), "")
			require.Equal(t, tc.wantCode, rr.Code, rr.Body.String())
			require.Equal(t, tc.wantErr, decodeErrorCode(t, rr))
		})
	}
}

func TestShippingHandlersQuoteRateLimited(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := &stubShippingService{}
	h := NewShippingHandlers(svc, WithQuoteRateLimit(2, clock))

	for i := range 2 {
		rr := serveShipping(h, httptest.NewRequest(http.MethodGet, "/shipping/quote?pincode=400001", nil), "203.0.113.7")
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}

	now = now.Add(20 * time.Second)
	rr := serveShipping(h, httptest.NewRequest(http.MethodGet, "/shipping/quote?pincode=400001", nil), "203.0.113.7")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "40", rr.Header().Get("Retry-After"))
	require.Equal(t, "rate_limited", decodeErrorCode(t, rr))

	other := serveShipping(h, httptest.NewRequest(http.MethodGet, "/shipping/quote?pincode=400001", nil), "198.51.100.2")
	require.Equal(t, http.StatusOK, other.Code, "other clients keep their own window")
	require.Len(t, svc.calls, 3, "limited request skips the service")
}

func TestShippingHandlersServiceUnavailable(t *testing.T) {
	rr := serveShipping(NewShippingHandlers(nil), httptest.NewRequest(http.MethodGet, "/shipping/quote?pincode=400001", nil), "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
