package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/platform/requestctx"
	"github.com/inkfold/api/internal/services"
)

const maxQuoteBodySize = 2 * 1024

type shippingQuoteRequest struct {
	Pincode  string  `json:"pincode"`
	WeightKg float64 `json:"weightKg"`
	Subtotal float64 `json:"subtotal"`
}

// ShippingHandlers serves shipping quotes to the storefront.
type ShippingHandlers struct {
	shipping services.ShippingService
	limiter  rateLimiter
}

// ShippingHandlerOption customises ShippingHandlers.
type ShippingHandlerOption func(*ShippingHandlers)

// WithQuoteRateLimit caps quotes per client IP per minute.
func WithQuoteRateLimit(perMinute int, clock func() time.Time) ShippingHandlerOption {
	return func(h *ShippingHandlers) {
		h.limiter = newSimpleRateLimiter(perMinute, time.Minute, clock)
	}
}

// NewShippingHandlers constructs the quote endpoints.
func NewShippingHandlers(shipping services.ShippingService, opts ...ShippingHandlerOption) *ShippingHandlers {
	h := &ShippingHandlers{shipping: shipping}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /shipping endpoints.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/quote", h.quote)
	r.Post("/quote", h.quote)
}

func (h *ShippingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil {
		if ok, wait := h.limiter.Allow(requestctx.ClientIP(ctx)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quote requests", http.StatusTooManyRequests))
			return
		}
	}

	var req shippingQuoteRequest
	if r.Method == http.MethodPost {
		if !decodeJSONBody(w, r, maxQuoteBodySize, &req) {
			return
		}
	} else {
		query := r.URL.Query()
		req.Pincode = query.Get("pincode")
		var ok bool
		if req.WeightKg, ok = parseFloatParam(w, r, query.Get("weightKg"), "weightKg"); !ok {
			return
		}
		if req.Subtotal, ok = parseFloatParam(w, r, query.Get("subtotal"), "subtotal"); !ok {
			return
		}
	}

	quote, err := h.shipping.Quote(ctx, services.ShippingQuoteCommand{
		Pincode:  req.Pincode,
		WeightKg: req.WeightKg,
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, shippingQuoteResponse{
		Pincode:          quote.Pincode,
		Zone:             quote.Zone,
		Cost:             quote.Cost,
		BaseCost:         quote.BaseCost,
		FreeShipping:     quote.FreeShipping,
		DeliveryEstimate: quote.DeliveryEstimate,
		Estimate:         estimatePayload{MinDays: quote.EstimateMinDays, MaxDays: quote.EstimateMaxDays},
		District:         quote.District,
		State:            quote.State,
		BranchOffice:     quote.BranchOffice,
	})
}

func parseFloatParam(w http.ResponseWriter, r *http.Request, raw, name string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", name+" must be a number", http.StatusBadRequest))
		return 0, false
	}
	return value, true
}

type shippingQuoteResponse struct {
	Pincode          string          `json:"pincode"`
	Zone             string          `json:"zone"`
	Cost             float64         `json:"cost"`
	BaseCost         float64         `json:"baseCost"`
	FreeShipping     bool            `json:"freeShipping"`
	DeliveryEstimate string          `json:"deliveryEstimate"`
	Estimate         estimatePayload `json:"estimate"`
	District         string          `json:"district,omitempty"`
	State            string          `json:"state,omitempty"`
	BranchOffice     bool            `json:"branchOffice"`
}

type estimatePayload struct {
	MinDays int `json:"minDays"`
	MaxDays int `json:"maxDays"`
}
