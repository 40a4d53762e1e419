package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/inkfold/api/internal/platform/cache"
	"github.com/inkfold/api/internal/shipping"
)

var (
	// ErrShippingInvalidInput signals a malformed pincode or weight.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrShippingInvalidWeight narrows ErrShippingInvalidInput to the parcel weight.
	ErrShippingInvalidWeight = fmt.Errorf("%w: weight must be a positive number", ErrShippingInvalidInput)
	// ErrShippingPincodeNotFound signals an unserviceable destination.
	ErrShippingPincodeNotFound = errors.New("shipping: pincode not found")
)

const quoteCacheKeyPrefix = "quote:"

// ShippingServiceDeps bundles collaborators for the shipping quote service.
type ShippingServiceDeps struct {
	Engine                *shipping.Engine
	SenderDistrict        string
	SenderState           string
	FreeShippingThreshold float64
	Cache                 cache.Cache
	CacheTTL              time.Duration
	Metrics               ShippingMetrics
	Logger                func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	engine         *shipping.Engine
	senderDistrict string
	senderState    string
	freeOver       float64
	cache          cache.Cache
	cacheTTL       time.Duration
	metrics        ShippingMetrics
	logger         func(context.Context, string, map[string]any)
}

var _ ShippingService = (*shippingService)(nil)

// NewShippingService wires the rate engine with caching and the free-shipping rule.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Engine == nil {
		return nil, errors.New("shipping service: engine is required")
	}
	if strings.TrimSpace(deps.SenderDistrict) == "" || strings.TrimSpace(deps.SenderState) == "" {
		return nil, errors.New("shipping service: sender district and state are required")
	}
	if deps.FreeShippingThreshold < 0 {
		return nil, errors.New("shipping service: free shipping threshold must be >= 0")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &shippingService{
		engine:         deps.Engine,
		senderDistrict: deps.SenderDistrict,
		senderState:    deps.SenderState,
		freeOver:       deps.FreeShippingThreshold,
		cache:          deps.Cache,
		cacheTTL:       deps.CacheTTL,
		metrics:        deps.Metrics,
		logger:         logger,
	}, nil
}

func (s *shippingService) Quote(ctx context.Context, cmd ShippingQuoteCommand) (ShippingQuote, error) {
	pincode := strings.TrimSpace(cmd.Pincode)
	if math.IsNaN(cmd.Subtotal) || math.IsInf(cmd.Subtotal, 0) || cmd.Subtotal < 0 {
		return ShippingQuote{}, fmt.Errorf("%w: subtotal must be a non-negative number", ErrShippingInvalidInput)
	}

	quote, cached, err := s.compute(ctx, pincode, cmd.WeightKg)
	if err != nil {
		return ShippingQuote{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveShippingQuote(quote.Zone, cached)
	}

	quote.Cached = cached
	quote.BaseCost = quote.Cost
	if cmd.Subtotal > s.freeOver {
		quote.Cost = 0
		quote.FreeShipping = true
	}
	return quote, nil
}

// compute returns the engine quote for the parcel, served from the cache when possible.
// Cache failures only cost a recomputation.
func (s *shippingService) compute(ctx context.Context, pincode string, weightKg float64) (ShippingQuote, bool, error) {
	key := ""
	if s.cache != nil && weightKg > 0 && !math.IsInf(weightKg, 0) {
		key = quoteCacheKeyPrefix + pincode + ":" + strconv.FormatFloat(weightKg, 'g', -1, 64)
	}
	if key != "" {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var quote ShippingQuote
			if err := json.Unmarshal(raw, &quote); err == nil {
				return quote, true, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger(ctx, "shipping.quote.cache.read_failed", map[string]any{"key": key, "error": err.Error()})
		}
	}

	result, err := s.engine.Compute(pincode, weightKg, s.senderDistrict, s.senderState)
	if err != nil {
		switch {
		case errors.Is(err, shipping.ErrInvalidWeight):
			return ShippingQuote{}, false, ErrShippingInvalidWeight
		case errors.Is(err, shipping.ErrInvalidInput):
			return ShippingQuote{}, false, fmt.Errorf("%w: %v", ErrShippingInvalidInput, err)
		case errors.Is(err, shipping.ErrPincodeNotFound):
			return ShippingQuote{}, false, fmt.Errorf("%w: %v", ErrShippingPincodeNotFound, err)
		}
		return ShippingQuote{}, false, err
	}

	quote := ShippingQuote{
		Pincode:          pincode,
		Zone:             string(result.Zone),
		Cost:             result.Cost,
		EstimateMinDays:  result.Estimate.Min,
		EstimateMaxDays:  result.Estimate.Max,
		DeliveryEstimate: result.Estimate.String(),
		District:         result.District,
		State:            result.State,
		BranchOffice:     result.BranchOffice,
	}

	if key != "" {
		if raw, err := json.Marshal(quote); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.logger(ctx, "shipping.quote.cache.write_failed", map[string]any{"key": key, "error": err.Error()})
			}
		}
	}
	return quote, false, nil
}
