// Package shipping classifies shipments into rate zones and prices them from a static rate card.
package shipping

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrInvalidInput signals a malformed pincode or a non-positive weight.
	ErrInvalidInput = errors.New("shipping: invalid input")
	// ErrPincodeNotFound signals that the destination is absent from the directory.
	ErrPincodeNotFound = errors.New("shipping: pincode not in database")

	// ErrInvalidPincode and ErrInvalidWeight narrow ErrInvalidInput to one field.
	ErrInvalidPincode = fmt.Errorf("%w: pincode must be exactly 6 digits", ErrInvalidInput)
	ErrInvalidWeight  = fmt.Errorf("%w: weight must be a positive number", ErrInvalidInput)
)

var (
	band1Start    = decimal.NewFromInt(2)
	band2Start    = decimal.NewFromInt(5)
	band1MaxSteps = band2Start.Sub(band1Start)
)

// Quote is the priced result for one shipment.
type Quote struct {
	Zone         Zone
	Cost         float64
	Estimate     EstimateDays
	District     string
	State        string
	BranchOffice bool
}

// Config is the immutable engine configuration. Zero values fall back to the defaults.
type Config struct {
	Rates RateTable
	Zones *ZoneConfig
}

// Engine computes shipping quotes. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	directory Directory
	rates     RateTable
	zones     zoneSets
}

// NewEngine validates the configuration and returns a ready engine.
func NewEngine(directory Directory, cfg Config) (*Engine, error) {
	if directory == nil {
		return nil, errors.New("shipping: directory is required")
	}

	rates := cfg.Rates
	if rates == nil {
		rates = DefaultRateTable()
	}
	if err := rates.validate(); err != nil {
		return nil, err
	}

	zoneCfg := DefaultZoneConfig()
	if cfg.Zones != nil {
		zoneCfg = *cfg.Zones
	}
	zones, err := compileZoneConfig(zoneCfg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		directory: directory,
		rates:     rates.clone(),
		zones:     zones,
	}, nil
}

// Compute classifies the destination and prices the shipment.
func (e *Engine) Compute(pincode string, weightKg float64, senderDistrict, senderState string) (Quote, error) {
	pincode = strings.TrimSpace(pincode)
	if !validPincode(pincode) {
		return Quote{}, ErrInvalidPincode
	}
	if math.IsNaN(weightKg) || math.IsInf(weightKg, 0) || weightKg <= 0 {
		return Quote{}, ErrInvalidWeight
	}

	record, ok := e.directory.Lookup(pincode)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPincodeNotFound, pincode)
	}

	zone := e.classify(pincode, record, normalizeRegion(senderDistrict), normalizeRegion(senderState))
	rate := e.rates[zone]

	estimate := e.zones.estimates[zone]
	if record.BranchOffice() {
		estimate = estimate.Add(1)
	}

	return Quote{
		Zone:         zone,
		Cost:         cost(rate, weightKg),
		Estimate:     estimate,
		District:     record.District,
		State:        record.State,
		BranchOffice: record.BranchOffice(),
	}, nil
}

// Rate returns the configured rate record for zone.
func (e *Engine) Rate(zone Zone) (Rate, bool) {
	rate, ok := e.rates[zone]
	return rate, ok
}

func (e *Engine) classify(pincode string, dest PincodeRecord, senderDistrict, senderState string) Zone {
	destDistrict := normalizeRegion(dest.District)
	destState := normalizeRegion(dest.State)

	switch {
	case senderDistrict != "" && destDistrict == senderDistrict && destState == senderState:
		return ZoneLocal
	case hasAnyPrefix(pincode, e.zones.ncr):
		return ZoneNCR
	case hasAnyPrefix(pincode, e.zones.metro):
		return ZoneMetro
	case senderState != "" && destState == senderState:
		return ZoneWithinState
	}
	if _, ok := e.zones.neighbouring[destState]; ok {
		return ZoneNeighbouringState
	}
	return ZoneOtherStates
}

// cost applies the band surcharges to every started kg above 2 kg, split at 5 kg.
func cost(rate Rate, weightKg float64) float64 {
	weight := decimal.NewFromFloat(weightKg)
	total := decimal.NewFromFloat(rate.Base)
	band1 := decimal.NewFromFloat(rate.PerKgBand1)
	band2 := decimal.NewFromFloat(rate.PerKgBand2)

	switch {
	case weight.LessThanOrEqual(band1Start):
	case weight.LessThanOrEqual(band2Start):
		total = total.Add(weight.Sub(band1Start).Ceil().Mul(band1))
	default:
		total = total.Add(band1MaxSteps.Mul(band1))
		total = total.Add(weight.Sub(band2Start).Ceil().Mul(band2))
	}
	return total.Round(2).InexactFloat64()
}

func validPincode(pincode string) bool {
	if len(pincode) != 6 {
		return false
	}
	for i := 0; i < len(pincode); i++ {
		if pincode[i] < '0' || pincode[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeRegion builds a fresh caser per call; cases.Caser is not safe for concurrent use.
func normalizeRegion(value string) string {
	return collapseSpaces(cases.Upper(language.Und).String(strings.TrimSpace(value)))
}
