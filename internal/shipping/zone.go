package shipping

import (
	"fmt"
	"strings"
)

// Zone is a shipping-rate classification bucket.
type Zone string

const (
	ZoneLocal             Zone = "local"
	ZoneNCR               Zone = "ncr"
	ZoneMetro             Zone = "metro"
	ZoneWithinState       Zone = "withinState"
	ZoneNeighbouringState Zone = "neighbouringState"
	ZoneOtherStates       Zone = "otherStates"
)

// Zones lists every zone in precedence order.
var Zones = []Zone{ZoneLocal, ZoneNCR, ZoneMetro, ZoneWithinState, ZoneNeighbouringState, ZoneOtherStates}

// Rate holds the base charge and the per-kg surcharges for one zone.
// Band 1 applies to each started kg between 2 and 5 kg, band 2 beyond 5 kg.
type Rate struct {
	Base       float64
	PerKgBand1 float64
	PerKgBand2 float64
}

// RateTable maps every zone to its rate record.
type RateTable map[Zone]Rate

// EstimateDays is an inclusive delivery window in days.
type EstimateDays struct {
	Min int
	Max int
}

// Add shifts both bounds by days.
func (e EstimateDays) Add(days int) EstimateDays {
	return EstimateDays{Min: e.Min + days, Max: e.Max + days}
}

func (e EstimateDays) String() string {
	if e.Min == e.Max {
		if e.Min == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", e.Min)
	}
	return fmt.Sprintf("%d-%d days", e.Min, e.Max)
}

// ZoneConfig carries the classification sets and per-zone delivery estimates.
type ZoneConfig struct {
	NCRPrefixes        []string
	MetroPrefixes      []string
	NeighbouringStates []string
	Estimates          map[Zone]EstimateDays
}

// DefaultRateTable returns the India Post style rate card in rupees.
func DefaultRateTable() RateTable {
	return RateTable{
		ZoneLocal:             {Base: 40, PerKgBand1: 15, PerKgBand2: 10},
		ZoneNCR:               {Base: 60, PerKgBand1: 20, PerKgBand2: 15},
		ZoneMetro:             {Base: 70, PerKgBand1: 25, PerKgBand2: 20},
		ZoneWithinState:       {Base: 55, PerKgBand1: 20, PerKgBand2: 15},
		ZoneNeighbouringState: {Base: 75, PerKgBand1: 25, PerKgBand2: 20},
		ZoneOtherStates:       {Base: 90, PerKgBand1: 30, PerKgBand2: 25},
	}
}

// DefaultZoneConfig returns the classification sets for a sender in Uttar Pradesh.
func DefaultZoneConfig() ZoneConfig {
	return ZoneConfig{
		NCRPrefixes:   []string{"110", "121", "122", "201"},
		MetroPrefixes: []string{"400", "411", "500", "560", "600", "700", "380"},
		NeighbouringStates: []string{
			"BIHAR",
			"CHHATTISGARH",
			"DELHI",
			"HARYANA",
			"HIMACHAL PRADESH",
			"JHARKHAND",
			"MADHYA PRADESH",
			"RAJASTHAN",
			"UTTARAKHAND",
		},
		Estimates: map[Zone]EstimateDays{
			ZoneLocal:             {Min: 1, Max: 2},
			ZoneNCR:               {Min: 2, Max: 3},
			ZoneMetro:             {Min: 3, Max: 5},
			ZoneWithinState:       {Min: 2, Max: 4},
			ZoneNeighbouringState: {Min: 3, Max: 5},
			ZoneOtherStates:       {Min: 5, Max: 7},
		},
	}
}

func (t RateTable) clone() RateTable {
	out := make(RateTable, len(t))
	for zone, rate := range t {
		out[zone] = rate
	}
	return out
}

func (t RateTable) validate() error {
	for _, zone := range Zones {
		rate, ok := t[zone]
		if !ok {
			return fmt.Errorf("shipping: rate table missing zone %q", zone)
		}
		if rate.Base < 0 || rate.PerKgBand1 < 0 || rate.PerKgBand2 < 0 {
			return fmt.Errorf("shipping: rate for zone %q must not be negative", zone)
		}
	}
	return nil
}

type zoneSets struct {
	ncr          []string
	metro        []string
	neighbouring map[string]struct{}
	estimates    map[Zone]EstimateDays
}

func compileZoneConfig(cfg ZoneConfig) (zoneSets, error) {
	sets := zoneSets{
		ncr:          normalizePrefixes(cfg.NCRPrefixes),
		metro:        normalizePrefixes(cfg.MetroPrefixes),
		neighbouring: make(map[string]struct{}, len(cfg.NeighbouringStates)),
		estimates:    make(map[Zone]EstimateDays, len(Zones)),
	}
	for _, state := range cfg.NeighbouringStates {
		if key := normalizeRegion(state); key != "" {
			sets.neighbouring[key] = struct{}{}
		}
	}
	for _, zone := range Zones {
		estimate, ok := cfg.Estimates[zone]
		if !ok {
			return zoneSets{}, fmt.Errorf("shipping: delivery estimate missing for zone %q", zone)
		}
		if estimate.Min <= 0 || estimate.Max < estimate.Min {
			return zoneSets{}, fmt.Errorf("shipping: invalid delivery estimate for zone %q", zone)
		}
		sets.estimates[zone] = estimate
	}
	return sets, nil
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hasAnyPrefix(pincode string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(pincode, prefix) {
			return true
		}
	}
	return false
}
