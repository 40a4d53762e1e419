package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is used when the client omits limit.
	DefaultLimit = 10
	// MaxLimit caps limit; larger values are clamped rather than rejected.
	MaxLimit = 50
	// MaxOffset caps (page-1)*limit; deeper pages are rejected.
	MaxOffset = 10000

	maxFilterValueLength = 128
)

// Params bundles page-based pagination and equality filters extracted from a request.
type Params struct {
	Page    int
	Limit   int
	Filters map[string]string
}

// Offset returns the number of records to skip for the current page.
func (p Params) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Filter returns the named filter value, or "" when absent.
func (p Params) Filter(name string) string {
	return p.Filters[name]
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// AllowedFilters lists query parameters copied into Params.Filters. Anything
	// else in the query string is ignored.
	AllowedFilters []string
}

var (
	ErrInvalidPage   = errors.New("pagination: invalid page")
	ErrInvalidLimit  = errors.New("pagination: invalid limit")
	ErrInvalidFilter = errors.New("pagination: invalid filter")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	page, err := parsePage(values.Get("page"))
	if err != nil {
		return Params{}, err
	}
	limit, err := parseLimit(values.Get("limit"), opts)
	if err != nil {
		return Params{}, err
	}
	if page-1 > MaxOffset/limit {
		return Params{}, fmt.Errorf("%w: page %d starts beyond %d records", ErrInvalidPage, page, MaxOffset)
	}

	params := Params{Page: page, Limit: limit}
	for _, name := range opts.AllowedFilters {
		raw, ok := values[name]
		if !ok || len(raw) == 0 {
			continue
		}
		value := sanitizeFilterValue(raw[0])
		if value == "" {
			continue
		}
		if !isSafeFilterValue(value) {
			return Params{}, fmt.Errorf("%w: %s contains unsupported characters", ErrInvalidFilter, name)
		}
		if params.Filters == nil {
			params.Filters = make(map[string]string, len(opts.AllowedFilters))
		}
		params.Filters[name] = value
	}
	return params, nil
}

func parsePage(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPage)
	}
	if value < 1 {
		return 0, fmt.Errorf("%w: must be at least 1", ErrInvalidPage)
	}
	return value, nil
}

func parseLimit(raw string, opts Options) (int, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 || maxLimit > MaxLimit {
		maxLimit = MaxLimit
	}
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultLimit, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidLimit)
	}
	if value < 1 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidLimit)
	}
	if value > maxLimit {
		value = maxLimit
	}
	return value, nil
}

func sanitizeFilterValue(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"'")
	value = strings.TrimSpace(value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}

// isSafeFilterValue accepts ids, enum values and the "shipped/in_transit" alias.
func isSafeFilterValue(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == '/' || r == '@' || r == ':':
		default:
			return false
		}
	}
	return true
}
