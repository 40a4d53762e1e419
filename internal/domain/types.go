package domain

import (
	"time"
)

// Page packages offset-paginated list results.
type Page[T any] struct {
	Items   []T
	Page    int
	Limit   int
	HasMore bool
}

// MaxPageOffset bounds how many records a list request may skip.
const MaxPageOffset = 10000

// PageRequest captures 1-based page/limit inputs for list operations.
type PageRequest struct {
	Page  int
	Limit int
}

// ExceedsMaxOffset reports whether the page starts beyond MaxPageOffset.
func (p PageRequest) ExceedsMaxOffset() bool {
	if p.Page <= 1 || p.Limit <= 0 {
		return false
	}
	return p.Page-1 > MaxPageOffset/p.Limit
}

// Offset returns the number of records skipped before the requested page,
// saturating at MaxPageOffset.
func (p PageRequest) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.ExceedsMaxOffset() {
		return MaxPageOffset
	}
	return (p.Page - 1) * p.Limit
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Audit actions recorded for order mutations.
const (
	AuditActionOrderCreated       = "order.created"
	AuditActionOrderMarkedPaid    = "order.marked_paid"
	AuditActionOrderStatusUpdated = "order.status_updated"
	AuditActionOrderCancelled     = "order.cancelled"
	AuditActionWebhookRejected    = "webhook.rejected"
)

// AuditLogEntry is an append-only record of a state-mutating action.
type AuditLogEntry struct {
	ID                     string
	Action                 string
	OrderID                string
	PerformedBy            string
	Timestamp              time.Time
	PreviousShippingStatus ShippingStatus
	NewShippingStatus      ShippingStatus
	PreviousPaymentStatus  PaymentStatus
	NewPaymentStatus       PaymentStatus
	Reason                 string
	IPAddress              string
	RequestID              string
	UserAgent              string
}
