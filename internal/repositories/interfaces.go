package repositories

import (
	"context"

	domain "github.com/inkfold/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation edits the order loaded inside a transaction. The returned audit entry, when
// non-nil, is written in the same transaction as the order. Returning an error aborts the
// transaction and the error reaches the caller without reclassification.
type OrderMutation func(order *domain.Order) (*domain.AuditLogEntry, error)

// OrderRepository persists order documents.
type OrderRepository interface {
	// Insert creates the order together with its creation audit entry. An existing
	// order id yields a RepositoryError with IsConflict.
	Insert(ctx context.Context, order domain.Order, audit *domain.AuditLogEntry) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	// Mutate reads the order, applies fn and writes the result atomically.
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
}

// AuditLogRepository appends and lists audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.Page[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings. Empty fields do not filter.
type OrderListFilter struct {
	UserID         string
	ShippingStatus domain.ShippingStatus
	PaymentStatus  domain.PaymentStatus
	Pagination     domain.PageRequest
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	OrderID    string
	Action     string
	Pagination domain.PageRequest
}
