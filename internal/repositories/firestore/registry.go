package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/inkfold/api/internal/platform/firestore"
	"github.com/inkfold/api/internal/repositories"
)

// Registry groups the Firestore-backed repositories behind one provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	audits   *AuditLogRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the order and audit repositories. health may be nil when readiness
// health checks are configured elsewhere.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	audits, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, audits: audits, health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audits }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Ping confirms the orders collection is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx, ordersCollection)
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
