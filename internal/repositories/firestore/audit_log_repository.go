package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/inkfold/api/internal/domain"
	pfirestore "github.com/inkfold/api/internal/platform/firestore"
	"github.com/inkfold/api/internal/repositories"
)

// AuditLogRepository appends standalone audit entries such as rejected webhooks. Entries tied
// to an order mutation are written by OrderRepository within its transaction.
type AuditLogRepository struct {
	base *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		base: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection),
	}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.base == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit log append: id is required")
	}
	return r.base.Set(ctx, entry.ID, newAuditLogDocument(entry))
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.Page[domain.AuditLogEntry], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}
	req := normalizePageRequest(filter.Pagination)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
			q = q.Where("orderId", "==", orderID)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			q = q.Where("action", "==", action)
		}
		return q.OrderBy("timestamp", firestore.Desc).Offset(req.Offset()).Limit(req.Limit + 1)
	})
	if err != nil {
		return domain.Page[domain.AuditLogEntry]{}, err
	}

	entries := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return paginate(entries, req), nil
}

type auditLogDocument struct {
	Action                 string    `firestore:"action"`
	OrderID                string    `firestore:"orderId,omitempty"`
	PerformedBy            string    `firestore:"performedBy"`
	Timestamp              time.Time `firestore:"timestamp"`
	PreviousShippingStatus string    `firestore:"previousShippingStatus,omitempty"`
	NewShippingStatus      string    `firestore:"newShippingStatus,omitempty"`
	PreviousPaymentStatus  string    `firestore:"previousPaymentStatus,omitempty"`
	NewPaymentStatus       string    `firestore:"newPaymentStatus,omitempty"`
	Reason                 string    `firestore:"reason,omitempty"`
	IPAddress              string    `firestore:"ipAddress,omitempty"`
	RequestID              string    `firestore:"requestId,omitempty"`
	UserAgent              string    `firestore:"userAgent,omitempty"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		Action:                 entry.Action,
		OrderID:                entry.OrderID,
		PerformedBy:            entry.PerformedBy,
		Timestamp:              entry.Timestamp.UTC(),
		PreviousShippingStatus: string(entry.PreviousShippingStatus),
		NewShippingStatus:      string(entry.NewShippingStatus),
		PreviousPaymentStatus:  string(entry.PreviousPaymentStatus),
		NewPaymentStatus:       string(entry.NewPaymentStatus),
		Reason:                 entry.Reason,
		IPAddress:              entry.IPAddress,
		RequestID:              entry.RequestID,
		UserAgent:              entry.UserAgent,
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:                     id,
		Action:                 d.Action,
		OrderID:                d.OrderID,
		PerformedBy:            d.PerformedBy,
		Timestamp:              d.Timestamp.UTC(),
		PreviousShippingStatus: domain.ShippingStatus(d.PreviousShippingStatus),
		NewShippingStatus:      domain.ShippingStatus(d.NewShippingStatus),
		PreviousPaymentStatus:  domain.PaymentStatus(d.PreviousPaymentStatus),
		NewPaymentStatus:       domain.PaymentStatus(d.NewPaymentStatus),
		Reason:                 d.Reason,
		IPAddress:              d.IPAddress,
		RequestID:              d.RequestID,
		UserAgent:              d.UserAgent,
	}
}
