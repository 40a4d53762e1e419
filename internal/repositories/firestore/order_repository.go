package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/inkfold/api/internal/domain"
	pfirestore "github.com/inkfold/api/internal/platform/firestore"
	"github.com/inkfold/api/internal/repositories"
)

const (
	ordersCollection    = "orders"
	auditLogsCollection = "auditLogs"

	defaultListLimit = 10
)

// OrderRepository stores orders in the "orders" collection and writes their audit entries
// to "auditLogs" inside the same transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	audits   *pfirestore.Collection[auditLogDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		audits:   pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, audit *domain.AuditLogEntry) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.OrderID)
	if orderID == "" {
		return errors.New("order insert: order id is required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Ref(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newOrderDocument(order)); err != nil {
			return err
		}
		return r.createAudit(ctx, tx, audit)
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError("orders.get", repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}
	req := normalizePageRequest(filter.Pagination)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("customer.userId", "==", userID)
		}
		if filter.ShippingStatus != "" {
			q = q.Where("shippingStatus", "==", string(filter.ShippingStatus))
		}
		if filter.PaymentStatus != "" {
			q = q.Where("paymentStatus", "==", string(filter.PaymentStatus))
		}
		return q.OrderBy("createdAt", firestore.Desc).Offset(req.Offset()).Limit(req.Limit + 1)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return paginate(orders, req), nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: mutation is required")
	}
	orderID = strings.TrimSpace(orderID)

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Ref(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.Abort(repositories.NewOrderError("orders.mutate", repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err))
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		order := doc.toDomain(orderID)
		audit, err := fn(&order)
		if err != nil {
			return pfirestore.Abort(err)
		}
		order.OrderID = orderID
		if err := tx.Set(ref, newOrderDocument(order)); err != nil {
			return err
		}
		if err := r.createAudit(ctx, tx, audit); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func (r *OrderRepository) createAudit(ctx context.Context, tx *firestore.Transaction, entry *domain.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit entry id is required")
	}
	ref, err := r.audits.Ref(ctx, id)
	if err != nil {
		return err
	}
	return tx.Create(ref, newAuditLogDocument(*entry))
}

func normalizePageRequest(req domain.PageRequest) domain.PageRequest {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 {
		req.Limit = defaultListLimit
	}
	return req
}

// paginate trims the look-ahead record fetched to detect further pages.
func paginate[T any](items []T, req domain.PageRequest) domain.Page[T] {
	page := domain.Page[T]{Page: req.Page, Limit: req.Limit}
	if len(items) > req.Limit {
		page.HasMore = true
		items = items[:req.Limit]
	}
	page.Items = items
	return page
}

type orderDocument struct {
	Customer           customerDocument        `firestore:"customer"`
	Shipping           shippingDocument        `firestore:"shipping"`
	Items              []orderItemDocument     `firestore:"items"`
	Amount             float64                 `firestore:"amount"`
	Status             string                  `firestore:"status"`
	ShippingStatus     string                  `firestore:"shippingStatus"`
	PaymentStatus      string                  `firestore:"paymentStatus"`
	Payment            *paymentDocument        `firestore:"payment,omitempty"`
	History            []statusHistoryDocument `firestore:"statusHistory,omitempty"`
	CreatedAt          time.Time               `firestore:"createdAt"`
	UpdatedAt          time.Time               `firestore:"updatedAt"`
	CancelledBy        *string                 `firestore:"cancelledBy,omitempty"`
	CancellationReason *string                 `firestore:"cancellationReason,omitempty"`
}

type customerDocument struct {
	Name   string `firestore:"name"`
	Email  string `firestore:"email"`
	Phone  string `firestore:"phone,omitempty"`
	UserID string `firestore:"userId"`
}

type shippingDocument struct {
	Address          string  `firestore:"address"`
	Pincode          string  `firestore:"pincode"`
	Cost             float64 `firestore:"cost"`
	TrackingID       string  `firestore:"trackingId,omitempty"`
	Zone             string  `firestore:"zone,omitempty"`
	DeliveryEstimate string  `firestore:"deliveryEstimate,omitempty"`
	FreeShipping     bool    `firestore:"freeShipping"`
}

type orderItemDocument struct {
	ID       string  `firestore:"id"`
	Name     string  `firestore:"name"`
	Price    float64 `firestore:"price"`
	Quantity int     `firestore:"quantity"`
	Weight   float64 `firestore:"weight"`
}

type paymentDocument struct {
	ID         string     `firestore:"razorpay_payment_id"`
	OrderID    string     `firestore:"razorpay_order_id,omitempty"`
	Verified   bool       `firestore:"verified"`
	VerifiedAt *time.Time `firestore:"verified_at,omitempty"`
}

type statusHistoryDocument struct {
	Field     string    `firestore:"field"`
	From      string    `firestore:"from,omitempty"`
	To        string    `firestore:"to"`
	Actor     string    `firestore:"actor"`
	Note      string    `firestore:"note,omitempty"`
	Timestamp time.Time `firestore:"timestamp"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Customer: customerDocument{
			Name:   order.Customer.Name,
			Email:  order.Customer.Email,
			Phone:  order.Customer.Phone,
			UserID: order.Customer.UserID,
		},
		Shipping: shippingDocument{
			Address:          order.Shipping.Address,
			Pincode:          order.Shipping.Pincode,
			Cost:             order.Shipping.Cost,
			TrackingID:       order.Shipping.TrackingID,
			Zone:             order.Shipping.Zone,
			DeliveryEstimate: order.Shipping.DeliveryEstimate,
			FreeShipping:     order.Shipping.FreeShipping,
		},
		Amount:             order.Amount,
		Status:             string(order.Status),
		ShippingStatus:     string(order.ShippingStatus),
		PaymentStatus:      string(order.PaymentStatus),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		CancelledBy:        order.CancelledBy,
		CancellationReason: order.CancellationReason,
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Weight:   item.Weight,
		})
	}
	for _, entry := range order.History {
		doc.History = append(doc.History, statusHistoryDocument{
			Field:     entry.Field,
			From:      entry.From,
			To:        entry.To,
			Actor:     entry.Actor,
			Note:      entry.Note,
			Timestamp: entry.Timestamp.UTC(),
		})
	}
	if order.Payment != nil {
		doc.Payment = &paymentDocument{
			ID:         order.Payment.ID,
			OrderID:    order.Payment.OrderID,
			Verified:   order.Payment.Verified,
			VerifiedAt: order.Payment.VerifiedAt,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		OrderID: id,
		Customer: domain.Customer{
			Name:   d.Customer.Name,
			Email:  d.Customer.Email,
			Phone:  d.Customer.Phone,
			UserID: d.Customer.UserID,
		},
		Shipping: domain.ShippingDetails{
			Address:          d.Shipping.Address,
			Pincode:          d.Shipping.Pincode,
			Cost:             d.Shipping.Cost,
			TrackingID:       d.Shipping.TrackingID,
			Zone:             d.Shipping.Zone,
			DeliveryEstimate: d.Shipping.DeliveryEstimate,
			FreeShipping:     d.Shipping.FreeShipping,
		},
		Amount:             d.Amount,
		Status:             domain.OrderStatus(d.Status),
		ShippingStatus:     domain.ShippingStatus(d.ShippingStatus),
		PaymentStatus:      domain.PaymentStatus(d.PaymentStatus),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
		CancelledBy:        d.CancelledBy,
		CancellationReason: d.CancellationReason,
	}
	order.Items = make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Weight:   item.Weight,
		})
	}
	for _, entry := range d.History {
		order.History = append(order.History, domain.StatusHistoryEntry{
			Field:     entry.Field,
			From:      entry.From,
			To:        entry.To,
			Actor:     entry.Actor,
			Note:      entry.Note,
			Timestamp: entry.Timestamp.UTC(),
		})
	}
	if d.Payment != nil {
		order.Payment = &domain.Payment{
			ID:         d.Payment.ID,
			OrderID:    d.Payment.OrderID,
			Verified:   d.Payment.Verified,
			VerifiedAt: d.Payment.VerifiedAt,
		}
	}
	return order
}
