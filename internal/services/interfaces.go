package services

import (
	"context"
	"time"

	domain "github.com/inkfold/api/internal/domain"
)

// OrderService coordinates the order lifecycle: creation, reads, admin edits,
// customer cancellation and payment confirmation.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string, viewer OrderViewer) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	Patch(ctx context.Context, cmd PatchOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error)
}

// ShippingService prices shipments and applies the free-shipping rule.
type ShippingService interface {
	Quote(ctx context.Context, cmd ShippingQuoteCommand) (ShippingQuote, error)
}

// AuditLogService records and lists audit entries.
type AuditLogService interface {
	// Build sanitises the record into an entry without persisting it, for callers that
	// write the entry inside their own transaction.
	Build(record AuditLogRecord) AuditLogEntry
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.Page[AuditLogEntry], error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// PaymentVerifier checks the gateway signature returned after checkout.
type PaymentVerifier interface {
	VerifyPayment(gatewayOrderID, paymentID, signature string) error
}

// OrderMetrics receives one observation per order operation.
type OrderMetrics interface {
	ObserveOrderOperation(operation, outcome string)
}

// ShippingMetrics receives one observation per quote.
type ShippingMetrics interface {
	ObserveShippingQuote(zone string, cached bool)
}

type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
)

// RequestMetadata carries caller details copied onto audit entries.
type RequestMetadata struct {
	IPAddress string
	RequestID string
	UserAgent string
}

// OrderViewer identifies who is reading or mutating an order. An empty UserID is an
// anonymous caller.
type OrderViewer struct {
	UserID string
	Admin  bool
}

// CreateOrderCommand is the checkout payload. Amount is accepted for compatibility and
// always recomputed.
type CreateOrderCommand struct {
	Customer CreateOrderCustomer `json:"customer" validate:"required"`
	Shipping CreateOrderShipping `json:"shipping" validate:"required"`
	Items    []CreateOrderItem   `json:"items" validate:"min=1,dive"`
	Amount   *float64            `json:"amount,omitempty"`

	UserID   string          `json:"-"`
	Metadata RequestMetadata `json:"-"`
}

type CreateOrderCustomer struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,max=20"`
}

type CreateOrderShipping struct {
	Address string `json:"address" validate:"required"`
	Pincode string `json:"pincode" validate:"required,pincode"`
}

type CreateOrderItem struct {
	ID       string  `json:"id" validate:"required,max=64"`
	Name     string  `json:"name" validate:"required,max=200"`
	Price    float64 `json:"price" validate:"gte=0"`
	Quantity int     `json:"quantity" validate:"min=1,max=10"`
	Weight   float64 `json:"weight" validate:"gte=0"`
}

// OrderListFilter narrows order listings. Non-admin viewers only ever see their own orders.
type OrderListFilter struct {
	Viewer OrderViewer
	UserID string
	Status string
	Page   int
	Limit  int
}

// PatchOrderCommand is an administrative edit. Status names either a shipping or a payment
// status; ExpectedStatus guards against concurrent edits on the same axis.
type PatchOrderCommand struct {
	OrderID        string
	Status         *string
	TrackingID     *string
	ExpectedStatus *string
	Note           string
	ActorID        string
	Metadata       RequestMetadata
}

// CancelOrderCommand is a customer cancellation.
type CancelOrderCommand struct {
	OrderID  string
	Reason   string
	Viewer   OrderViewer
	Metadata RequestMetadata
}

// MarkPaidCommand records a gateway payment against an order.
type MarkPaidCommand struct {
	OrderID        string
	PaymentID      string
	GatewayOrderID string
	Signature      string
	// Verified marks payments already authenticated upstream, such as signed webhooks.
	Verified bool
	Viewer   OrderViewer
	Metadata RequestMetadata
}

// ShippingQuoteCommand asks for the price of a parcel.
type ShippingQuoteCommand struct {
	Pincode  string
	WeightKg float64
	Subtotal float64
}

// ShippingQuote is a priced shipment after the free-shipping rule.
type ShippingQuote struct {
	Pincode          string
	Zone             string
	Cost             float64
	BaseCost         float64
	FreeShipping     bool
	EstimateMinDays  int
	EstimateMaxDays  int
	DeliveryEstimate string
	District         string
	State            string
	BranchOffice     bool
	Cached           bool
}

// AuditLogRecord is the input for a single audit entry.
type AuditLogRecord struct {
	Action                 string
	OrderID                string
	Actor                  string
	PreviousShippingStatus domain.ShippingStatus
	NewShippingStatus      domain.ShippingStatus
	PreviousPaymentStatus  domain.PaymentStatus
	NewPaymentStatus       domain.PaymentStatus
	Reason                 string
	Metadata               RequestMetadata
	OccurredAt             time.Time
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	OrderID string
	Action  string
	Page    int
	Limit   int
}
