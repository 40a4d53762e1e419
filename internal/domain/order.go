package domain

import (
	"strings"
	"time"
)

// GuestUserID marks orders placed without a verified identity.
const GuestUserID = "guest"

// OrderStatus is the coarse label shown to customers alongside the two status axes.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

// ShippingStatus tracks physical fulfilment independent of payment.
type ShippingStatus string

const (
	ShippingStatusNotDispatched  ShippingStatus = "not_dispatched"
	ShippingStatusProcessing     ShippingStatus = "processing"
	ShippingStatusShipped        ShippingStatus = "shipped"
	ShippingStatusInTransit      ShippingStatus = "in_transit"
	ShippingStatusOutForDelivery ShippingStatus = "out_for_delivery"
	ShippingStatusDelivered      ShippingStatus = "delivered"
	ShippingStatusCancelled      ShippingStatus = "cancelled"
)

// PaymentStatus tracks monetary settlement.
type PaymentStatus string

const (
	PaymentStatusUnpaid          PaymentStatus = "unpaid"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusRefundInitiated PaymentStatus = "refund_initiated"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

var shippingStatuses = map[string]ShippingStatus{
	string(ShippingStatusNotDispatched):  ShippingStatusNotDispatched,
	string(ShippingStatusProcessing):     ShippingStatusProcessing,
	string(ShippingStatusShipped):        ShippingStatusShipped,
	string(ShippingStatusInTransit):      ShippingStatusInTransit,
	"shipped/in_transit":                 ShippingStatusShipped,
	string(ShippingStatusOutForDelivery): ShippingStatusOutForDelivery,
	string(ShippingStatusDelivered):      ShippingStatusDelivered,
	string(ShippingStatusCancelled):      ShippingStatusCancelled,
}

var paymentStatuses = map[string]PaymentStatus{
	string(PaymentStatusUnpaid):          PaymentStatusUnpaid,
	string(PaymentStatusPaid):            PaymentStatusPaid,
	string(PaymentStatusRefundInitiated): PaymentStatusRefundInitiated,
	string(PaymentStatusRefunded):        PaymentStatusRefunded,
}

// ParseShippingStatus normalises raw input into a known shipping status.
func ParseShippingStatus(raw string) (ShippingStatus, bool) {
	status, ok := shippingStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return status, ok
}

// ParsePaymentStatus normalises raw input into a known payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	status, ok := paymentStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return status, ok
}

// IsTerminal reports whether no further shipping transition is permitted.
func (s ShippingStatus) IsTerminal() bool {
	return s == ShippingStatusDelivered || s == ShippingStatusCancelled
}

// DeriveOrderStatus maps the two status axes onto the coarse order label.
func DeriveOrderStatus(shipping ShippingStatus, payment PaymentStatus) OrderStatus {
	switch {
	case shipping == ShippingStatusCancelled:
		return OrderStatusCancelled
	case shipping == ShippingStatusDelivered:
		return OrderStatusCompleted
	case payment == PaymentStatusPaid:
		return OrderStatusConfirmed
	default:
		return OrderStatusPending
	}
}

// Customer identifies the buyer. UserID is the owner reference used for authorisation.
type Customer struct {
	Name   string
	Email  string
	Phone  string
	UserID string
}

// ShippingDetails captures the destination and the server-computed shipping charge.
type ShippingDetails struct {
	Address          string
	Pincode          string
	Cost             float64
	TrackingID       string
	Zone             string
	DeliveryEstimate string
	FreeShipping     bool
}

// OrderItem is a purchased line.
type OrderItem struct {
	ID       string
	Name     string
	Price    float64
	Quantity int
	Weight   float64
}

// Payment records the gateway confirmation.
type Payment struct {
	ID         string
	OrderID    string
	Verified   bool
	VerifiedAt *time.Time
}

// StatusHistoryEntry records a before/after change on one of the status axes.
type StatusHistoryEntry struct {
	Field     string
	From      string
	To        string
	Actor     string
	Note      string
	Timestamp time.Time
}

// Order is the persisted order document.
type Order struct {
	OrderID            string
	Customer           Customer
	Shipping           ShippingDetails
	Items              []OrderItem
	Amount             float64
	Status             OrderStatus
	ShippingStatus     ShippingStatus
	PaymentStatus      PaymentStatus
	Payment            *Payment
	History            []StatusHistoryEntry
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledBy        *string
	CancellationReason *string
}

// IsTerminal reports whether the order reached delivered or cancelled.
func (o Order) IsTerminal() bool {
	return o.ShippingStatus.IsTerminal()
}

// CanCancel reports whether a customer cancellation is currently permitted.
func (o Order) CanCancel() bool {
	return o.PaymentStatus == PaymentStatusPaid && o.ShippingStatus == ShippingStatusNotDispatched
}

// Clone returns a deep copy so mutations never leak into shared snapshots.
func (o Order) Clone() Order {
	cloned := o
	if o.Items != nil {
		cloned.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.History != nil {
		cloned.History = append([]StatusHistoryEntry(nil), o.History...)
	}
	if o.Payment != nil {
		payment := *o.Payment
		if o.Payment.VerifiedAt != nil {
			at := *o.Payment.VerifiedAt
			payment.VerifiedAt = &at
		}
		cloned.Payment = &payment
	}
	if o.CancelledBy != nil {
		by := *o.CancelledBy
		cloned.CancelledBy = &by
	}
	if o.CancellationReason != nil {
		reason := *o.CancellationReason
		cloned.CancellationReason = &reason
	}
	return cloned
}
