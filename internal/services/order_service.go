package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/platform/textutil"
	"github.com/inkfold/api/internal/platform/validation"
	"github.com/inkfold/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventPaid          = "order.paid"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix = "ORD-"

	defaultMaxOrderItems       = 20
	defaultMaxOrderAmount      = 100000
	defaultMaxAddressLength    = 500
	defaultCreateAttempts      = 3
	defaultCreateBackoff       = 200 * time.Millisecond
	defaultOrderPageLimit      = 10
	maxOrderPageLimit          = 50
	maxCancellationReasonRunes = 500

	// minBillableWeightKg prices orders whose items carry no weight.
	minBillableWeightKg = 0.5
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderPrecondition indicates the order state forbids the operation.
	ErrOrderPrecondition = errors.New("order: precondition failed")
	// ErrOrderConflict indicates a stale expected status or a duplicate order.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the caller may not act on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnauthorized indicates missing identity or an invalid payment signature.
	ErrOrderUnauthorized = errors.New("order: unauthorized")
	// ErrOrderUnavailable indicates a transient backend failure.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

var orderSentinels = []error{
	ErrOrderInvalidInput,
	ErrOrderNotFound,
	ErrOrderPrecondition,
	ErrOrderConflict,
	ErrOrderForbidden,
	ErrOrderUnauthorized,
	ErrOrderUnavailable,
}

// OrderLimits bounds order input and the create retry policy. Zero values use defaults.
type OrderLimits struct {
	MaxItems         int
	MaxAmount        float64
	MaxAddressLength int
	CreateAttempts   int
	CreateBackoff    time.Duration
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders           repositories.OrderRepository
	Shipping         ShippingService
	Audit            AuditLogService
	Validator        *validation.Validator
	Payments         PaymentVerifier
	RequireSignature bool
	Events           OrderEventPublisher
	Metrics          OrderMetrics
	Limits           OrderLimits
	Clock            func() time.Time
	IDGenerator      func() string
	Sleep            func(ctx context.Context, d time.Duration) error
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders           repositories.OrderRepository
	shipping         ShippingService
	audit            AuditLogService
	validator        *validation.Validator
	payments         PaymentVerifier
	requireSignature bool
	events           OrderEventPublisher
	metrics          OrderMetrics
	limits           OrderLimits
	clock            func() time.Time
	newID            func() string
	sleep            func(context.Context, time.Duration) error
	logger           func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("order service: shipping service is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("order service: audit log service is required")
	}

	validator := deps.Validator
	if validator == nil {
		validator = validation.New()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:           deps.Orders,
		shipping:         deps.Shipping,
		audit:            deps.Audit,
		validator:        validator,
		payments:         deps.Payments,
		requireSignature: deps.RequireSignature,
		events:           deps.Events,
		metrics:          deps.Metrics,
		limits:           normalizeOrderLimits(deps.Limits),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		sleep:  sleep,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	defer func() { s.observe("create", err) }()

	if err := s.validateCreate(cmd); err != nil {
		return Order{}, err
	}

	name := textutil.Plain(cmd.Customer.Name, 120)
	if name == "" {
		return Order{}, invalidField("customer.name", "is required")
	}
	address := textutil.Plain(cmd.Shipping.Address, s.limits.MaxAddressLength)
	if address == "" {
		return Order{}, invalidField("shipping.address", "is required")
	}

	items, amount, weightKg := s.buildItems(cmd.Items)
	if amount.GreaterThan(decimal.NewFromFloat(s.limits.MaxAmount)) {
		return Order{}, invalidField("amount", fmt.Sprintf("must not exceed %s", decimal.NewFromFloat(s.limits.MaxAmount).String()))
	}

	pincode := strings.TrimSpace(cmd.Shipping.Pincode)
	quote, err := s.shipping.Quote(ctx, ShippingQuoteCommand{
		Pincode:  pincode,
		WeightKg: weightKg,
		Subtotal: amount.InexactFloat64(),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrShippingPincodeNotFound):
			return Order{}, invalidField("shipping.pincode", "is not serviceable")
		case errors.Is(err, ErrShippingInvalidWeight):
			return Order{}, invalidField("items", "total weight must be a positive number")
		case errors.Is(err, ErrShippingInvalidInput):
			return Order{}, invalidField("shipping.pincode", "must be exactly 6 digits")
		}
		return Order{}, fmt.Errorf("%w: shipping quote: %v", ErrOrderUnavailable, err)
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		userID = domain.GuestUserID
	}

	now := s.now().Truncate(time.Millisecond)
	order = Order{
		OrderID: s.nextOrderID(now),
		Customer: domain.Customer{
			Name:   name,
			Email:  strings.ToLower(strings.TrimSpace(cmd.Customer.Email)),
			Phone:  textutil.Plain(cmd.Customer.Phone, 20),
			UserID: userID,
		},
		Shipping: domain.ShippingDetails{
			Address:          address,
			Pincode:          pincode,
			Cost:             quote.Cost,
			Zone:             quote.Zone,
			DeliveryEstimate: quote.DeliveryEstimate,
			FreeShipping:     quote.FreeShipping,
		},
		Items:          items,
		Amount:         amount.InexactFloat64(),
		ShippingStatus: domain.ShippingStatusNotDispatched,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.Status = domain.DeriveOrderStatus(order.ShippingStatus, order.PaymentStatus)
	order.History = []domain.StatusHistoryEntry{{
		Field:     "status",
		To:        string(order.Status),
		Actor:     userID,
		Note:      "order created",
		Timestamp: now,
	}}

	audit := s.audit.Build(AuditLogRecord{
		Action:            domain.AuditActionOrderCreated,
		OrderID:           order.OrderID,
		Actor:             userID,
		NewShippingStatus: order.ShippingStatus,
		NewPaymentStatus:  order.PaymentStatus,
		Metadata:          cmd.Metadata,
		OccurredAt:        now,
	})

	if err := s.insertWithRetry(ctx, order, audit); err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.OrderID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"amount":       order.Amount,
			"shippingCost": order.Shipping.Cost,
			"zone":         order.Shipping.Zone,
		},
	})
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, viewer OrderViewer) (order Order, err error) {
	defer func() { s.observe("get", err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err = s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !canView(order, viewer) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (page domain.Page[Order], err error) {
	defer func() { s.observe("list", err) }()

	repoFilter := repositories.OrderListFilter{UserID: strings.TrimSpace(filter.UserID)}
	if !filter.Viewer.Admin {
		viewerID := strings.TrimSpace(filter.Viewer.UserID)
		if viewerID == "" {
			return domain.Page[Order]{}, fmt.Errorf("%w: identity is required to list orders", ErrOrderUnauthorized)
		}
		repoFilter.UserID = viewerID
	}

	if raw := strings.TrimSpace(filter.Status); raw != "" {
		if status, ok := domain.ParseShippingStatus(raw); ok {
			repoFilter.ShippingStatus = status
		} else if status, ok := domain.ParsePaymentStatus(raw); ok {
			repoFilter.PaymentStatus = status
		} else {
			return domain.Page[Order]{}, invalidField("status", "must be a shipping or payment status")
		}
	}

	pageNum := filter.Page
	if pageNum == 0 {
		pageNum = 1
	}
	if pageNum < 1 {
		return domain.Page[Order]{}, invalidField("page", "must be at least 1")
	}
	limit := filter.Limit
	switch {
	case limit == 0:
		limit = defaultOrderPageLimit
	case limit < 0:
		return domain.Page[Order]{}, invalidField("limit", "must be at least 1")
	case limit > maxOrderPageLimit:
		limit = maxOrderPageLimit
	}
	repoFilter.Pagination = domain.PageRequest{Page: pageNum, Limit: limit}
	if repoFilter.Pagination.ExceedsMaxOffset() {
		return domain.Page[Order]{}, invalidField("page", fmt.Sprintf("must not skip more than %d orders", domain.MaxPageOffset))
	}

	page, err = s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Patch(ctx context.Context, cmd PatchOrderCommand) (order Order, err error) {
	defer func() { s.observe("patch", err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidField("orderId", "is required")
	}
	if cmd.Status == nil && cmd.TrackingID == nil {
		return Order{}, invalidField("status", "status or trackingId is required")
	}

	var target *statusChange
	if cmd.Status != nil {
		change, ok := parseStatusChange(*cmd.Status)
		if !ok {
			return Order{}, invalidField("status", "must be a shipping or payment status")
		}
		target = &change
	}
	var expected *statusChange
	if cmd.ExpectedStatus != nil && strings.TrimSpace(*cmd.ExpectedStatus) != "" {
		change, ok := parseStatusChange(*cmd.ExpectedStatus)
		if !ok {
			return Order{}, invalidField("expectedStatus", "must be a shipping or payment status")
		}
		expected = &change
	}
	var trackingID *string
	if cmd.TrackingID != nil {
		cleaned := textutil.Plain(*cmd.TrackingID, 64)
		trackingID = &cleaned
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	var previous Order

	order, err = s.orders.Mutate(ctx, orderID, func(current *Order) (*AuditLogEntry, error) {
		previous = current.Clone()

		refundCompletion := target != nil && target.payment == domain.PaymentStatusRefunded &&
			current.PaymentStatus == domain.PaymentStatusRefundInitiated
		if current.IsTerminal() && !refundCompletion {
			return nil, fmt.Errorf("%w: order is %s", ErrOrderPrecondition, current.ShippingStatus)
		}
		if expected != nil && !expected.matches(*current) {
			return nil, fmt.Errorf("%w: expected status %s but order is %s/%s", ErrOrderConflict, expected.String(), current.ShippingStatus, current.PaymentStatus)
		}

		if target != nil {
			switch {
			case target.shipping != "":
				s.setShippingStatus(current, target.shipping, actor, cmd.Note, now)
				if target.shipping == domain.ShippingStatusCancelled && current.PaymentStatus == domain.PaymentStatusPaid {
					s.setPaymentStatus(current, domain.PaymentStatusRefundInitiated, actor, "cancelled by admin", now)
				}
			case target.payment != "":
				s.setPaymentStatus(current, target.payment, actor, cmd.Note, now)
			}
		}
		if trackingID != nil && *trackingID != current.Shipping.TrackingID {
			current.History = append(current.History, domain.StatusHistoryEntry{
				Field:     "trackingId",
				From:      current.Shipping.TrackingID,
				To:        *trackingID,
				Actor:     actor,
				Timestamp: now,
			})
			current.Shipping.TrackingID = *trackingID
		}
		current.Status = domain.DeriveOrderStatus(current.ShippingStatus, current.PaymentStatus)
		current.UpdatedAt = now

		entry := s.audit.Build(AuditLogRecord{
			Action:                 domain.AuditActionOrderStatusUpdated,
			OrderID:                orderID,
			Actor:                  actor,
			PreviousShippingStatus: previous.ShippingStatus,
			NewShippingStatus:      current.ShippingStatus,
			PreviousPaymentStatus:  previous.PaymentStatus,
			NewPaymentStatus:       current.PaymentStatus,
			Reason:                 cmd.Note,
			Metadata:               cmd.Metadata,
			OccurredAt:             now,
		})
		return &entry, nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	eventType := orderEventStatusChanged
	if order.ShippingStatus == domain.ShippingStatusCancelled && previous.ShippingStatus != domain.ShippingStatusCancelled {
		eventType = orderEventCancelled
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.OrderID,
		PreviousStatus: string(previous.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     now,
		Metadata: map[string]any{
			"shippingStatus": string(order.ShippingStatus),
			"paymentStatus":  string(order.PaymentStatus),
			"trackingId":     order.Shipping.TrackingID,
		},
	})
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (order Order, err error) {
	defer func() { s.observe("cancel", err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidField("orderId", "is required")
	}
	viewerID := strings.TrimSpace(cmd.Viewer.UserID)
	if viewerID == "" {
		return Order{}, fmt.Errorf("%w: identity is required to cancel", ErrOrderUnauthorized)
	}
	reason := textutil.Plain(cmd.Reason, maxCancellationReasonRunes)
	now := s.now()
	var previous Order

	order, err = s.orders.Mutate(ctx, orderID, func(current *Order) (*AuditLogEntry, error) {
		if !cmd.Viewer.Admin && !isOwner(*current, viewerID) {
			return nil, fmt.Errorf("%w: only the order owner can cancel", ErrOrderForbidden)
		}
		if !current.CanCancel() {
			return nil, fmt.Errorf("%w: cannot cancel order with payment %s and shipping %s", ErrOrderPrecondition, current.PaymentStatus, current.ShippingStatus)
		}
		previous = current.Clone()

		s.setShippingStatus(current, domain.ShippingStatusCancelled, viewerID, reason, now)
		s.setPaymentStatus(current, domain.PaymentStatusRefundInitiated, viewerID, reason, now)
		current.Status = domain.DeriveOrderStatus(current.ShippingStatus, current.PaymentStatus)
		current.CancelledBy = &viewerID
		current.CancellationReason = &reason
		current.UpdatedAt = now

		entry := s.audit.Build(AuditLogRecord{
			Action:                 domain.AuditActionOrderCancelled,
			OrderID:                orderID,
			Actor:                  viewerID,
			PreviousShippingStatus: previous.ShippingStatus,
			NewShippingStatus:      current.ShippingStatus,
			PreviousPaymentStatus:  previous.PaymentStatus,
			NewPaymentStatus:       current.PaymentStatus,
			Reason:                 reason,
			Metadata:               cmd.Metadata,
			OccurredAt:             now,
		})
		return &entry, nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.OrderID,
		PreviousStatus: string(previous.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        viewerID,
		OccurredAt:     now,
		Metadata:       map[string]any{"reason": reason, "amount": order.Amount},
	})
	return order, nil
}

// MarkPaid records the gateway payment. Repeated calls overwrite the stored payment so the
// latest confirmation wins.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (order Order, err error) {
	defer func() { s.observe("mark_paid", err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if orderID == "" || paymentID == "" {
		return Order{}, invalidField("razorpayPaymentId", "orderId and razorpayPaymentId are required")
	}
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		gatewayOrderID = orderID
	}

	verified := cmd.Verified
	if !verified {
		signature := strings.TrimSpace(cmd.Signature)
		switch {
		case signature != "":
			if s.payments == nil {
				return Order{}, fmt.Errorf("%w: payment verification is not configured", ErrOrderUnavailable)
			}
			if err := s.payments.VerifyPayment(gatewayOrderID, paymentID, signature); err != nil {
				return Order{}, fmt.Errorf("%w: %v", ErrOrderUnauthorized, err)
			}
			verified = true
		case s.requireSignature:
			return Order{}, fmt.Errorf("%w: payment signature is required", ErrOrderUnauthorized)
		}
	}

	actor := strings.TrimSpace(cmd.Viewer.UserID)
	now := s.now()
	var previous Order

	order, err = s.orders.Mutate(ctx, orderID, func(current *Order) (*AuditLogEntry, error) {
		if !cmd.Viewer.Admin && !isOwner(*current, actor) && !(current.Customer.UserID == domain.GuestUserID && verified) {
			return nil, fmt.Errorf("%w: only the order owner can confirm payment", ErrOrderForbidden)
		}
		if current.IsTerminal() || current.PaymentStatus == domain.PaymentStatusRefundInitiated || current.PaymentStatus == domain.PaymentStatusRefunded {
			return nil, fmt.Errorf("%w: order is %s/%s", ErrOrderPrecondition, current.ShippingStatus, current.PaymentStatus)
		}
		previous = current.Clone()

		s.setPaymentStatus(current, domain.PaymentStatusPaid, actor, "payment "+paymentID, now)
		payment := &domain.Payment{ID: paymentID, OrderID: gatewayOrderID, Verified: verified}
		if verified {
			at := now
			payment.VerifiedAt = &at
		}
		current.Payment = payment
		current.Status = domain.DeriveOrderStatus(current.ShippingStatus, current.PaymentStatus)
		current.UpdatedAt = now

		entry := s.audit.Build(AuditLogRecord{
			Action:                 domain.AuditActionOrderMarkedPaid,
			OrderID:                orderID,
			Actor:                  actor,
			PreviousShippingStatus: previous.ShippingStatus,
			NewShippingStatus:      current.ShippingStatus,
			PreviousPaymentStatus:  previous.PaymentStatus,
			NewPaymentStatus:       current.PaymentStatus,
			Reason:                 "payment " + paymentID,
			Metadata:               cmd.Metadata,
			OccurredAt:             now,
		})
		return &entry, nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        order.OrderID,
		PreviousStatus: string(previous.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     now,
		Metadata: map[string]any{
			"paymentId": paymentID,
			"verified":  verified,
			"amount":    order.Amount,
		},
	})
	return order, nil
}

func (s *orderService) validateCreate(cmd CreateOrderCommand) error {
	fields := map[string]string{}
	if err := s.validator.Struct(cmd); err != nil {
		var verr *validation.Error
		if !errors.As(err, &verr) {
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		maps.Copy(fields, verr.Fields)
	}
	if len(cmd.Items) > s.limits.MaxItems {
		fields["items"] = fmt.Sprintf("must contain at most %d", s.limits.MaxItems)
	}
	if utf8.RuneCountInString(strings.TrimSpace(cmd.Shipping.Address)) > s.limits.MaxAddressLength {
		fields["shipping.address"] = fmt.Sprintf("must contain at most %d characters", s.limits.MaxAddressLength)
	}
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrOrderInvalidInput, &validation.Error{Fields: fields})
}

// buildItems sanitises the lines and returns them with the subtotal and the billable weight.
func (s *orderService) buildItems(input []CreateOrderItem) ([]OrderItem, decimal.Decimal, float64) {
	items := make([]OrderItem, 0, len(input))
	subtotal := decimal.Zero
	weight := decimal.Zero
	for _, item := range input {
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(decimal.NewFromFloat(item.Price).Mul(qty))
		weight = weight.Add(decimal.NewFromFloat(item.Weight).Mul(qty))
		items = append(items, OrderItem{
			ID:       textutil.ControlFree(item.ID, 64),
			Name:     textutil.Plain(item.Name, 200),
			Price:    decimal.NewFromFloat(item.Price).Round(2).InexactFloat64(),
			Quantity: item.Quantity,
			Weight:   item.Weight,
		})
	}
	weightKg := weight.InexactFloat64()
	if weightKg <= 0 {
		weightKg = minBillableWeightKg
	}
	return items, subtotal.Round(2), weightKg
}

func (s *orderService) insertWithRetry(ctx context.Context, order Order, audit AuditLogEntry) error {
	for attempt := 1; ; attempt++ {
		err := s.orders.Insert(ctx, order, &audit)
		if err == nil {
			return nil
		}

		var repoErr repositories.RepositoryError
		if attempt > 1 && errors.As(err, &repoErr) && repoErr.IsConflict() {
			// An earlier attempt may have committed before its response was lost.
			if existing, findErr := s.orders.FindByID(ctx, order.OrderID); findErr == nil && existing.CreatedAt.Equal(order.CreatedAt) {
				return nil
			}
		}
		if !isTransient(err) || attempt >= s.limits.CreateAttempts {
			return s.mapRepositoryError(err)
		}

		backoff := time.Duration(attempt) * s.limits.CreateBackoff
		s.logger(ctx, "order.create.retry", map[string]any{
			"order":   order.OrderID,
			"attempt": attempt,
			"backoff": backoff.String(),
			"error":   err.Error(),
		})
		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (s *orderService) setShippingStatus(order *Order, status domain.ShippingStatus, actor, note string, now time.Time) {
	if order.ShippingStatus == status {
		return
	}
	order.History = append(order.History, domain.StatusHistoryEntry{
		Field:     "shippingStatus",
		From:      string(order.ShippingStatus),
		To:        string(status),
		Actor:     actor,
		Note:      textutil.Plain(note, maxCancellationReasonRunes),
		Timestamp: now,
	})
	order.ShippingStatus = status
}

func (s *orderService) setPaymentStatus(order *Order, status domain.PaymentStatus, actor, note string, now time.Time) {
	order.History = append(order.History, domain.StatusHistoryEntry{
		Field:     "paymentStatus",
		From:      string(order.PaymentStatus),
		To:        string(status),
		Actor:     actor,
		Note:      textutil.Plain(note, maxCancellationReasonRunes),
		Timestamp: now,
	})
	order.PaymentStatus = status
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, sentinel := range orderSentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func (s *orderService) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOrderOperation(operation, orderOutcome(err))
}

func (s *orderService) now() time.Time {
	return s.clock()
}

// nextOrderID builds ORD-<unix millis>-<random suffix>.
func (s *orderService) nextOrderID(now time.Time) string {
	id := strings.ToUpper(s.newID())
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return fmt.Sprintf("%s%d-%s", orderIDPrefix, now.UnixMilli(), id)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// statusChange names a target on exactly one status axis.
type statusChange struct {
	shipping domain.ShippingStatus
	payment  domain.PaymentStatus
}

func parseStatusChange(raw string) (statusChange, bool) {
	if status, ok := domain.ParseShippingStatus(raw); ok {
		return statusChange{shipping: status}, true
	}
	if status, ok := domain.ParsePaymentStatus(raw); ok {
		return statusChange{payment: status}, true
	}
	return statusChange{}, false
}

func (c statusChange) matches(order Order) bool {
	if c.shipping != "" {
		return order.ShippingStatus == c.shipping
	}
	return order.PaymentStatus == c.payment
}

func (c statusChange) String() string {
	if c.shipping != "" {
		return string(c.shipping)
	}
	return string(c.payment)
}

func canView(order Order, viewer OrderViewer) bool {
	return viewer.Admin || isOwner(order, viewer.UserID)
}

func isOwner(order Order, userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && order.Customer.UserID != domain.GuestUserID && order.Customer.UserID == userID
}

func isTransient(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func invalidField(field, message string) error {
	return fmt.Errorf("%w: %w", ErrOrderInvalidInput, &validation.Error{Fields: map[string]string{field: message}})
}

func orderOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrOrderInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderPrecondition):
		return "precondition"
	case errors.Is(err, ErrOrderConflict):
		return "conflict"
	case errors.Is(err, ErrOrderForbidden):
		return "forbidden"
	case errors.Is(err, ErrOrderUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrOrderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func normalizeOrderLimits(limits OrderLimits) OrderLimits {
	if limits.MaxItems <= 0 {
		limits.MaxItems = defaultMaxOrderItems
	}
	if limits.MaxAmount <= 0 {
		limits.MaxAmount = defaultMaxOrderAmount
	}
	if limits.MaxAddressLength <= 0 {
		limits.MaxAddressLength = defaultMaxAddressLength
	}
	if limits.CreateAttempts <= 0 {
		limits.CreateAttempts = defaultCreateAttempts
	}
	if limits.CreateBackoff <= 0 {
		limits.CreateBackoff = defaultCreateBackoff
	}
	return limits
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
