package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/platform/textutil"
	"github.com/inkfold/api/internal/repositories"
)

const (
	defaultAuditActor   = "system"
	maxAuditReasonRunes = 500
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger AuditLogger
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      AuditLogger
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *auditLogService) Build(record AuditLogRecord) AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}

	actor := textutil.ControlFree(record.Actor, 128)
	if actor == "" {
		actor = defaultAuditActor
	}

	return domain.AuditLogEntry{
		ID:                     s.newID(),
		Action:                 strings.ToLower(textutil.ControlFree(record.Action, 64)),
		OrderID:                textutil.ControlFree(record.OrderID, 64),
		PerformedBy:            actor,
		Timestamp:              occurred.UTC(),
		PreviousShippingStatus: record.PreviousShippingStatus,
		NewShippingStatus:      record.NewShippingStatus,
		PreviousPaymentStatus:  record.PreviousPaymentStatus,
		NewPaymentStatus:       record.NewPaymentStatus,
		Reason:                 textutil.Plain(record.Reason, maxAuditReasonRunes),
		IPAddress:              textutil.ControlFree(record.Metadata.IPAddress, 64),
		RequestID:              textutil.ControlFree(record.Metadata.RequestID, 128),
		UserAgent:              textutil.Plain(record.Metadata.UserAgent, 256),
	}
}

// Record persists an audit entry outside of an order mutation. Repository failures are
// logged but do not bubble up so the primary flow is never interrupted.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.Build(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: action=%s order=%s: %v", entry.Action, entry.OrderID, err)
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.Page[AuditLogEntry], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		OrderID:    strings.TrimSpace(filter.OrderID),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: domain.PageRequest{Page: filter.Page, Limit: filter.Limit},
	})
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}
