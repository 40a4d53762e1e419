package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/repositories"
)

type stubAuditRepo struct {
	entries   []domain.AuditLogEntry
	appendErr error

	listFilter repositories.AuditLogFilter
	listResp   domain.Page[domain.AuditLogEntry]
	listErr    error
}

func (s *stubAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	s.entries = append(s.entries, entry)
	return s.appendErr
}

func (s *stubAuditRepo) List(_ context.Context, filter repositories.AuditLogFilter) (domain.Page[domain.AuditLogEntry], error) {
	s.listFilter = filter
	return s.listResp, s.listErr
}

type captureAuditLogger struct {
	warnings []string
}

func (c *captureAuditLogger) Warnf(format string, args ...any) {
	c.warnings = append(c.warnings, strings.TrimSpace(format))
}

func newTestAuditService(t *testing.T, repo *stubAuditRepo, now time.Time) AuditLogService {
	t.Helper()
	seq := 0
	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository: repo,
		Clock:      func() time.Time { return now },
		IDGenerator: func() string {
			seq++
			return "audit-" + string(rune('0'+seq))
		},
	})
	require.NoError(t, err)
	return svc
}

func TestAuditLogServiceBuildSanitizes(t *testing.T) {
	fixed := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	svc := newTestAuditService(t, &stubAuditRepo{}, fixed)

	entry := svc.Build(AuditLogRecord{
		Action:                " Order.Cancelled ",
		OrderID:               " ORD-1 ",
		Actor:                 "uid-1\x00",
		PreviousPaymentStatus: domain.PaymentStatusPaid,
		NewPaymentStatus:      domain.PaymentStatusRefundInitiated,
		Reason:                "<b>changed</b> my\nmind",
		Metadata: RequestMetadata{
			IPAddress: " 203.0.113.42 ",
			RequestID: "req-1\r\n",
			UserAgent: "Agent\r\nInjected: yes",
		},
	})

	require.Equal(t, "audit-1", entry.ID)
	require.Equal(t, "order.cancelled", entry.Action)
	require.Equal(t, "ORD-1", entry.OrderID)
	require.Equal(t, "uid-1", entry.PerformedBy)
	require.Equal(t, "changed my mind", entry.Reason)
	require.Equal(t, "203.0.113.42", entry.IPAddress)
	require.Equal(t, "req-1", entry.RequestID)
	require.NotContains(t, entry.UserAgent, "\n")
	require.NotContains(t, entry.UserAgent, "\r")
	require.True(t, entry.Timestamp.Equal(fixed), "timestamp %s", entry.Timestamp)
}

func TestAuditLogServiceBuildDefaultsActor(t *testing.T) {
	svc := newTestAuditService(t, &stubAuditRepo{}, time.Now())
	entry := svc.Build(AuditLogRecord{Action: "webhook.rejected"})
	require.Equal(t, defaultAuditActor, entry.PerformedBy)
}

func TestAuditLogServiceRecordSwallowsFailures(t *testing.T) {
	repo := &stubAuditRepo{appendErr: errors.New("firestore down")}
	logger := &captureAuditLogger{}
	svc, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo, Logger: logger})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		svc.Record(context.Background(), AuditLogRecord{Action: domain.AuditActionWebhookRejected, Reason: "bad signature"})
	})
	require.Len(t, repo.entries, 1)
	require.Len(t, logger.warnings, 1)
}

func TestAuditLogServiceListDelegates(t *testing.T) {
	repo := &stubAuditRepo{listResp: domain.Page[domain.AuditLogEntry]{Items: []domain.AuditLogEntry{{ID: "a1"}}, HasMore: true}}
	svc := newTestAuditService(t, repo, time.Now())

	page, err := svc.List(context.Background(), AuditLogFilter{OrderID: " ORD-9 ", Action: "order.cancelled", Page: 2, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, repositories.AuditLogFilter{
		OrderID:    "ORD-9",
		Action:     "order.cancelled",
		Pagination: domain.PageRequest{Page: 2, Limit: 5},
	}, repo.listFilter)
	require.Len(t, page.Items, 1)
	require.True(t, page.HasMore)
}

func TestNewAuditLogServiceRequiresRepository(t *testing.T) {
	_, err := NewAuditLogService(AuditLogServiceDeps{})
	require.Error(t, err)
}
