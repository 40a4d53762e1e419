package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	domain "github.com/inkfold/api/internal/domain"
	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/services"
)

func serveAdmin(h *AdminHandlers, target string, identity *auth.Identity) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/admin", h.Routes)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdminHandlersListAuditLogs(t *testing.T) {
	at := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	audit := &recordingAuditService{
		listResp: domain.Page[services.AuditLogEntry]{
			Items: []services.AuditLogEntry{{
				ID:                    "01JAUDIT",
				Action:                domain.AuditActionOrderCancelled,
				OrderID:               "ORD-1",
				PerformedBy:           "user-1",
				Timestamp:             at,
				PreviousPaymentStatus: domain.PaymentStatusPaid,
				NewPaymentStatus:      domain.PaymentStatusRefundInitiated,
				Reason:                "ordered twice",
			}},
			Page:  1,
			Limit: 20,
		},
	}

	rr := serveAdmin(NewAdminHandlers(nil, audit), "/admin/audit-logs?orderId=ORD-1&action=order.cancelled&limit=20", adminIdentity("admin-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, services.AuditLogFilter{OrderID: "ORD-1", Action: "order.cancelled", Page: 1, Limit: 20}, audit.filter)

	var resp auditLogListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	entry := resp.Data[0]
	require.Equal(t, "refund_initiated", entry.NewPaymentStatus)
	require.Equal(t, "2025-06-02T08:00:00Z", entry.Timestamp)
}

func TestAdminHandlersListAuditLogsRequiresAdmin(t *testing.T) {
	audit := &recordingAuditService{}
	rr := serveAdmin(NewAdminHandlers(nil, audit), "/admin/audit-logs", customerIdentity("user-1"))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = serveAdmin(NewAdminHandlers(nil, audit), "/admin/audit-logs", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminHandlersListAuditLogsRejectsDeepPages(t *testing.T) {
	audit := &recordingAuditService{}
	rr := serveAdmin(NewAdminHandlers(nil, audit), "/admin/audit-logs?page=10002&limit=1", adminIdentity("admin-1"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_pagination", decodeErrorCode(t, rr))
	require.Zero(t, audit.filter)
}
