package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/platform/pagination"
	"github.com/inkfold/api/internal/services"
)

// AdminHandlers exposes operator endpoints.
type AdminHandlers struct {
	authn *auth.Authenticator
	audit services.AuditLogService
}

// NewAdminHandlers constructs the admin endpoints.
func NewAdminHandlers(authn *auth.Authenticator, audit services.AuditLogService) *AdminHandlers {
	return &AdminHandlers{authn: authn, audit: audit}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.With(pagination.Middleware(paginationOptions("orderId", "action"), writePaginationError)).Get("/audit-logs", h.listAuditLogs)
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit log service unavailable", http.StatusServiceUnavailable))
		return
	}
	viewer, ok := viewerFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	if !viewer.Admin {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	params := pagination.FromContextOrDefault(ctx)
	page, err := h.audit.List(ctx, services.AuditLogFilter{
		OrderID: params.Filter("orderId"),
		Action:  params.Filter("action"),
		Page:    params.Page,
		Limit:   params.Limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	data := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		data = append(data, auditLogPayload{
			ID:                     entry.ID,
			Action:                 entry.Action,
			OrderID:                entry.OrderID,
			PerformedBy:            entry.PerformedBy,
			Timestamp:              formatTime(entry.Timestamp),
			PreviousShippingStatus: string(entry.PreviousShippingStatus),
			NewShippingStatus:      string(entry.NewShippingStatus),
			PreviousPaymentStatus:  string(entry.PreviousPaymentStatus),
			NewPaymentStatus:       string(entry.NewPaymentStatus),
			Reason:                 entry.Reason,
			IPAddress:              entry.IPAddress,
			RequestID:              entry.RequestID,
		})
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Data:       data,
		Pagination: paginationPayload{Page: page.Page, Limit: page.Limit, HasMore: page.HasMore},
	})
}

type auditLogListResponse struct {
	Data       []auditLogPayload `json:"data"`
	Pagination paginationPayload `json:"pagination"`
}

type auditLogPayload struct {
	ID                     string `json:"id"`
	Action                 string `json:"action"`
	OrderID                string `json:"orderId,omitempty"`
	PerformedBy            string `json:"performedBy"`
	Timestamp              string `json:"timestamp"`
	PreviousShippingStatus string `json:"previousShippingStatus,omitempty"`
	NewShippingStatus      string `json:"newShippingStatus,omitempty"`
	PreviousPaymentStatus  string `json:"previousPaymentStatus,omitempty"`
	NewPaymentStatus       string `json:"newPaymentStatus,omitempty"`
	Reason                 string `json:"reason,omitempty"`
	IPAddress              string `json:"ipAddress,omitempty"`
	RequestID              string `json:"requestId,omitempty"`
}
