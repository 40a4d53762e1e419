package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/platform/pagination"
	"github.com/inkfold/api/internal/platform/requestctx"
	"github.com/inkfold/api/internal/platform/validation"
	"github.com/inkfold/api/internal/services"
)

const (
	defaultBodyLimit = 64 * 1024
	userAgentLimit   = 256
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes the body into dst, writing the error response on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func requestMetadata(r *http.Request) services.RequestMetadata {
	ctx := r.Context()
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) > userAgentLimit {
		ua = ua[:userAgentLimit]
	}
	return services.RequestMetadata{
		IPAddress: requestctx.ClientIP(ctx),
		RequestID: middleware.GetReqID(ctx),
		UserAgent: ua,
	}
}

func viewerFromContext(ctx context.Context) (services.OrderViewer, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return services.OrderViewer{}, false
	}
	return services.OrderViewer{UserID: strings.TrimSpace(identity.UID), Admin: identity.IsAdmin()}, true
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
}

type paginationPayload struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

func paginationOptions(filters ...string) pagination.Options {
	return pagination.Options{
		DefaultLimit:   pagination.DefaultLimit,
		MaxLimit:       pagination.MaxLimit,
		AllowedFilters: filters,
	}
}

// writeOrderError maps service errors onto the public error envelope.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	writeOrderErrorWithCode(ctx, w, err, "order_precondition_failed")
}

func writeOrderErrorWithCode(ctx context.Context, w http.ResponseWriter, err error, preconditionCode string) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrShippingInvalidInput):
		apiErr := httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest)
		var verr *validation.Error
		if errors.As(err, &verr) {
			apiErr = apiErr.WithDetails(verr.Details())
		} else {
			apiErr.Message = err.Error()
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrShippingPincodeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("pincode_not_found", "pincode is not serviceable", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPrecondition):
		httpx.WriteError(ctx, w, httpx.NewError(preconditionCode, err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not permitted to modify this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", err.Error(), http.StatusUnauthorized))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out", http.StatusGatewayTimeout).WithCause(err))
	default:
		code := "internal_error"
		if errors.Is(err, services.ErrOrderUnavailable) {
			code = "store_unavailable"
		}
		requestctx.Logger(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(code, "failed to process request", http.StatusInternalServerError).WithCause(err))
	}
}
