package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inkfold/api/internal/platform/requestctx"
)

func TestRequestLoggerMiddlewareLevels(t *testing.T) {
	cases := []struct {
		status int
		level  zapcore.Level
	}{
		{status: http.StatusCreated, level: zapcore.InfoLevel},
		{status: http.StatusConflict, level: zapcore.WarnLevel},
		{status: http.StatusServiceUnavailable, level: zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)

			router := chi.NewRouter()
			router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware("inkfold-prod"))
			router.Post("/api/v1/orders/{orderID}/cancel", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-1/cancel", nil)
			req = req.WithContext(requestctx.WithClientIP(req.Context(), "203.0.113.9"))
			router.ServeHTTP(httptest.NewRecorder(), req)

			entries := logs.FilterMessage("request completed").All()
			require.Len(t, entries, 1)
			entry := entries[0]
			assert.Equal(t, tc.level, entry.Level)
			fields := entry.ContextMap()
			assert.Equal(t, "/api/v1/orders/{orderID}/cancel", fields["route"])
			assert.Equal(t, int64(tc.status), fields["status"])
			assert.Equal(t, "203.0.113.9", fields["remote_ip"])
		})
	}
}

func TestRequestLoggerMiddlewareTraceResource(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(
		TraceMiddleware("inkfold-prod")(
			RequestLoggerMiddleware("inkfold-prod")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/7;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", fields["trace_id"])
	assert.Equal(t, "projects/inkfold-prod/traces/105445aa7843bc8bf206b12000100000", fields["logging.googleapis.com/trace"])
	assert.Equal(t, "unmatched", fields["route"])
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}
