package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkfold/api/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// countingHandler answers every call with status and body and counts invocations.
type countingHandler struct {
	calls  int
	status func(call int) int
	body   string
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/v1/orders/ORD-1")
	status := http.StatusCreated
	if h.status != nil {
		status = h.status(h.calls)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(h.body))
}

func createOrderRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(defaultHeaderName, key)
	}
	return req
}

func send(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error
}

func withClock() MiddlewareOption {
	return WithClock(func() time.Time { return fixedTime })
}

func TestMiddleware_WithoutKey(t *testing.T) {
	next := &countingHandler{}
	rr := send(Middleware(NewMemoryStore(), withClock())(next), createOrderRequest("", `{"items":[]}`))
	require.Equal(t, http.StatusCreated, rr.Code, "optional key")
	require.Equal(t, 1, next.calls)

	next = &countingHandler{}
	rr = send(Middleware(NewMemoryStore(), withClock(), WithRequiredKey())(next), createOrderRequest("", `{"items":[]}`))
	require.Equal(t, http.StatusBadRequest, rr.Code, "required key")
	require.Zero(t, next.calls)
	require.Equal(t, "idempotency_key_required", errorCode(t, rr))
}

func TestMiddleware_ReplayReturnsStoredResponse(t *testing.T) {
	next := &countingHandler{body: `{"orderId":"ORD-1"}`}
	handler := Middleware(NewMemoryStore(), withClock())(next)

	first := send(handler, createOrderRequest("checkout-1", `{"items":[{"productId":"nb-a5","quantity":1}]}`))
	second := send(handler, createOrderRequest("checkout-1", `{"items":[{"productId":"nb-a5","quantity":1}]}`))

	require.Equal(t, 1, next.calls)
	require.Empty(t, first.Header().Get(replayHeaderName), "first response is not a replay")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(replayHeaderName))
	require.Equal(t, "/api/v1/orders/ORD-1", second.Header().Get("Location"))
	require.Equal(t, first.Body.String(), second.Body.String())
}

func TestMiddleware_ServerErrorsAreRetryable(t *testing.T) {
	next := &countingHandler{status: func(call int) int {
		if call == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusCreated
	}}
	handler := Middleware(NewMemoryStore(), withClock())(next)

	first := send(handler, createOrderRequest("retry", `{"orderId":"ORD-1"}`))
	second := send(handler, createOrderRequest("retry", `{"orderId":"ORD-1"}`))

	require.Equal(t, http.StatusServiceUnavailable, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, 2, next.calls)
}

func TestMiddleware_ClientErrorsAreReplayed(t *testing.T) {
	next := &countingHandler{status: func(int) int { return http.StatusBadRequest }, body: `{"error":"validation_failed"}`}
	handler := Middleware(NewMemoryStore(), withClock())(next)

	send(handler, createOrderRequest("bad", `{}`))
	rr := send(handler, createOrderRequest("bad", `{}`))

	require.Equal(t, 1, next.calls)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "true", rr.Header().Get(replayHeaderName))
}

func TestMiddleware_ConflictingPayload(t *testing.T) {
	handler := Middleware(NewMemoryStore(), withClock())(&countingHandler{})

	send(handler, createOrderRequest("same-key", `{"quantity":1}`))
	rr := send(handler, createOrderRequest("same-key", `{"quantity":2}`))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "idempotency_key_conflict", errorCode(t, rr))
}

func TestMiddleware_PendingKey(t *testing.T) {
	store := NewMemoryStore()
	req := createOrderRequest("pending-key", `{"quantity":1}`)
	body, err := bufferRequestBody(req)
	require.NoError(t, err)
	caller := callerOf(req.Context())
	_, err = store.Reserve(req.Context(), "pending-key|"+caller, fingerprintOf(req, body, caller), fixedTime, time.Hour)
	require.NoError(t, err)

	next := &countingHandler{}
	rr := send(Middleware(store, withClock())(next), req)

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Zero(t, next.calls)
	require.Equal(t, "idempotency_in_progress", errorCode(t, rr))
}

func TestMiddleware_SaveFailureReleasesKey(t *testing.T) {
	store := &stubStore{saveErr: errors.New("firestore unavailable")}
	rr := send(Middleware(store, withClock())(&countingHandler{}), createOrderRequest("k", `{}`))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "idempotency_store_error", errorCode(t, rr))
	require.True(t, store.released, "reservation is released")
}

func TestMiddleware_ReserveFailure(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("redis down")}
	next := &countingHandler{}
	rr := send(Middleware(store, withClock())(next), createOrderRequest("k", `{}`))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Zero(t, next.calls)
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	next := &countingHandler{}
	handler := Middleware(NewMemoryStore(), withClock())(next)

	for _, uid := range []string{"uid-a", "uid-b"} {
		req := createOrderRequest("shared-key", `{"items":[{"productId":"nb-a5"}]}`)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		rr := send(handler, req)
		require.Empty(t, rr.Header().Get(replayHeaderName), uid)
	}
	require.Equal(t, 2, next.calls, "both callers reach the handler")
}

func TestMiddleware_RejectsOverlongKey(t *testing.T) {
	next := &countingHandler{}
	rr := send(Middleware(NewMemoryStore())(next), createOrderRequest(string(bytes.Repeat([]byte("k"), maxKeyLength+1)), `{}`))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, next.calls)
	require.Equal(t, "idempotency_key_invalid", errorCode(t, rr))
}

type stubStore struct {
	reserveErr error
	saveErr    error
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.saveErr
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
