package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	maxBodyBytes      = 1 << 20
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	clock    func() time.Time
	logger   Logger
	required bool
	outcomes metric.Int64Counter
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithRequiredKey rejects requests without a key. By default they run unguarded.
func WithRequiredKey() MiddlewareOption {
	return func(g *guard) {
		g.required = true
	}
}

// WithMeter records outcomes on meter instead of the global provider.
func WithMeter(meter metric.Meter) MiddlewareOption {
	return func(g *guard) {
		if meter == nil {
			return
		}
		if counter, err := newOutcomeCounter(meter); err == nil {
			g.outcomes = counter
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func newOutcomeCounter(meter metric.Meter) (metric.Int64Counter, error) {
	return meter.Int64Counter("idempotency.requests",
		metric.WithDescription("Idempotency-guarded requests by outcome."),
		metric.WithUnit("{request}"),
	)
}

// Middleware makes retried requests safe. The first request carrying a key runs and
// its response is stored; repeats with the same key and payload get that response
// back with X-Idempotent-Replay set. Keys are scoped to the caller, and 5xx
// responses are not stored so the client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{store: store, header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.outcomes == nil {
		g.outcomes, _ = newOutcomeCounter(otel.Meter("github.com/inkfold/api/internal/platform/idempotency"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.required:
		g.reject(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case key == "":
		g.count(ctx, "bypass")
		next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		g.reject(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key too long")
		return
	}

	body, err := bufferRequestBody(r)
	if err != nil {
		g.reject(ctx, w, http.StatusRequestEntityTooLarge, "idempotency_body_unreadable", "request body unreadable")
		return
	}
	caller := callerOf(ctx)
	scoped := key + "|" + caller
	fingerprint := fingerprintOf(r, body, caller)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		g.count(ctx, "conflict")
		g.reject(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		g.logf("idempotency: reserve %s: %v", key, err)
		g.reject(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		g.count(ctx, "replay")
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		g.count(ctx, "in_progress")
		g.reject(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}
	g.count(ctx, "new")

	capture := newCapture()
	next.ServeHTTP(capture, r)

	if capture.status >= http.StatusInternalServerError {
		g.release(ctx, scoped, fingerprint)
		capture.flush(w)
		return
	}
	resp := Response{Status: capture.status, Headers: capture.header, Body: capture.body.Bytes()}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: save response for %s: %v", key, err)
		g.release(ctx, scoped, fingerprint)
		g.reject(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	capture.flush(w)
}

func (g *guard) release(ctx context.Context, scoped, fingerprint string) {
	if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
		g.logf("idempotency: release: %v", err)
	}
}

func (g *guard) reject(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func (g *guard) count(ctx context.Context, outcome string) {
	if g.outcomes != nil {
		g.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func bufferRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("idempotency: request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// callerOf scopes keys so two users sending the same key never collide.
func callerOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte, caller string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		caller,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "\n")))
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.ResponseHeaders {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}
