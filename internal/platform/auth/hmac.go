package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/inkfold/api/internal/platform/httpx"
)

const (
	defaultSignatureHeader = "X-Razorpay-Signature"
	defaultNonceHeader     = "X-Razorpay-Event-Id"
	defaultNonceTTL        = 24 * time.Hour
	maxSignedBody          = 1 << 20
)

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// HMACValidator authenticates webhook deliveries. The signature header holds
// hex(HMAC-SHA256(secret, body)) and the nonce header the gateway's event id.
type HMACValidator struct {
	secrets SecretProvider
	nonces  NonceStore
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	nonceHeader     string
	nonceTTL        time.Duration
}

type HMACOption func(*HMACValidator)

func NewHMACValidator(secrets SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secrets:         secrets,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		nonceHeader:     defaultNonceHeader,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) {
		v.metrics = metrics
	}
}

// WithHMACHeaders renames the signature and nonce headers. Empty values keep the defaults.
func WithHMACHeaders(signature, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature = strings.TrimSpace(signature); signature != "" {
			v.signatureHeader = signature
		}
		if nonce = strings.TrimSpace(nonce); nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACNonceTTL sets how long delivery ids are remembered.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes a verified delivery.
type HMACMetadata struct {
	SecretName string
	Nonce      string
	ReceivedAt time.Time
}

type hmacContextKey struct{}

func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// RejectionHook observes deliveries that failed verification. It runs after the
// error response is written.
type RejectionHook func(r *http.Request, reason string)

// hmacRejection carries the response for a failed check. reason doubles as the
// metric label and the value handed to rejection hooks.
type hmacRejection struct {
	status int
	code   string
	reason string
}

var (
	errSecretUnavailable = &hmacRejection{http.StatusServiceUnavailable, "verification_unavailable", "secret_unavailable"}
	errSignatureMissing  = &hmacRejection{http.StatusUnauthorized, "signature_missing", "signature_missing"}
	errSignatureInvalid  = &hmacRejection{http.StatusUnauthorized, "signature_invalid", "signature_invalid"}
	errSignatureMismatch = &hmacRejection{http.StatusUnauthorized, "signature_mismatch", "signature_mismatch"}
	errNonceMissing      = &hmacRejection{http.StatusUnauthorized, "nonce_missing", "nonce_missing"}
	errBodyUnreadable    = &hmacRejection{http.StatusBadRequest, "invalid_body", "body_unreadable"}
	errNonceStore        = &hmacRejection{http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_error"}
)

// RequireHMAC verifies the delivery against the secret called secretName. A
// delivery whose nonce was already used is acknowledged with 200 without reaching next.
func (v *HMACValidator) RequireHMAC(secretName string, onReject ...RejectionHook) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			nonce, rejection := v.verify(r, secretName)
			if rejection == nil {
				var fresh bool
				fresh, rejection = v.claim(ctx, secretName, nonce)
				if rejection == nil && !fresh {
					v.record(ctx, false, "nonce_replay", start)
					httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
					return
				}
			}
			if rejection != nil {
				v.record(ctx, false, rejection.reason, start)
				httpx.WriteError(ctx, w, httpx.NewError(rejection.code, "webhook verification failed", rejection.status))
				for _, hook := range onReject {
					if hook != nil {
						hook(r, rejection.reason)
					}
				}
				return
			}

			v.record(ctx, true, "ok", start)
			meta := &HMACMetadata{SecretName: secretName, Nonce: nonce, ReceivedAt: start}
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(ctx, meta)))
		})
	}
}

// verify checks the signature and leaves the body readable for the next handler.
func (v *HMACValidator) verify(r *http.Request, secretName string) (string, *hmacRejection) {
	secret, err := v.secret(r.Context(), secretName)
	if err != nil {
		v.logger.Printf("auth: webhook secret %q unavailable: %v", secretName, err)
		return "", errSecretUnavailable
	}

	signatureHex := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if signatureHex == "" {
		return "", errSignatureMissing
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return "", errNonceMissing
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return "", errSignatureInvalid
	}

	body, err := bufferBody(r)
	if err != nil {
		return "", errBodyUnreadable
	}
	if !hmac.Equal(signature, computeHMAC(secret, body)) {
		return "", errSignatureMismatch
	}
	return nonce, nil
}

func (v *HMACValidator) claim(ctx context.Context, scope, nonce string) (bool, *hmacRejection) {
	if v.nonces == nil {
		return false, errNonceStore
	}
	fresh, err := v.nonces.UseNonce(ctx, scope, nonce, v.nonceTTL)
	if err != nil {
		v.logger.Printf("auth: webhook nonce claim failed: %v", err)
		return false, errNonceStore
	}
	return fresh, nil
}

func (v *HMACValidator) secret(ctx context.Context, name string) ([]byte, error) {
	if name == "" || v.secrets == nil {
		return nil, errors.New("auth: webhook secret not configured")
	}
	value, err := v.secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, errors.New("auth: webhook secret is empty")
	}
	return []byte(value), nil
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
	}
}

// bufferBody reads at most maxSignedBody bytes and puts them back on the request.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(body) > maxSignedBody {
		return nil, errors.New("auth: signed body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}
