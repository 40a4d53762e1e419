package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webhookSecretName = "razorpay"
	webhookSecret     = "whsec_test"
)

var paymentCaptured = []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)

func secretsOf(values map[string]string) SecretProvider {
	return SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if v, ok := values[name]; ok {
			return v, nil
		}
		return "", errors.New("secret not found")
	})
}

func signedDelivery(secret string, body []byte, eventID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set(defaultSignatureHeader, hex.EncodeToString(computeHMAC([]byte(secret), body)))
	if eventID != "" {
		req.Header.Set(defaultNonceHeader, eventID)
	}
	return req
}

func newWebhookValidator(opts ...HMACOption) *HMACValidator {
	opts = append([]HMACOption{WithHMACLogger(noopLogger{})}, opts...)
	return NewHMACValidator(secretsOf(map[string]string{webhookSecretName: webhookSecret}), NewInMemoryNonceStore(), opts...)
}

func TestRequireHMAC_PassesVerifiedDelivery(t *testing.T) {
	metrics := &recordingMetrics{}
	validator := newWebhookValidator(WithHMACMetrics(metrics))

	var gotBody []byte
	var meta *HMACMetadata
	rr := httptest.NewRecorder()
	validator.RequireHMAC(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ = HMACMetadataFromContext(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, signedDelivery(webhookSecret, paymentCaptured, "evt_1"))

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, paymentCaptured, gotBody)
	require.NotNil(t, meta)
	assert.Equal(t, "evt_1", meta.Nonce)
	assert.Equal(t, webhookSecretName, meta.SecretName)
	assert.Equal(t, verificationRecord{kind: "hmac", success: true, reason: "ok"}, metrics.last())
}

func TestRequireHMAC_CustomHeaders(t *testing.T) {
	validator := newWebhookValidator(WithHMACHeaders("X-Sig", "X-Delivery"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", bytes.NewReader(paymentCaptured))
	req.Header.Set("X-Sig", hex.EncodeToString(computeHMAC([]byte(webhookSecret), paymentCaptured)))
	req.Header.Set("X-Delivery", "evt_custom")

	rr := httptest.NewRecorder()
	validator.RequireHMAC(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireHMAC_ReplayIsAcknowledgedOnce(t *testing.T) {
	metrics := &recordingMetrics{}
	validator := newWebhookValidator(WithHMACMetrics(metrics))
	calls := 0
	handler := validator.RequireHMAC(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, signedDelivery(webhookSecret, paymentCaptured, "evt_dup"))
		require.Equal(t, http.StatusOK, rr.Code, "delivery %d", i)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, "nonce_replay", metrics.last().reason)
}

func TestRequireHMAC_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		build  func() *http.Request
		status int
		reason string
	}{
		{
			name: "tampered body",
			build: func() *http.Request {
				req := signedDelivery(webhookSecret, paymentCaptured, "evt_1")
				req.Body = io.NopCloser(strings.NewReader(`{"event":"refund.processed"}`))
				return req
			},
			status: http.StatusUnauthorized,
			reason: "signature_mismatch",
		},
		{
			name: "wrong secret",
			build: func() *http.Request {
				return signedDelivery("not-the-secret", paymentCaptured, "evt_2")
			},
			status: http.StatusUnauthorized,
			reason: "signature_mismatch",
		},
		{
			name: "missing signature",
			build: func() *http.Request {
				req := signedDelivery(webhookSecret, paymentCaptured, "evt_3")
				req.Header.Del(defaultSignatureHeader)
				return req
			},
			status: http.StatusUnauthorized,
			reason: "signature_missing",
		},
		{
			name: "missing event id",
			build: func() *http.Request {
				return signedDelivery(webhookSecret, paymentCaptured, "")
			},
			status: http.StatusUnauthorized,
			reason: "nonce_missing",
		},
		{
			name: "signature not hex",
			build: func() *http.Request {
				req := signedDelivery(webhookSecret, paymentCaptured, "evt_4")
				req.Header.Set(defaultSignatureHeader, "zz-not-hex")
				return req
			},
			status: http.StatusUnauthorized,
			reason: "signature_invalid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rejected string
			hook := func(_ *http.Request, reason string) { rejected = reason }

			rr := httptest.NewRecorder()
			newWebhookValidator().RequireHMAC(webhookSecretName, hook)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				require.FailNow(t, "handler must not run")
			})).ServeHTTP(rr, tc.build())

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.reason, rejected)
		})
	}
}

func TestRequireHMAC_SecretUnavailable(t *testing.T) {
	validator := NewHMACValidator(secretsOf(nil), NewInMemoryNonceStore(), WithHMACLogger(noopLogger{}))

	rr := httptest.NewRecorder()
	validator.RequireHMAC(webhookSecretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		require.FailNow(t, "handler must not run")
	})).ServeHTTP(rr, signedDelivery(webhookSecret, paymentCaptured, "evt_1"))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type failingNonceStore struct{}

func (failingNonceStore) UseNonce(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRequireHMAC_NonceStoreFailure(t *testing.T) {
	validator := NewHMACValidator(secretsOf(map[string]string{webhookSecretName: webhookSecret}), failingNonceStore{}, WithHMACLogger(noopLogger{}))

	rr := httptest.NewRecorder()
	validator.RequireHMAC(webhookSecretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		require.FailNow(t, "handler must not run")
	})).ServeHTTP(rr, signedDelivery(webhookSecret, paymentCaptured, "evt_1"))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestInMemoryNonceStore_Expiry(t *testing.T) {
	store := NewInMemoryNonceStore()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	fresh, err := store.UseNonce(ctx, "razorpay", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.UseNonce(ctx, "razorpay", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = store.UseNonce(ctx, "other", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	now = now.Add(2 * time.Minute)
	fresh, err = store.UseNonce(ctx, "razorpay", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	_, err = store.UseNonce(ctx, "razorpay", "", time.Minute)
	assert.Error(t, err)
}

func TestRedisNonceStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisNonceStore(client, "inkfold:webhook-nonce:")
	ctx := context.Background()

	fresh, err := store.UseNonce(ctx, "razorpay", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.True(t, mr.Exists("inkfold:webhook-nonce:razorpay/evt_1"))

	fresh, err = store.UseNonce(ctx, "razorpay", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	mr.FastForward(2 * time.Minute)
	fresh, err = store.UseNonce(ctx, "razorpay", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	_, err = store.UseNonce(ctx, "razorpay", "evt_2", 0)
	assert.Error(t, err)
}
