package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAudience = "https://api.inkfold.in"
	googleIssuer = "https://accounts.google.com"
	syncAccount  = "courier-sync@inkfold.iam.gserviceaccount.com"
)

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

func (m *recordingMetrics) last() verificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return verificationRecord{}
	}
	return m.records[len(m.records)-1]
}

type oidcFixture struct {
	validator *OIDCValidator
	metrics   *recordingMetrics
	server    *jwksServer
	sign      func(mutate func(jwt.MapClaims)) string
}

func newOIDCFixture(t *testing.T, opts ...OIDCOption) *oidcFixture {
	t.Helper()
	key := newRSAKey(t)
	server := newJWKSServer(t, key, "svc-key", "max-age=600")
	now := time.Unix(1_700_000_000, 0)

	previous := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = previous })

	metrics := &recordingMetrics{}
	opts = append([]OIDCOption{WithOIDCLogger(noopLogger{}), WithOIDCMetrics(metrics)}, opts...)
	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSLogger(noopLogger{})), opts...)

	sign := func(mutate func(jwt.MapClaims)) string {
		claims := jwt.MapClaims{
			"aud":            testAudience,
			"iss":            googleIssuer,
			"sub":            "1099",
			"email":          syncAccount,
			"email_verified": true,
			"iat":            float64(now.Unix()),
			"exp":            float64(now.Add(time.Hour).Unix()),
		}
		if mutate != nil {
			mutate(claims)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "svc-key"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}
	return &oidcFixture{validator: validator, metrics: metrics, server: server, sign: sign}
}

func (f *oidcFixture) serve(header, value string) (*httptest.ResponseRecorder, *ServiceIdentity) {
	var seen *ServiceIdentity
	handler := f.validator.RequireOIDC(testAudience, []string{googleIssuer})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ORD-1/shipping-status", nil)
	if value != "" {
		req.Header.Set(header, value)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireOIDC_AcceptsBearerToken(t *testing.T) {
	f := newOIDCFixture(t)

	rr, identity := f.serve("Authorization", "Bearer "+f.sign(nil))

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, identity)
	assert.Equal(t, "1099", identity.Subject)
	assert.Equal(t, syncAccount, identity.Email)
	assert.Equal(t, googleIssuer, identity.Issuer)
	assert.Equal(t, verificationRecord{kind: "oidc", success: true, reason: "ok"}, f.metrics.last())
}

func TestRequireOIDC_AcceptsIAPAssertion(t *testing.T) {
	f := newOIDCFixture(t)

	rr, identity := f.serve("X-Goog-Iap-Jwt-Assertion", f.sign(func(c jwt.MapClaims) {
		c["aud"] = []string{"other", testAudience}
	}))

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotNil(t, identity)
}

func TestRequireOIDC_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		status int
		reason string
	}{
		{name: "audience", mutate: func(c jwt.MapClaims) { c["aud"] = "https://elsewhere" }, status: http.StatusUnauthorized, reason: "audience_mismatch"},
		{name: "issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }, status: http.StatusUnauthorized, reason: "issuer_mismatch"},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_600_000_000, 0).Unix()) }, status: http.StatusUnauthorized, reason: "token_invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOIDCFixture(t)
			rr, identity := f.serve("Authorization", "Bearer "+f.sign(tc.mutate))
			assert.Equal(t, tc.status, rr.Code)
			assert.Nil(t, identity)
			assert.Equal(t, tc.reason, f.metrics.last().reason)
		})
	}
}

func TestRequireOIDC_MissingToken(t *testing.T) {
	f := newOIDCFixture(t)

	rr, _ := f.serve("", "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "token_missing", f.metrics.last().reason)
}

func TestRequireOIDC_KeysUnavailable(t *testing.T) {
	f := newOIDCFixture(t)
	f.server.failing.Store(true)

	rr, _ := f.serve("Authorization", "Bearer "+f.sign(nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "jwks_unavailable", f.metrics.last().reason)
}

func TestRequireOIDC_NoAudienceConfigured(t *testing.T) {
	f := newOIDCFixture(t)
	handler := f.validator.RequireOIDC(" ", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		require.FailNow(t, "handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ORD-1/shipping-status", nil)
	req.Header.Set("Authorization", "Bearer "+f.sign(nil))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequireOIDC_ServiceAccountAllowlist(t *testing.T) {
	cases := []struct {
		name     string
		email    string
		verified bool
		want     int
	}{
		{name: "allowed", email: syncAccount, verified: true, want: http.StatusNoContent},
		{name: "unverified", email: syncAccount, verified: false, want: http.StatusForbidden},
		{name: "other account", email: "intruder@example.com", verified: true, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOIDCFixture(t, WithAllowedServiceAccounts("Courier-Sync@inkfold.iam.gserviceaccount.com"))
			rr, _ := f.serve("Authorization", "Bearer "+f.sign(func(c jwt.MapClaims) {
				c["email"] = tc.email
				c["email_verified"] = tc.verified
			}))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
