package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// ServiceIdentity is the Google service account behind an internal call, such as
// the courier status sync job.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator guards internal routes with Google-signed OIDC or IAP tokens.
type OIDCValidator struct {
	keys     *JWKSCache
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
	accounts map[string]struct{}
}

type OIDCOption func(*OIDCValidator)

func NewOIDCValidator(keys *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{keys: keys, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.metrics = recorder
	}
}

// WithAllowedServiceAccounts limits callers to these verified emails. Without it
// any principal with a matching issuer and audience is accepted.
func WithAllowedServiceAccounts(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				continue
			}
			if v.accounts == nil {
				v.accounts = make(map[string]struct{})
			}
			v.accounts[email] = struct{}{}
		}
	}
}

// oidcRejection describes why a token was refused.
type oidcRejection struct {
	status  int
	code    string
	reason  string
	message string
}

func (r *oidcRejection) Error() string { return r.reason }

// RequireOIDC admits requests whose token was issued by one of issuers for audience.
// An empty issuers list skips the issuer check.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			identity, rejection := v.verify(r, audience, allowedIssuers)
			if rejection != nil {
				v.record(r.Context(), false, rejection.reason, start)
				writeAuthError(r.Context(), w, rejection.status, rejection.code, rejection.message)
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(r.Context(), identity)))
		})
	}
}

func (v *OIDCValidator) verify(r *http.Request, audience string, issuers map[string]struct{}) (*ServiceIdentity, *oidcRejection) {
	if audience == "" || v.keys == nil {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "not_configured", "token verification unavailable"}
	}
	raw := oidcToken(r)
	if raw == "" {
		return nil, &oidcRejection{http.StatusUnauthorized, "unauthenticated", "token_missing", "missing identity token"}
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(r.Context())); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.logger.Printf("auth: oidc keys unavailable: %v", err)
			return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "jwks_unavailable", "token verification unavailable"}
		}
		v.logger.Printf("auth: oidc token rejected: %v", err)
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "token_invalid", "identity token invalid"}
	}

	issuer, _ := claims["iss"].(string)
	if _, ok := issuers[issuer]; len(issuers) > 0 && !ok {
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "issuer_mismatch", "identity token invalid"}
	}
	if !claims.VerifyAudience(audience, true) {
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "audience_mismatch", "identity token invalid"}
	}

	identity := &ServiceIdentity{Issuer: issuer}
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)

	if len(v.accounts) > 0 {
		verified, _ := claims["email_verified"].(bool)
		if _, ok := v.accounts[strings.ToLower(identity.Email)]; !ok || !verified {
			return nil, &oidcRejection{http.StatusForbidden, "forbidden", "principal_not_allowed", "service account not allowed"}
		}
	}
	return identity, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
	}
}

// oidcToken prefers the bearer token and falls back to the IAP assertion header.
func oidcToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
