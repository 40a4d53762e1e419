// Package config loads runtime settings from the environment, an optional .env file
// and Secret Manager references.
package config

import (
	"strings"
	"time"
)

// Config is the full runtime configuration of the API process.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Shipping    ShippingConfig
	Orders      OrderConfig
	Cache       CacheConfig
	PubSub      PubSubConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port         string `validate:"required"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project whose ID tokens are accepted.
type FirebaseConfig struct {
	ProjectID       string `validate:"required"`
	CredentialsFile string
	// CheckRevoked makes every request confirm the session was not revoked.
	CheckRevoked  bool
	VerifyTimeout time.Duration
}

// FirestoreConfig selects the database project. EmulatorHost is only set locally.
type FirestoreConfig struct {
	ProjectID    string `validate:"required"`
	EmulatorHost string
}

// StorageConfig points at the Cloud Storage object holding the pincode directory.
// An empty bucket keeps the embedded directory.
type StorageConfig struct {
	PincodeBucket string
	PincodeObject string `validate:"required_with=PincodeBucket"`
}

// PSPConfig collects Razorpay credentials.
type PSPConfig struct {
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RequireSignature      bool
}

// ShippingConfig describes the sender location and the free-shipping rule.
type ShippingConfig struct {
	SenderDistrict        string  `validate:"required"`
	SenderState           string  `validate:"required"`
	FreeShippingThreshold float64 `validate:"gte=0"`
	QuoteCacheTTL         time.Duration
}

// OrderConfig bounds order input and the create retry policy.
type OrderConfig struct {
	MaxItems         int           `validate:"gt=0"`
	MaxAmount        float64       `validate:"gt=0"`
	MaxAddressLength int           `validate:"gt=0"`
	CreateAttempts   int           `validate:"min=1,max=5"`
	CreateBackoff    time.Duration `validate:"gte=0"`
}

// CacheConfig selects the shared cache backend. An empty RedisURL uses process memory.
type CacheConfig struct {
	RedisURL string
}

// PubSubConfig names the topic receiving order events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

type RateLimitConfig struct {
	QuotePerMinute int `validate:"gt=0"`
}

// SecurityConfig covers service-to-service callers: OIDC for internal jobs and
// HMAC for payment webhooks.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig describes which Google-signed tokens the internal routes accept.
// Audiences maps an environment name to its audience when Audience is unset.
type OIDCConfig struct {
	JWKSURL         string
	Audience        string
	Audiences       map[string]string
	Issuers         []string
	ServiceAccounts []string
}

type HMACConfig struct {
	SignatureHeader string
	NonceHeader     string
	NonceTTL        time.Duration
}

// IdempotencyConfig selects the replay store and its retention.
type IdempotencyConfig struct {
	Header           string        `validate:"required"`
	Store            string        `validate:"oneof=firestore redis memory"`
	TTL              time.Duration `validate:"gt=0"`
	CleanupInterval  time.Duration `validate:"gt=0"`
	CleanupBatchSize int           `validate:"gt=0"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// IsProduction reports whether Security.Environment names a production deployment.
func (c Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Security.Environment))
	return env == "prod" || env == "production"
}

// Defaults returns the configuration used when no variable overrides a field.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
		Firebase: FirebaseConfig{VerifyTimeout: 5 * time.Second},
		Storage:  StorageConfig{PincodeObject: "pincodes/all_india_pincode.csv"},
		Shipping: ShippingConfig{
			SenderDistrict:        "GORAKHPUR",
			SenderState:           "UTTAR PRADESH",
			FreeShippingThreshold: 499,
			QuoteCacheTTL:         6 * time.Hour,
		},
		Orders: OrderConfig{
			MaxItems:         20,
			MaxAmount:        100000,
			MaxAddressLength: 500,
			CreateAttempts:   3,
			CreateBackoff:    200 * time.Millisecond,
		},
		PubSub:     PubSubConfig{OrderEventsTopic: "order-events"},
		RateLimits: RateLimitConfig{QuotePerMinute: 60},
		Security: SecurityConfig{
			Environment: "local",
			OIDC: OIDCConfig{
				JWKSURL: "https://www.googleapis.com/oauth2/v3/certs",
				Issuers: []string{"https://accounts.google.com", "https://cloud.google.com/iap"},
			},
			HMAC: HMACConfig{
				SignatureHeader: "X-Razorpay-Signature",
				NonceHeader:     "X-Razorpay-Event-Id",
				NonceTTL:        24 * time.Hour,
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           "Idempotency-Key",
			Store:            "firestore",
			TTL:              24 * time.Hour,
			CleanupInterval:  time.Hour,
			CleanupBatchSize: 200,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}
