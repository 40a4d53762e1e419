package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/inkfold/api/internal/platform/validation"
)

// ValidationError lists the fields that failed validation, as dotted Go paths.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns the offending field paths in sorted order.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load builds the configuration. Later sources win: defaults, .env, the process
// environment, then WithEnvMap. Secret references are resolved last.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)
	env, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	bind(env, &cfg)
	derive(&cfg)

	resolved, err := resolveSecrets(ctx, options.secret, &cfg)
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func bind(env envLookup, cfg *Config) {
	env.str(&cfg.Server.Port, "API_SERVER_PORT")
	env.duration(&cfg.Server.ReadTimeout, "API_SERVER_READ_TIMEOUT")
	env.duration(&cfg.Server.WriteTimeout, "API_SERVER_WRITE_TIMEOUT")
	env.duration(&cfg.Server.IdleTimeout, "API_SERVER_IDLE_TIMEOUT")

	env.str(&cfg.Firebase.ProjectID, "API_FIREBASE_PROJECT_ID")
	env.str(&cfg.Firebase.CredentialsFile, "API_FIREBASE_CREDENTIALS_FILE")
	env.boolean(&cfg.Firebase.CheckRevoked, "API_FIREBASE_CHECK_REVOKED")
	env.duration(&cfg.Firebase.VerifyTimeout, "API_FIREBASE_VERIFY_TIMEOUT")

	env.str(&cfg.Firestore.ProjectID, "API_FIRESTORE_PROJECT_ID")
	env.str(&cfg.Firestore.EmulatorHost, "API_FIRESTORE_EMULATOR_HOST")

	env.str(&cfg.Storage.PincodeBucket, "API_SHIPPING_PINCODE_BUCKET")
	env.str(&cfg.Storage.PincodeObject, "API_SHIPPING_PINCODE_OBJECT")

	env.str(&cfg.PSP.RazorpayKeyID, "API_PSP_RAZORPAY_KEY_ID")
	env.str(&cfg.PSP.RazorpayKeySecret, "API_PSP_RAZORPAY_KEY_SECRET")
	env.str(&cfg.PSP.RazorpayWebhookSecret, "API_PSP_RAZORPAY_WEBHOOK_SECRET")
	env.boolean(&cfg.PSP.RequireSignature, "API_PSP_RAZORPAY_REQUIRE_SIGNATURE")

	env.str(&cfg.Shipping.SenderDistrict, "API_SHIPPING_SENDER_DISTRICT")
	env.str(&cfg.Shipping.SenderState, "API_SHIPPING_SENDER_STATE")
	env.float(&cfg.Shipping.FreeShippingThreshold, "API_SHIPPING_FREE_THRESHOLD")
	env.duration(&cfg.Shipping.QuoteCacheTTL, "API_SHIPPING_QUOTE_CACHE_TTL")

	env.integer(&cfg.Orders.MaxItems, "API_ORDERS_MAX_ITEMS")
	env.float(&cfg.Orders.MaxAmount, "API_ORDERS_MAX_AMOUNT")
	env.integer(&cfg.Orders.MaxAddressLength, "API_ORDERS_MAX_ADDRESS_LENGTH")
	env.integer(&cfg.Orders.CreateAttempts, "API_ORDERS_CREATE_ATTEMPTS")
	env.duration(&cfg.Orders.CreateBackoff, "API_ORDERS_CREATE_BACKOFF")

	env.str(&cfg.Cache.RedisURL, "API_CACHE_REDIS_URL")
	env.str(&cfg.PubSub.ProjectID, "API_PUBSUB_PROJECT_ID")
	env.str(&cfg.PubSub.OrderEventsTopic, "API_PUBSUB_ORDER_EVENTS_TOPIC")
	env.integer(&cfg.RateLimits.QuotePerMinute, "API_RATELIMIT_QUOTE_PER_MIN")

	env.str(&cfg.Security.Environment, "API_SECURITY_ENVIRONMENT")
	env.str(&cfg.Security.OIDC.JWKSURL, "API_SECURITY_OIDC_JWKS_URL")
	env.str(&cfg.Security.OIDC.Audience, "API_SECURITY_OIDC_AUDIENCE")
	env.keyValues(&cfg.Security.OIDC.Audiences, "API_SECURITY_OIDC_AUDIENCES")
	env.list(&cfg.Security.OIDC.Issuers, "API_SECURITY_OIDC_ISSUERS")
	env.list(&cfg.Security.OIDC.ServiceAccounts, "API_SECURITY_OIDC_SERVICE_ACCOUNTS")
	env.str(&cfg.Security.HMAC.SignatureHeader, "API_SECURITY_HMAC_HEADER_SIGNATURE")
	env.str(&cfg.Security.HMAC.NonceHeader, "API_SECURITY_HMAC_HEADER_NONCE")
	env.duration(&cfg.Security.HMAC.NonceTTL, "API_SECURITY_HMAC_NONCE_TTL")

	env.str(&cfg.Idempotency.Header, "API_IDEMPOTENCY_HEADER")
	env.str(&cfg.Idempotency.Store, "API_IDEMPOTENCY_STORE")
	env.duration(&cfg.Idempotency.TTL, "API_IDEMPOTENCY_TTL")
	env.duration(&cfg.Idempotency.CleanupInterval, "API_IDEMPOTENCY_CLEANUP_INTERVAL")
	env.integer(&cfg.Idempotency.CleanupBatchSize, "API_IDEMPOTENCY_CLEANUP_BATCH")

	env.boolean(&cfg.Metrics.Enabled, "API_METRICS_ENABLED")
	env.str(&cfg.Metrics.Path, "API_METRICS_PATH")
}

// derive fills fields that default to other fields.
func derive(cfg *Config) {
	cfg.Security.Environment = strings.ToLower(cfg.Security.Environment)
	cfg.Idempotency.Store = strings.ToLower(cfg.Idempotency.Store)
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}
}

var checker = validation.New()

func validate(cfg Config) error {
	var fields []string
	var invalid *validation.Error
	if err := checker.Struct(cfg); errors.As(err, &invalid) {
		for field := range invalid.Fields {
			fields = append(fields, field)
		}
	} else if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.Idempotency.Store == "redis" && cfg.Cache.RedisURL == "" {
		fields = append(fields, "Cache.RedisURL")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		fields = append(fields, "Metrics.Path")
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	return &ValidationError{fields: fields}
}
