package main

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/inkfold/api/internal/platform/secrets"
)

// envReader reads trimmed values from the merged environment map.
type envReader map[string]string

func (e envReader) get(key string, fallbacks ...string) string {
	if value := strings.TrimSpace(e[key]); value != "" {
		return value
	}
	for _, fallback := range fallbacks {
		if value := strings.TrimSpace(e[fallback]); value != "" {
			return value
		}
	}
	return ""
}

// pairs parses "a=1,b=2", dropping entries without a key or value.
func (e envReader) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(e[key], ",") {
		name, value, _ := strings.Cut(entry, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// newSecretFetcher builds the Secret Manager client before config.Load, so it reads
// the raw environment rather than a Config.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string, meter metric.Meter) (*secrets.Fetcher, error) {
	vars := envReader(env)

	environment := strings.ToLower(vars.get("API_SECURITY_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	fallback := vars.get("API_SECRET_FALLBACK_FILE")
	if fallback == "" {
		fallback = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(environment),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallback),
	}
	if meter != nil {
		opts = append(opts, secrets.WithMeter(meter))
	}
	if projects := secretProjectMapFromEnv(env); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if project := vars.get("API_SECRET_DEFAULT_PROJECT_ID", "API_FIREBASE_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := vars.get("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve before serving. Outside
// production nothing is required, so local runs work without a payment gateway.
func requiredSecretNames(env map[string]string) []string {
	vars := envReader(env)
	if !isProductionLabel(vars.get("API_SECURITY_ENVIRONMENT")) {
		return nil
	}
	names := []string{"PSP.RazorpayKeySecret", "PSP.RazorpayWebhookSecret"}
	if strings.EqualFold(vars.get("API_IDEMPOTENCY_STORE"), "redis") {
		names = append(names, "Cache.RedisURL")
	}
	return names
}

// secretProjectMapFromEnv reads API_SECRET_PROJECT_IDS ("prod=proj-a,staging=proj-b").
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range envReader(env).pairs("API_SECRET_PROJECT_IDS") {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

// secretVersionPinsFromEnv reads API_SECRET_VERSION_PINS. A key may carry an
// environment prefix ("prod:razorpay/key-secret=3") and any reference scheme.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range envReader(env).pairs("API_SECRET_VERSION_PINS") {
		var scope string
		if label, rest, ok := strings.Cut(ref, ":"); ok && label != "" && !strings.HasPrefix(rest, "//") {
			scope = strings.ToLower(strings.TrimSpace(label)) + ":"
			ref = strings.TrimSpace(rest)
		}
		ref = strings.TrimPrefix(strings.TrimPrefix(ref, "secret://"), "sm://")
		pins[scope+"secret://"+ref] = version
	}
	return pins
}
