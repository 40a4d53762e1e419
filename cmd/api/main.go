// Command api serves the inkfold storefront API: shipping quotes and the order lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/inkfold/api/internal/platform/config"
	"github.com/inkfold/api/internal/platform/observability"
	"github.com/inkfold/api/internal/services"
)

const meterName = "github.com/inkfold/api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: read environment: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(isProductionLabel(env["API_SECURITY_ENVIRONMENT"]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: init logger: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, env, logger.Named("api"))
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled or the server fails.
// Failures are logged here so main only decides the exit code.
func run(ctx context.Context, env map[string]string, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	ctx = observability.WithLogger(ctx, logger)

	var cleanup teardown
	defer cleanup.run(logger)

	meter := otel.GetMeterProvider().Meter(meterName)
	fetcher, err := newSecretFetcher(ctx, logger, env, meter)
	if err != nil {
		logger.Error("secret fetcher init failed", zap.Error(err))
		return err
	}
	cleanup.add("secret fetcher", func(context.Context) error { return fetcher.Close() })

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("required secrets missing", zap.Strings("secrets", missing.RedactedNames()))
			return err
		}
		logger.Error("configuration invalid", zap.Error(err))
		return err
	}

	infra, err := buildInfra(ctx, logger, cfg, fetcher, &cleanup)
	if err != nil {
		logger.Error("infrastructure init failed", zap.Error(err))
		return err
	}
	infra.build = buildInfoFromEnv(env, cfg, startedAt)
	infra.meter = meter

	srv, err := newServer(ctx, logger, cfg, infra, &cleanup)
	if err != nil {
		logger.Error("server init failed", zap.Error(err))
		return err
	}
	if err := srv.serve(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	return nil
}

// teardown closes resources in reverse order of acquisition.
type teardown struct {
	steps []teardownStep
}

type teardownStep struct {
	name  string
	close func(context.Context) error
}

func (t *teardown) add(name string, fn func(context.Context) error) {
	t.steps = append(t.steps, teardownStep{name: name, close: fn})
}

func (t *teardown) run(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if err := step.close(ctx); err != nil {
			logger.Warn("close failed", zap.String("resource", step.name), zap.Error(err))
		}
	}
	t.steps = nil
}

func isProductionLabel(label string) bool {
	return config.Config{Security: config.SecurityConfig{Environment: label}}.IsProduction()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	info := services.BuildInfo{
		Version:     strings.TrimSpace(env["API_BUILD_VERSION"]),
		CommitSHA:   strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]),
		Environment: strings.TrimSpace(cfg.Security.Environment),
		StartedAt:   started,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.CommitSHA == "" {
		info.CommitSHA = "unknown"
	}
	if info.Environment == "" {
		info.Environment = "local"
	}
	return info
}
