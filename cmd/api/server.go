package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inkfold/api/internal/di"
	"github.com/inkfold/api/internal/handlers"
	"github.com/inkfold/api/internal/platform/auth"
	"github.com/inkfold/api/internal/platform/config"
	"github.com/inkfold/api/internal/platform/httpx"
	"github.com/inkfold/api/internal/platform/idempotency"
	"github.com/inkfold/api/internal/platform/observability"
	"github.com/inkfold/api/internal/repositories"
	firestoreRepo "github.com/inkfold/api/internal/repositories/firestore"
	"github.com/inkfold/api/internal/services"
)

const (
	shutdownGrace    = 10 * time.Second
	cleanupTimeout   = time.Minute
	jwksFetchTimeout = 5 * time.Second
)

type server struct {
	logger     *zap.Logger
	http       *http.Server
	idempotent idempotency.Store
	cleanup    config.IdempotencyConfig
}

func newServer(ctx context.Context, logger *zap.Logger, cfg config.Config, in *infra, cleanup *teardown) (*server, error) {
	health, err := repositories.NewDependencyHealthRepository(in.healthChecks())
	if err != nil {
		return nil, fmt.Errorf("health checks: %w", err)
	}
	registry, err := firestoreRepo.NewRegistry(in.firestore, health)
	if err != nil {
		return nil, fmt.Errorf("repositories: %w", err)
	}

	deps := di.Infrastructure{
		Logger:    logger,
		Metrics:   in.metrics,
		Cache:     in.cache,
		Directory: in.directory,
		Events:    in.events,
		Build:     in.build,
	}
	if in.payments != nil {
		deps.Payments = in.payments
	}
	container, err := di.NewContainer(ctx, cfg, registry, deps)
	if err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	cleanup.add("container", container.Close)

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase,
		auth.WithFirebaseTimeout(cfg.Firebase.VerifyTimeout),
		auth.WithRevocationCheck(cfg.Firebase.CheckRevoked),
	)
	if err != nil {
		return nil, fmt.Errorf("firebase verifier: %w", err)
	}

	authn := auth.NewAuthenticator(verifier, auth.WithVerificationTimeout(cfg.Firebase.VerifyTimeout))
	store := in.idempotencyStore(cfg.Idempotency)
	router := handlers.NewRouter(routes(logger, cfg, in, container.Services, authn, store)...)

	return &server{
		logger: logger,
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		idempotent: store,
		cleanup:    cfg.Idempotency,
	}, nil
}

// routes assembles router options. Webhooks need a webhook secret and internal
// routes need a JWKS URL; each group stays unmounted otherwise.
func routes(
	logger *zap.Logger,
	cfg config.Config,
	in *infra,
	svc di.Services,
	authn *auth.Authenticator,
	store idempotency.Store,
) []handlers.Option {
	projectID := cfg.Firebase.ProjectID
	if projectID == "" {
		projectID = cfg.Firestore.ProjectID
	}
	httpLogger := logger.Named("http")

	idem := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		idempotency.WithMeter(in.meter),
	)
	orders := handlers.NewOrderHandlers(authn, svc.Orders, handlers.WithOrderIdempotency(idem))

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			httpx.ClientIPMiddleware,
			httpx.DebugErrorsMiddleware(!cfg.IsProduction()),
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(projectID),
			in.metrics.Middleware,
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(in.build),
			handlers.WithHealthSystemService(svc.System),
		)),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithActionRoutes(orders.ActionRoutes),
		handlers.WithShippingRoutes(handlers.NewShippingHandlers(svc.Shipping,
			handlers.WithQuoteRateLimit(cfg.RateLimits.QuotePerMinute, time.Now)).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authn, svc.Audit).Routes),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, in.metrics.Handler()))
	}

	authLogger := logger.Named("auth")
	if oidc := oidcMiddleware(authLogger, cfg.Security.OIDC, in.metrics); oidc != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidc),
			handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Orders).Routes),
		)
	}
	if in.payments == nil || strings.TrimSpace(cfg.PSP.RazorpayWebhookSecret) == "" {
		logger.Warn("razorpay webhook secret not configured; webhook routes disabled")
		return opts
	}
	return append(opts,
		handlers.WithWebhookMiddlewares(webhookMiddleware(authLogger, cfg.Security.HMAC, in, svc.Audit)),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Orders).Routes),
	)
}

func oidcMiddleware(logger *zap.Logger, cfg config.OIDCConfig, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil
	}
	printf := observability.NewPrintfAdapter(logger)
	validator := auth.NewOIDCValidator(
		auth.NewJWKSCache(cfg.JWKSURL,
			auth.WithJWKSLogger(printf),
			auth.WithJWKSHTTPClient(&http.Client{Timeout: jwksFetchTimeout}),
		),
		auth.WithOIDCLogger(printf),
		auth.WithOIDCMetrics(metrics),
		auth.WithAllowedServiceAccounts(cfg.ServiceAccounts...),
	)
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		logger.Warn("OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Issuers)
}

// webhookMiddleware verifies gateway signatures. Nonces go to Redis when it is
// configured so replay protection holds across instances.
func webhookMiddleware(logger *zap.Logger, cfg config.HMACConfig, in *infra, audit services.AuditLogService) func(http.Handler) http.Handler {
	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if in.redis != nil {
		nonces = auth.NewRedisNonceStore(in.redis.Client(), redisKeyPrefix+"webhook-nonce:")
	}
	validator := auth.NewHMACValidator(in.payments, nonces,
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACMetrics(in.metrics),
		auth.WithHMACHeaders(cfg.SignatureHeader, cfg.NonceHeader),
		auth.WithHMACNonceTTL(cfg.NonceTTL),
	)
	return validator.RequireHMAC("razorpay", handlers.WebhookRejectionAudit(audit))
}

// serve runs the listener and the idempotency sweeper until ctx ends, then drains
// in-flight requests.
func (s *server) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("inkfold api listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	if s.cleanup.CleanupInterval > 0 {
		g.Go(func() error {
			s.sweepIdempotencyKeys(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *server) sweepIdempotencyKeys(ctx context.Context) {
	logger := s.logger.Named("idempotency")
	ticker := time.NewTicker(s.cleanup.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
			removed, err := s.idempotent.CleanupExpired(runCtx, now.UTC(), s.cleanup.CleanupBatchSize)
			cancel()
			switch {
			case err != nil:
				logger.Error("expired key sweep failed", zap.Error(err))
			case removed > 0:
				logger.Info("expired keys removed", zap.Int("count", removed))
			}
		}
	}
}
