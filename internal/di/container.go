package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inkfold/api/internal/platform/cache"
	"github.com/inkfold/api/internal/platform/config"
	"github.com/inkfold/api/internal/platform/observability"
	"github.com/inkfold/api/internal/platform/validation"
	"github.com/inkfold/api/internal/repositories"
	"github.com/inkfold/api/internal/services"
	"github.com/inkfold/api/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Shipping services.ShippingService
	Audit    services.AuditLogService
	System   services.SystemService
}

// Infrastructure carries the clients built by the binary. Nil fields fall back to
// in-process defaults: memory cache, embedded pincode directory, no event publishing
// and no payment signature verification.
type Infrastructure struct {
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Cache     cache.Cache
	Directory shipping.Directory
	Payments  services.PaymentVerifier
	Events    services.OrderEventPublisher
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	cache cache.Cache
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}
	if infra.Cache == nil {
		infra.Cache = cache.NewMemoryCache()
	}
	if infra.Directory == nil {
		seed, err := shipping.SeedDirectory()
		if err != nil {
			return nil, fmt.Errorf("load embedded pincode directory: %w", err)
		}
		infra.Directory = seed
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		cache:        infra.Cache,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	auditRepo := reg.AuditLogs()
	if auditRepo == nil {
		return Services{}, errors.New("audit log repository is required")
	}
	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Clock:      infra.Clock,
		Logger:     infra.Logger.Named("audit").Sugar(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	engine, err := shipping.NewEngine(infra.Directory, shipping.Config{})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping engine: %w", err)
	}
	shippingDeps := services.ShippingServiceDeps{
		Engine:                engine,
		SenderDistrict:        cfg.Shipping.SenderDistrict,
		SenderState:           cfg.Shipping.SenderState,
		FreeShippingThreshold: cfg.Shipping.FreeShippingThreshold,
		Cache:                 infra.Cache,
		CacheTTL:              cfg.Shipping.QuoteCacheTTL,
		Logger:                eventLogger(infra.Logger.Named("shipping")),
	}
	if infra.Metrics != nil {
		shippingDeps.Metrics = infra.Metrics
	}
	shippingSvc, err := services.NewShippingService(shippingDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build shipping service: %w", err)
	}
	svc.Shipping = shippingSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            infra.Clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo == nil {
		return Services{}, errors.New("order repository is required")
	}
	orderDeps := services.OrderServiceDeps{
		Orders:           ordersRepo,
		Shipping:         shippingSvc,
		Audit:            auditSvc,
		Validator:        validation.New(),
		Payments:         infra.Payments,
		RequireSignature: cfg.PSP.RequireSignature,
		Events:           infra.Events,
		Limits: services.OrderLimits{
			MaxItems:         cfg.Orders.MaxItems,
			MaxAmount:        cfg.Orders.MaxAmount,
			MaxAddressLength: cfg.Orders.MaxAddressLength,
			CreateAttempts:   cfg.Orders.CreateAttempts,
			CreateBackoff:    cfg.Orders.CreateBackoff,
		},
		Clock:  infra.Clock,
		Logger: eventLogger(infra.Logger.Named("orders")),
	}
	if infra.Metrics != nil {
		orderDeps.Metrics = infra.Metrics
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}

// eventLogger adapts zap to the service event logger signature. Events carrying an error
// field are logged at warn level.
func eventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		if _, failed := fields["error"]; failed {
			logger.Warn(event, zFields...)
			return
		}
		logger.Debug(event, zFields...)
	}
}
