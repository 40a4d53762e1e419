package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/inkfold/api/internal/payments"
	"github.com/inkfold/api/internal/platform/cache"
	"github.com/inkfold/api/internal/platform/config"
	pfirestore "github.com/inkfold/api/internal/platform/firestore"
	"github.com/inkfold/api/internal/platform/idempotency"
	"github.com/inkfold/api/internal/platform/jobs"
	"github.com/inkfold/api/internal/platform/observability"
	"github.com/inkfold/api/internal/platform/secrets"
	platformstorage "github.com/inkfold/api/internal/platform/storage"
	"github.com/inkfold/api/internal/repositories"
	"github.com/inkfold/api/internal/services"
	"github.com/inkfold/api/internal/shipping"
)

const (
	redisKeyPrefix       = "inkfold:"
	pincodeLoadTimeout   = 30 * time.Second
	secretHealthReference = "secret://system/healthz?version=latest"
)

// infra holds the external clients shared by services and middleware. Optional
// pieces stay nil when their configuration is absent.
type infra struct {
	firestore *pfirestore.Provider
	fetcher   *secrets.Fetcher
	cache     cache.Cache
	redis     *cache.RedisAdapter
	directory *shipping.StaticDirectory
	topic     *pubsub.Topic
	events    services.OrderEventPublisher
	payments  *payments.RazorpayVerifier
	metrics   *observability.Metrics
	meter     metric.Meter
	build     services.BuildInfo
}

func buildInfra(ctx context.Context, logger *zap.Logger, cfg config.Config, fetcher *secrets.Fetcher, cleanup *teardown) (*infra, error) {
	in := &infra{
		firestore: pfirestore.NewProvider(cfg.Firestore),
		fetcher:   fetcher,
		metrics:   observability.NewMetrics(),
	}
	if _, err := in.firestore.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}

	if url := strings.TrimSpace(cfg.Cache.RedisURL); url != "" {
		adapter, err := cache.NewRedisAdapter(url, cache.WithKeyPrefix(redisKeyPrefix))
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		in.cache, in.redis = adapter, adapter
	} else {
		in.cache = cache.NewMemoryCache()
	}

	directory, err := loadPincodeDirectory(ctx, logger.Named("shipping"), cfg)
	if err != nil {
		return nil, err
	}
	in.directory = directory

	if err := in.connectEvents(ctx, logger, cfg.PubSub, cleanup); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.PSP.RazorpayKeySecret) == "" {
		logger.Warn("razorpay key secret not configured; payment signatures cannot be verified")
		return in, nil
	}
	in.payments, err = payments.NewRazorpayVerifier(payments.RazorpayConfig{
		KeyID:         cfg.PSP.RazorpayKeyID,
		KeySecret:     cfg.PSP.RazorpayKeySecret,
		WebhookSecret: cfg.PSP.RazorpayWebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay verifier: %w", err)
	}
	return in, nil
}

func (in *infra) connectEvents(ctx context.Context, logger *zap.Logger, cfg config.PubSubConfig, cleanup *teardown) error {
	topicName := strings.TrimSpace(cfg.OrderEventsTopic)
	if topicName == "" || cfg.ProjectID == "" {
		logger.Info("order event publishing disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	cleanup.add("pubsub", func(context.Context) error { return client.Close() })

	topic := client.Topic(topicName)
	cleanup.add("pubsub topic", func(context.Context) error {
		topic.Stop()
		return nil
	})
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic, jobs.WithOrderedDelivery())
	if err != nil {
		return fmt.Errorf("order event publisher: %w", err)
	}
	in.topic, in.events = topic, publisher
	return nil
}

func (in *infra) idempotencyStore(cfg config.IdempotencyConfig) idempotency.Store {
	switch cfg.Store {
	case "memory":
		return idempotency.NewMemoryStore()
	case "redis":
		if in.redis != nil {
			return idempotency.NewRedisStore(in.redis.Client(), redisKeyPrefix+"idem:")
		}
	}
	return idempotency.NewFirestoreStore(in.firestore)
}

// loadPincodeDirectory prefers the full export in Cloud Storage and falls back to
// the embedded seed when no bucket is configured or the download fails.
func loadPincodeDirectory(ctx context.Context, logger *zap.Logger, cfg config.Config) (*shipping.StaticDirectory, error) {
	bucket := strings.TrimSpace(cfg.Storage.PincodeBucket)
	if bucket != "" {
		dir, err := downloadPincodeDirectory(ctx, cfg, bucket)
		if err == nil {
			logger.Info("pincode directory loaded",
				zap.String("bucket", bucket),
				zap.String("object", cfg.Storage.PincodeObject),
				zap.Int("pincodes", dir.Len()),
			)
			return dir, nil
		}
		logger.Warn("pincode directory unavailable; using embedded seed",
			zap.String("bucket", bucket),
			zap.String("object", cfg.Storage.PincodeObject),
			zap.Error(err),
		)
	}
	dir, err := shipping.SeedDirectory()
	if err != nil {
		return nil, fmt.Errorf("embedded pincode directory: %w", err)
	}
	return dir, nil
}

func downloadPincodeDirectory(ctx context.Context, cfg config.Config, bucket string) (*shipping.StaticDirectory, error) {
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := cloudstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	reader, err := platformstorage.NewObjectReader(client)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, pincodeLoadTimeout)
	defer cancel()
	data, err := reader.ReadAll(ctx, bucket, cfg.Storage.PincodeObject)
	if err != nil {
		return nil, err
	}
	return shipping.LoadDirectoryCSV(bytes.NewReader(data))
}

// healthChecks lists readiness checks. Firestore is the only critical one; the rest
// degrade features without taking the instance out of rotation.
func (in *infra) healthChecks() []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{Name: "firestore", Timeout: 1500 * time.Millisecond, Critical: true, Check: func(ctx context.Context) error {
			return in.firestore.Ping(ctx, "orders")
		}},
		{Name: "pincodes", Check: func(context.Context) error {
			if in.directory == nil || in.directory.Len() == 0 {
				return errors.New("pincode directory is empty")
			}
			return nil
		}},
	}
	if in.redis != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "redis", Timeout: 500 * time.Millisecond, Check: in.redis.Ping})
	}
	if in.topic != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "pubsub", Timeout: time.Second, Check: func(ctx context.Context) error {
			exists, err := in.topic.Exists(ctx)
			if err == nil && !exists {
				err = fmt.Errorf("topic %s not found", in.topic.ID())
			}
			return err
		}})
	}
	if in.fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "secretManager", Timeout: time.Second, Check: func(ctx context.Context) error {
			// NotFound still proves Secret Manager answered.
			if _, err := in.fetcher.Resolve(ctx, secretHealthReference); err != nil && !errors.Is(err, secrets.ErrNotFound) {
				return err
			}
			return nil
		}})
	}
	return checks
}
