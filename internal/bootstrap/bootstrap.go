// Package bootstrap opens the external dependencies shared by the vodpipe
// binaries from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/vodpipe/internal/config"
	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/db/migrations"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/metrics"
	"github.com/abdul-hamid-achik/vodpipe/internal/rabbitmq"
	"github.com/abdul-hamid-achik/vodpipe/internal/storage"
	"github.com/abdul-hamid-achik/vodpipe/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Database connects the pool and, when migrate is set, applies pending
// schema migrations.
func Database(ctx context.Context, cfg *config.Config, migrate bool) (*pgxpool.Pool, error) {
	log := logger.FromContext(ctx)

	log.Info("connecting to database")
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

	if migrate {
		if err := migrations.Up(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

// Redis returns nil when no URL is configured; bucket flags and clip leases
// are then disabled.
func Redis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		logger.FromContext(ctx).Warn("REDIS_URL not set, bucket status and clip locks disabled")
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Storage builds one instrumented backend per configured bucket.
func Storage(ctx context.Context, cfg *config.Config) (*storage.Manager, error) {
	log := logger.FromContext(ctx)
	mgr := storage.NewManager(cfg.DefaultBucket)

	for _, bc := range cfg.Buckets {
		b, err := Backend(ctx, bc)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", bc.Name, err)
		}
		mgr.Register(bc.Name, metrics.NewInstrumentedBackend(bc.Name, b))
		log.Info("storage bucket registered", "bucket", bc.Name, "backend", bc.Backend)
	}
	return mgr, nil
}

// Backend opens a single bucket.
func Backend(ctx context.Context, bc config.BucketConfig) (storage.Backend, error) {
	sc := &storage.Config{
		Bucket:          bc.Name,
		Endpoint:        bc.Endpoint,
		AccessKey:       bc.AccessKey,
		SecretKey:       bc.SecretKey,
		UseSSL:          bc.UseSSL,
		Region:          bc.Region,
		Root:            bc.Root,
		PublicBaseURL:   bc.PublicBaseURL,
		CredentialsFile: bc.CredentialsFile,
	}

	switch bc.Backend {
	case config.BackendMinIO:
		b, err := storage.NewMinIOBackend(sc)
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendS3:
		return storage.NewS3Backend(ctx, sc)
	case config.BackendGCS:
		return storage.NewGCSBackend(ctx, sc)
	case config.BackendFilesystem:
		return storage.NewFilesystemBackend(sc)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", bc.Backend)
	}
}

// Uploader applies the multipart settings.
func Uploader(cfg *config.Config) *storage.MultipartUploader {
	u := storage.NewMultipartUploader()
	u.PartSize = cfg.MultipartPartSize
	u.MaxAttempts = cfg.MultipartMaxAttempts
	u.BaseDelay = cfg.MultipartBaseDelay
	return u
}

// Broker starts the broker client over every application queue.
func Broker(ctx context.Context, cfg *config.Config) (*rabbitmq.Client, error) {
	return rabbitmq.New(ctx, rabbitmq.Config{
		URL:               cfg.AMQPURL,
		Queues:            cfg.Queues(),
		PublisherChannels: cfg.PublisherChannels,
		PrefetchCount:     cfg.PrefetchCount,
		PublishBuffer:     cfg.PublishBuffer,
		HandleTimeout:     cfg.JobTimeout,
	}, cfg.RabbitMQEnabled)
}

// Tracing installs the tracer provider for service.
func Tracing(ctx context.Context, cfg *config.Config, service string) (func(context.Context) error, error) {
	return tracing.Init(ctx, &tracing.Config{
		ServiceName:    service,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TraceSampling,
	})
}

// Logger installs the default logger, fanned out to LOG_FILE when set. The
// returned closer is never nil.
func Logger(cfg *config.Config) (func() error, error) {
	if cfg.LogFile == "" {
		logger.Init(cfg.LogLevel)
		return func() error { return nil }, nil
	}
	closer, err := logger.InitWithFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return closer.Close, nil
}
