package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMinIO      = "minio"
	BackendS3         = "s3"
	BackendGCS        = "gcs"
	BackendFilesystem = "filesystem"
)

type Config struct {
	Environment string
	LogLevel    string
	LogFile     string
	MetricsPort int

	AMQPURL           string
	RabbitMQEnabled   bool
	VodQueue          string
	VodFailoverQueue  string
	SearchQueue       string
	PublisherChannels int
	PrefetchCount     int
	PublishBuffer     int

	DatabaseURL string
	RedisURL    string

	// Buckets lists every storage bucket the worker may be asked to touch.
	// DefaultBucket is where new uploads land.
	Buckets       []BucketConfig
	DefaultBucket string

	FFmpegPath  string
	FFprobePath string
	TempDir     string

	WorkerConcurrency int
	JobTimeout        time.Duration
	StatusCacheTTL    time.Duration

	MultipartPartSize    int64
	MultipartMaxAttempts int
	MultipartBaseDelay   time.Duration

	TracingEnabled bool
	OTLPEndpoint   string
	TraceSampling  float64
}

type BucketConfig struct {
	Name            string `yaml:"name"`
	Backend         string `yaml:"backend"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKey       string `yaml:"access_key,omitempty"`
	SecretKey       string `yaml:"secret_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
	Root            string `yaml:"root,omitempty"`
	PublicBaseURL   string `yaml:"public_base_url,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

type fileConfig struct {
	DefaultBucket string         `yaml:"default_bucket,omitempty"`
	Buckets       []BucketConfig `yaml:"buckets,omitempty"`
	Queues        struct {
		Vod         string `yaml:"vod,omitempty"`
		VodFailover string `yaml:"vod_failover,omitempty"`
		Search      string `yaml:"search,omitempty"`
	} `yaml:"queues,omitempty"`
}

// Load reads configuration from the environment. When path is empty the
// VODPIPE_CONFIG variable is consulted; a YAML file found there overrides
// the bucket list and queue names.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("LOG_FILE")
	cfg.MetricsPort = getEnvInt("METRICS_PORT", 9090)

	cfg.RabbitMQEnabled = getEnvBool("RABBITMQ_ENABLED", true)
	cfg.AMQPURL = os.Getenv("AMQP_URL")
	if cfg.RabbitMQEnabled && cfg.AMQPURL == "" {
		return nil, fmt.Errorf("AMQP_URL is required")
	}
	cfg.VodQueue = getEnvString("VOD_QUEUE", "vod")
	cfg.VodFailoverQueue = getEnvString("VOD_FAILOVER_QUEUE", "vod_failover")
	cfg.SearchQueue = getEnvString("SEARCH_QUEUE", "search")
	cfg.PublisherChannels = getEnvInt("PUBLISHER_CHANNELS", 4)
	cfg.PrefetchCount = getEnvInt("PREFETCH_COUNT", 2)
	cfg.PublishBuffer = getEnvInt("PUBLISH_BUFFER", 1024)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.FFmpegPath = getEnvString("FFMPEG_PATH", "ffmpeg")
	cfg.FFprobePath = getEnvString("FFPROBE_PATH", "ffprobe")
	cfg.TempDir = getEnvString("TEMP_DIR", os.TempDir())

	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", "60m")
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}
	cfg.StatusCacheTTL, err = getEnvDuration("STATUS_CACHE_TTL", "30s")
	if err != nil {
		return nil, fmt.Errorf("invalid STATUS_CACHE_TTL: %w", err)
	}

	cfg.MultipartPartSize = getEnvInt64("MULTIPART_PART_SIZE", 100*1024*1024)
	cfg.MultipartMaxAttempts = getEnvInt("MULTIPART_MAX_ATTEMPTS", 5)
	cfg.MultipartBaseDelay, err = getEnvDuration("MULTIPART_BASE_DELAY", "500ms")
	if err != nil {
		return nil, fmt.Errorf("invalid MULTIPART_BASE_DELAY: %w", err)
	}

	cfg.TracingEnabled = getEnvBool("OTEL_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	cfg.TraceSampling = getEnvFloat("OTEL_SAMPLE_RATE", 1.0)

	if path == "" {
		path = os.Getenv("VODPIPE_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if len(cfg.Buckets) == 0 {
		bucket, err := bucketFromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Buckets = []BucketConfig{bucket}
	}
	if cfg.DefaultBucket == "" {
		cfg.DefaultBucket = cfg.Buckets[0].Name
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if len(fc.Buckets) > 0 {
		c.Buckets = fc.Buckets
	}
	if fc.DefaultBucket != "" {
		c.DefaultBucket = fc.DefaultBucket
	}
	if fc.Queues.Vod != "" {
		c.VodQueue = fc.Queues.Vod
	}
	if fc.Queues.VodFailover != "" {
		c.VodFailoverQueue = fc.Queues.VodFailover
	}
	if fc.Queues.Search != "" {
		c.SearchQueue = fc.Queues.Search
	}
	return nil
}

func bucketFromEnv() (BucketConfig, error) {
	b := BucketConfig{
		Name:            os.Getenv("STORAGE_BUCKET"),
		Backend:         getEnvString("STORAGE_BACKEND", BackendMinIO),
		Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
		Region:          getEnvString("STORAGE_REGION", "us-east-1"),
		AccessKey:       os.Getenv("STORAGE_ACCESS_KEY"),
		SecretKey:       os.Getenv("STORAGE_SECRET_KEY"),
		UseSSL:          getEnvBool("STORAGE_USE_SSL", false),
		Root:            os.Getenv("STORAGE_ROOT"),
		PublicBaseURL:   os.Getenv("STORAGE_PUBLIC_BASE_URL"),
		CredentialsFile: os.Getenv("STORAGE_CREDENTIALS_FILE"),
	}
	if b.Name == "" {
		return b, fmt.Errorf("STORAGE_BUCKET is required")
	}
	if b.Backend == BackendMinIO && b.Endpoint == "" {
		return b, fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	return b, nil
}

// Queues lists every queue the pipeline declares.
func (c *Config) Queues() []string {
	return []string{c.VodQueue, c.VodFailoverQueue, c.SearchQueue}
}

// Bucket returns the configuration for the named bucket.
func (c *Config) Bucket(name string) (BucketConfig, bool) {
	for _, b := range c.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return BucketConfig{}, false
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("invalid worker concurrency: %d", c.WorkerConcurrency)
	}

	if c.PublisherChannels < 1 {
		return fmt.Errorf("invalid publisher channels: %d", c.PublisherChannels)
	}

	if c.PrefetchCount < 1 || c.PrefetchCount > 65535 {
		return fmt.Errorf("invalid prefetch count: %d", c.PrefetchCount)
	}

	if c.MultipartPartSize < 5*1024*1024 {
		return fmt.Errorf("multipart part size must be at least 5MiB: %d", c.MultipartPartSize)
	}

	if c.VodQueue == "" || c.VodFailoverQueue == "" {
		return fmt.Errorf("vod and failover queues are required")
	}

	if c.VodQueue == c.VodFailoverQueue {
		return fmt.Errorf("failover queue must differ from %q", c.VodQueue)
	}

	seen := make(map[string]bool, len(c.Buckets))
	for _, b := range c.Buckets {
		if b.Name == "" {
			return fmt.Errorf("bucket without a name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bucket: %s", b.Name)
		}
		seen[b.Name] = true

		switch b.Backend {
		case BackendMinIO, BackendS3, BackendGCS:
		case BackendFilesystem:
			if b.Root == "" {
				return fmt.Errorf("bucket %s: filesystem backend requires root", b.Name)
			}
		default:
			return fmt.Errorf("bucket %s: unknown backend %q", b.Name, b.Backend)
		}
	}
	if !seen[c.DefaultBucket] {
		return fmt.Errorf("default bucket %q is not configured", c.DefaultBucket)
	}

	return nil
}
