package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	AWS           AWSConfig
	Storage       StorageConfig
	Store         StoreConfig
	Worker        WorkerConfig
	Transcode     TranscodeConfig
	Retry         RetryConfig
	Observability ObservabilityConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region             string
	RawBucket          string
	ProcessedBucket    string
	VideoQueueURL      string
	LessonQueueURL     string
	DeadLetterQueueURL string
	DynamoDBTable      string
	SNSTopicARN        string
}

// StorageConfig selects and configures the storage adapter backend.
type StorageConfig struct {
	Backend   string // "s3" or "local"
	LocalRoot string
}

// StoreConfig selects and configures the entity store.
type StoreConfig struct {
	Driver      string // "dynamodb" or "postgres"
	PostgresDSN string
}

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	VideoConcurrency  int
	LessonConcurrency int
	MetricsPort       int
	TempDir           string
}

// TranscodeConfig bounds the external encode process.
type TranscodeConfig struct {
	FFmpegPath    string
	EncodeTimeout time.Duration
}

// RetryConfig holds queue redelivery parameters.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
}

// Default values
const (
	DefaultRegion        = "us-west-2"
	DefaultMetricsPort   = 2112
	DefaultConcurrency   = 2
	DefaultTempDir       = "/tmp/vod-pipeline"
	DefaultFFmpegPath    = "ffmpeg"
	DefaultEncodeTimeout = 30 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 2 * time.Second
	DefaultOTLPEndpoint  = "localhost:4317"

	BackendS3    = "s3"
	BackendLocal = "local"

	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		AWS: AWSConfig{
			Region:             getEnv("AWS_REGION", DefaultRegion),
			RawBucket:          os.Getenv("RAW_BUCKET"),
			ProcessedBucket:    os.Getenv("PROCESSED_BUCKET"),
			VideoQueueURL:      os.Getenv("VIDEO_QUEUE_URL"),
			LessonQueueURL:     os.Getenv("LESSON_QUEUE_URL"),
			DeadLetterQueueURL: os.Getenv("DEAD_LETTER_QUEUE_URL"),
			DynamoDBTable:      os.Getenv("DYNAMODB_TABLE"),
			SNSTopicARN:        os.Getenv("SNS_TOPIC_ARN"),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", BackendS3),
			LocalRoot: os.Getenv("LOCAL_STORAGE_ROOT"),
		},
		Store: StoreConfig{
			Driver:      getEnv("ENTITY_STORE", DriverDynamoDB),
			PostgresDSN: os.Getenv("POSTGRES_DSN"),
		},
		Worker: WorkerConfig{
			VideoConcurrency:  getEnvInt("VIDEO_CONCURRENCY", DefaultConcurrency),
			LessonConcurrency: getEnvInt("LESSON_CONCURRENCY", DefaultConcurrency),
			MetricsPort:       getEnvInt("METRICS_PORT", DefaultMetricsPort),
			TempDir:           getEnv("WORKER_TMP_DIR", DefaultTempDir),
		},
		Transcode: TranscodeConfig{
			FFmpegPath:    getEnv("FFMPEG_PATH", DefaultFFmpegPath),
			EncodeTimeout: getEnvDuration("ENCODE_TIMEOUT", DefaultEncodeTimeout),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("JOB_MAX_ATTEMPTS", DefaultMaxAttempts),
			BaseDelay:   getEnvDuration("JOB_BACKOFF_BASE", DefaultBaseDelay),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		},
	}

	return cfg, nil
}

// LoadWorker loads configuration required for the worker service.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateWorker validates configuration required for the worker service.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.AWS.VideoQueueURL == "" {
		errs = append(errs, "VIDEO_QUEUE_URL is required")
	}
	if c.AWS.LessonQueueURL == "" {
		errs = append(errs, "LESSON_QUEUE_URL is required")
	}
	if c.AWS.DeadLetterQueueURL == "" {
		errs = append(errs, "DEAD_LETTER_QUEUE_URL is required")
	}

	switch c.Storage.Backend {
	case BackendS3:
		if c.AWS.RawBucket == "" {
			errs = append(errs, "RAW_BUCKET is required with STORAGE_BACKEND=s3")
		}
		if c.AWS.ProcessedBucket == "" {
			errs = append(errs, "PROCESSED_BUCKET is required with STORAGE_BACKEND=s3")
		}
	case BackendLocal:
		if c.Storage.LocalRoot == "" {
			errs = append(errs, "LOCAL_STORAGE_ROOT is required with STORAGE_BACKEND=local")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch c.Store.Driver {
	case DriverDynamoDB:
		if c.AWS.DynamoDBTable == "" {
			errs = append(errs, "DYNAMODB_TABLE is required with ENTITY_STORE=dynamodb")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, "POSTGRES_DSN is required with ENTITY_STORE=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown ENTITY_STORE %q", c.Store.Driver))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "JOB_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, "JOB_BACKOFF_BASE must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
