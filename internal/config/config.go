package config

import (
	"fmt"
	"os"
	"strconv"
)

// Mode represents the deployment mode of the service
type Mode string

const (
	ModeServer Mode = "server"
	ModeWorker Mode = "worker"
	ModeCLI    Mode = "cli"
)

// QueueType represents the type of message queue to use
type QueueType string

const (
	QueueTypeInMemory QueueType = "inmemory"
	QueueTypeRedis    QueueType = "redis"
	QueueTypePubSub   QueueType = "pubsub"
)

// StorageType represents the type of storage backend to use
type StorageType string

const (
	StorageTypeGCS   StorageType = "gcs"
	StorageTypeMinio StorageType = "minio"
	StorageTypeS3    StorageType = "s3"
	StorageTypeLocal StorageType = "local"
)

// MetadataType represents the type of metadata store to use
type MetadataType string

const (
	MetadataTypeSQLite MetadataType = "sqlite"
	MetadataTypeMemory MetadataType = "memory"
)

// DefaultThroughput is the assumed download throughput in bytes per second
// used by the load-time estimator.
const DefaultThroughput = 3 * 1024 * 1024 / 8

// Config holds all configuration for the bundlediff service
type Config struct {
	// Port for the HTTP server
	Port int

	// Logging
	LogLevel string
	LogHuman bool

	// RepoKeySecret is mixed into every derived repository key
	RepoKeySecret string

	// ThroughputBytesPerSec drives load-time estimates
	ThroughputBytesPerSec int64

	// ReportCacheSize is the number of parsed reports kept in memory
	ReportCacheSize int

	// CompressUploads enables zstd compression of uploaded report blobs
	CompressUploads bool

	// Queue configuration
	Queue QueueConfig

	// Storage configuration
	Storage StorageConfig

	// Metadata configuration
	Metadata MetadataConfig
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Type QueueType

	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string

	// Pub/Sub configuration
	PubSubProjectID    string
	PubSubTopicID      string
	PubSubSubscription string
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Type StorageType

	// GCS configuration
	GCSBucket string

	// MinIO configuration
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	// S3 configuration
	S3Bucket   string
	S3Region   string
	S3Endpoint string

	// Local filesystem configuration
	LocalPath string
}

// MetadataConfig holds metadata store configuration
type MetadataConfig struct {
	Type       MetadataType
	SQLitePath string
}

// Load loads configuration from environment variables for the specified mode
func Load(mode Mode) (*Config, error) {
	if err := validateMode(mode); err != nil {
		return nil, err
	}

	cfg := &Config{}

	port, err := strconv.Atoi(getEnv("BUNDLEDIFF_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid BUNDLEDIFF_PORT: %w", err)
	}
	cfg.Port = port

	cfg.LogLevel = getEnv("BUNDLEDIFF_LOG_LEVEL", "info")
	cfg.LogHuman = getEnv("BUNDLEDIFF_LOG_HUMAN", "false") == "true"

	if err := cfg.loadCommonConfig(); err != nil {
		return nil, err
	}

	if err := cfg.loadStorageConfig(); err != nil {
		return nil, err
	}

	if err := cfg.loadMetadataConfig(); err != nil {
		return nil, err
	}

	// The CLI talks to storage directly and never touches a queue unless
	// one is configured explicitly.
	defaultQueue := string(QueueTypeInMemory)
	if mode == ModeWorker {
		defaultQueue = ""
	}
	if err := cfg.loadQueueConfig(mode, defaultQueue); err != nil {
		return nil, err
	}

	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadCommonConfig loads settings shared by every mode
func (c *Config) loadCommonConfig() error {
	c.RepoKeySecret = getEnv("BUNDLEDIFF_REPO_KEY_SECRET", "")
	if c.RepoKeySecret == "" {
		return fmt.Errorf("BUNDLEDIFF_REPO_KEY_SECRET is required")
	}

	throughput, err := strconv.ParseInt(getEnv("BUNDLEDIFF_THROUGHPUT_BYTES_PER_SEC", strconv.Itoa(DefaultThroughput)), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid BUNDLEDIFF_THROUGHPUT_BYTES_PER_SEC: %w", err)
	}
	c.ThroughputBytesPerSec = throughput

	cacheSize, err := strconv.Atoi(getEnv("BUNDLEDIFF_REPORT_CACHE_SIZE", "64"))
	if err != nil {
		return fmt.Errorf("invalid BUNDLEDIFF_REPORT_CACHE_SIZE: %w", err)
	}
	c.ReportCacheSize = cacheSize

	c.CompressUploads = getEnv("BUNDLEDIFF_COMPRESS_UPLOADS", "true") == "true"

	return nil
}

// loadQueueConfig loads queue configuration. An empty default makes the
// queue type mandatory.
func (c *Config) loadQueueConfig(mode Mode, defaultType string) error {
	queueType := getEnv("BUNDLEDIFF_QUEUE_TYPE", defaultType)
	if queueType == "" {
		return fmt.Errorf("BUNDLEDIFF_QUEUE_TYPE is required in %s mode", mode)
	}
	c.Queue.Type = QueueType(queueType)

	switch c.Queue.Type {
	case QueueTypeInMemory:
		// No additional config needed
	case QueueTypeRedis:
		if err := c.loadRedisConfig(); err != nil {
			return err
		}
	case QueueTypePubSub:
		if err := c.loadPubSubConfig(mode); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid queue type: %s", queueType)
	}

	return nil
}

// loadRedisConfig loads Redis queue configuration
func (c *Config) loadRedisConfig() error {
	c.Queue.RedisAddr = getEnv("BUNDLEDIFF_REDIS_ADDR", "localhost:6379")
	c.Queue.RedisPassword = getEnv("BUNDLEDIFF_REDIS_PASSWORD", "")

	redisDB, err := strconv.Atoi(getEnv("BUNDLEDIFF_REDIS_DB", "0"))
	if err != nil {
		return fmt.Errorf("invalid BUNDLEDIFF_REDIS_DB: %w", err)
	}
	c.Queue.RedisDB = redisDB
	c.Queue.RedisStream = getEnv("BUNDLEDIFF_REDIS_STREAM", "bundlediff-report-uploads")

	return nil
}

// loadPubSubConfig loads Pub/Sub queue configuration
func (c *Config) loadPubSubConfig(mode Mode) error {
	c.Queue.PubSubProjectID = getEnv("BUNDLEDIFF_PUBSUB_PROJECT_ID", "")
	if c.Queue.PubSubProjectID == "" {
		return fmt.Errorf("BUNDLEDIFF_PUBSUB_PROJECT_ID is required for pubsub queue")
	}

	c.Queue.PubSubTopicID = getEnv("BUNDLEDIFF_PUBSUB_TOPIC_ID", "bundlediff-report-uploads")

	// Only consumers need a subscription
	if mode == ModeWorker {
		c.Queue.PubSubSubscription = getEnv("BUNDLEDIFF_PUBSUB_SUBSCRIPTION", "")
		if c.Queue.PubSubSubscription == "" {
			return fmt.Errorf("BUNDLEDIFF_PUBSUB_SUBSCRIPTION is required for worker mode")
		}
	}

	return nil
}

// loadStorageConfig loads storage backend configuration
func (c *Config) loadStorageConfig() error {
	storageType := getEnv("BUNDLEDIFF_STORAGE_TYPE", "")
	if storageType == "" {
		return fmt.Errorf("BUNDLEDIFF_STORAGE_TYPE is required")
	}
	c.Storage.Type = StorageType(storageType)

	switch c.Storage.Type {
	case StorageTypeGCS:
		c.Storage.GCSBucket = getEnv("BUNDLEDIFF_GCS_BUCKET", "")
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("BUNDLEDIFF_GCS_BUCKET is required for gcs storage")
		}
	case StorageTypeMinio:
		c.Storage.MinIOEndpoint = getEnv("BUNDLEDIFF_MINIO_ENDPOINT", "")
		if c.Storage.MinIOEndpoint == "" {
			return fmt.Errorf("BUNDLEDIFF_MINIO_ENDPOINT is required for minio storage")
		}
		c.Storage.MinIOAccessKey = getEnv("BUNDLEDIFF_MINIO_ACCESS_KEY", "")
		if c.Storage.MinIOAccessKey == "" {
			return fmt.Errorf("BUNDLEDIFF_MINIO_ACCESS_KEY is required for minio storage")
		}
		c.Storage.MinIOSecretKey = getEnv("BUNDLEDIFF_MINIO_SECRET_KEY", "")
		if c.Storage.MinIOSecretKey == "" {
			return fmt.Errorf("BUNDLEDIFF_MINIO_SECRET_KEY is required for minio storage")
		}
		c.Storage.MinIOBucket = getEnv("BUNDLEDIFF_MINIO_BUCKET", "bundle-analysis")
		c.Storage.MinIOUseSSL = getEnv("BUNDLEDIFF_MINIO_USE_SSL", "false") == "true"
	case StorageTypeS3:
		c.Storage.S3Bucket = getEnv("BUNDLEDIFF_S3_BUCKET", "")
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("BUNDLEDIFF_S3_BUCKET is required for s3 storage")
		}
		c.Storage.S3Region = getEnv("BUNDLEDIFF_S3_REGION", "")
		c.Storage.S3Endpoint = getEnv("BUNDLEDIFF_S3_ENDPOINT", "")
	case StorageTypeLocal:
		c.Storage.LocalPath = getEnv("BUNDLEDIFF_LOCAL_PATH", "")
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("BUNDLEDIFF_LOCAL_PATH is required for local storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", storageType)
	}

	return nil
}

// loadMetadataConfig loads metadata store configuration
func (c *Config) loadMetadataConfig() error {
	metadataType := getEnv("BUNDLEDIFF_METADATA_TYPE", string(MetadataTypeSQLite))
	c.Metadata.Type = MetadataType(metadataType)

	switch c.Metadata.Type {
	case MetadataTypeSQLite:
		c.Metadata.SQLitePath = getEnv("BUNDLEDIFF_SQLITE_PATH", "bundlediff.db")
	case MetadataTypeMemory:
		// No additional config needed
	default:
		return fmt.Errorf("invalid metadata type: %s", metadataType)
	}

	return nil
}

// validateMode validates that the mode is valid
func validateMode(mode Mode) error {
	switch mode {
	case ModeServer, ModeWorker, ModeCLI:
		return nil
	default:
		return fmt.Errorf("invalid mode: %s (must be server, worker, or cli)", mode)
	}
}

// Validate validates the complete configuration for the specified mode
func (c *Config) Validate(mode Mode) error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Port)
	}
	if c.RepoKeySecret == "" {
		return fmt.Errorf("repository key secret is required")
	}
	if c.ThroughputBytesPerSec <= 0 {
		return fmt.Errorf("invalid throughput: %d (must be positive)", c.ThroughputBytesPerSec)
	}
	if c.ReportCacheSize < 1 {
		return fmt.Errorf("invalid report cache size: %d (must be at least 1)", c.ReportCacheSize)
	}
	if c.Storage.Type == "" {
		return fmt.Errorf("storage type is required")
	}
	if c.Metadata.Type == "" {
		return fmt.Errorf("metadata type is required")
	}

	switch mode {
	case ModeServer:
		if c.Queue.Type == "" {
			return fmt.Errorf("queue type is required")
		}
	case ModeWorker:
		if c.Queue.Type == "" {
			return fmt.Errorf("queue type is required")
		}
		if c.Queue.Type == QueueTypeInMemory {
			return fmt.Errorf("in-memory queue cannot be used in worker mode")
		}
		if c.Metadata.Type == MetadataTypeMemory {
			return fmt.Errorf("memory metadata store cannot be used in worker mode")
		}
	case ModeCLI:
		// The CLI runs uploads and comparisons in-process
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
