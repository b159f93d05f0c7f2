// Package config provides configuration loading for TimeLake tools.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/storage"
)

// Config holds all configuration for TimeLake tools.
type Config struct {
	// Version is the application version
	Version string

	// Lake configuration
	Lake LakeConfig

	// Storage backend configuration
	Storage StorageConfig

	// Table access configuration
	Table TableConfig

	// Log configuration
	Log LogConfig

	// Metrics configuration
	Metrics MetricsConfig
}

// LakeConfig holds the lake location and the settings used when creating it.
type LakeConfig struct {
	// Path is the lake root, a local path or an s3:// URI
	Path string

	// TimestampColumn is the time column used when creating a lake
	TimestampColumn string

	// PartitionBy lists extra partition columns used when creating a lake
	PartitionBy []string
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Backend is the backend kind (local, s3); empty picks it from the path
	Backend string

	// Region is the S3 region
	Region string

	// AccessKey is the access key
	AccessKey string

	// SecretKey is the secret key
	SecretKey string

	// Endpoint is an S3-compatible endpoint such as MinIO
	Endpoint string

	// UseSSL enables SSL when the endpoint has no scheme
	UseSSL bool
}

// Credentials returns the storage credentials.
func (s StorageConfig) Credentials() storage.Credentials {
	return storage.Credentials{
		Region:    s.Region,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Endpoint:  s.Endpoint,
		UseSSL:    s.UseSSL,
	}
}

// TableConfig holds table access configuration.
type TableConfig struct {
	// ScanConcurrency bounds parallel data file reads
	ScanConcurrency int

	// OperationTimeout bounds a single command; zero means no limit
	OperationTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string

	// Format is the handler format (text, json)
	Format string
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// TextfilePath is where a metrics snapshot is written after each
	// command; empty disables it
	TextfilePath string
}

// Load loads configuration from environment variables. Storage settings
// fall back to the standard AWS variables.
func Load() (*Config, error) {
	aws := storage.CredentialsFromEnv()

	cfg := &Config{
		Version: getEnv("TIMELAKE_VERSION", "0.1.0"),

		Lake: LakeConfig{
			Path:            getEnv("TIMELAKE_PATH", "./timelake"),
			TimestampColumn: getEnv("TIMELAKE_TIMESTAMP_COLUMN", "date"),
			PartitionBy:     getSliceEnv("TIMELAKE_PARTITION_BY", nil),
		},

		Storage: StorageConfig{
			Backend:   getEnv("TIMELAKE_STORAGE_BACKEND", ""),
			Region:    getEnv("TIMELAKE_STORAGE_REGION", aws.Region),
			AccessKey: getEnv("TIMELAKE_STORAGE_ACCESS_KEY", aws.AccessKey),
			SecretKey: getEnv("TIMELAKE_STORAGE_SECRET_KEY", aws.SecretKey),
			Endpoint:  getEnv("TIMELAKE_STORAGE_ENDPOINT", aws.Endpoint),
			UseSSL:    getBoolEnv("TIMELAKE_STORAGE_USE_SSL", aws.UseSSL),
		},

		Table: TableConfig{
			ScanConcurrency:  getIntEnv("TIMELAKE_SCAN_CONCURRENCY", 8),
			OperationTimeout: getDurationEnv("TIMELAKE_OPERATION_TIMEOUT", 10*time.Minute),
		},

		Log: LogConfig{
			Level:  getEnv("TIMELAKE_LOG_LEVEL", "info"),
			Format: getEnv("TIMELAKE_LOG_FORMAT", "text"),
		},

		Metrics: MetricsConfig{
			TextfilePath: getEnv("TIMELAKE_METRICS_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have a fixed set of values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &lakeerr.ConfigurationError{Setting: "log level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &lakeerr.ConfigurationError{Setting: "log format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	switch storage.Kind(c.Storage.Backend) {
	case "", storage.KindLocal, storage.KindS3:
	default:
		return &lakeerr.ConfigurationError{Setting: "backend", Reason: fmt.Sprintf("unsupported backend kind %q", c.Storage.Backend)}
	}
	if c.Table.ScanConcurrency <= 0 {
		return &lakeerr.ConfigurationError{Setting: "scan concurrency", Reason: "must be positive"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range splitAndTrim(value, ",") {
			if v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
