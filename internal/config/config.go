package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Tracking modes.
const (
	TrackingTemporal = "temporal"
	TrackingLocal    = "local"
)

type Config struct {
	CoreDatabaseURL string
	HTTPListenAddr  string
	MetricsAddr     string
	LogLevel        string
	ServiceName     string

	TemporalAddress       string
	TemporalTaskQueue     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// AdapterRegistryFile is the YAML file listing the database adapters.
	AdapterRegistryFile string
	PollInterval        time.Duration
	PollMaxFailures     int
	DispatchConcurrency int
	// TrackingMode selects where operations run after planning: "temporal"
	// hands them to the worker, "local" runs them inside the API process.
	TrackingMode  string
	ReconcileCron string

	MetadataS3Endpoint  string
	MetadataS3Region    string
	MetadataS3Bucket    string
	MetadataS3AccessKey string
	MetadataS3SecretKey string
}

func Load() (*Config, error) {
	cfg := &Config{
		CoreDatabaseURL:       getEnv("CORE_DATABASE_URL", ""),
		HTTPListenAddr:        getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:           getEnv("METRICS_ADDR", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		ServiceName:           getEnv("SERVICE_NAME", ""),
		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:     getEnv("TEMPORAL_TASK_QUEUE", "dbaas-tasks"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		AdapterRegistryFile:   getEnv("ADAPTER_REGISTRY_FILE", ""),
		TrackingMode:          getEnv("TRACKING_MODE", TrackingTemporal),
		ReconcileCron:         getEnv("RECONCILE_CRON", "*/5 * * * *"),
		MetadataS3Endpoint:    getEnv("METADATA_S3_ENDPOINT", ""),
		MetadataS3Region:      getEnv("METADATA_S3_REGION", ""),
		MetadataS3Bucket:      getEnv("METADATA_S3_BUCKET", ""),
		MetadataS3AccessKey:   getEnv("METADATA_S3_ACCESS_KEY", ""),
		MetadataS3SecretKey:   getEnv("METADATA_S3_SECRET_KEY", ""),
	}

	var err error
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollMaxFailures, err = getInt("POLL_MAX_FAILURES", 3); err != nil {
		return nil, err
	}
	if cfg.DispatchConcurrency, err = getInt("DISPATCH_CONCURRENCY", 8); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings required by role are present. Roles are
// "dbaas-api" and "worker".
func (c *Config) Validate(role string) error {
	var missing []string
	require := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	require(c.AdapterRegistryFile, "ADAPTER_REGISTRY_FILE")
	switch role {
	case "dbaas-api":
		require(c.CoreDatabaseURL, "CORE_DATABASE_URL")
		require(c.HTTPListenAddr, "HTTP_LISTEN_ADDR")
		if c.TrackingMode == TrackingTemporal {
			require(c.TemporalAddress, "TEMPORAL_ADDRESS")
		}
	case "worker":
		require(c.CoreDatabaseURL, "CORE_DATABASE_URL")
		require(c.TemporalAddress, "TEMPORAL_ADDRESS")
		require(c.ReconcileCron, "RECONCILE_CRON")
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if c.TrackingMode != TrackingTemporal && c.TrackingMode != TrackingLocal {
		return fmt.Errorf("TRACKING_MODE must be %q or %q, got %q", TrackingTemporal, TrackingLocal, c.TrackingMode)
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if c.MetadataS3Endpoint != "" && c.MetadataS3Bucket == "" {
		return fmt.Errorf("METADATA_S3_BUCKET is required when METADATA_S3_ENDPOINT is set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollMaxFailures < 1 {
		return fmt.Errorf("POLL_MAX_FAILURES must be at least 1")
	}
	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1")
	}
	return nil
}

// MetadataArchiveEnabled reports whether an S3 metadata archive is configured.
func (c *Config) MetadataArchiveEnabled() bool {
	return c.MetadataS3Endpoint != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
