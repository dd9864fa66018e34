// Package config defines the configuration schema for the sigillo commands
// and its validation rules.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigillo-iot/sigillo/pkg/merkle"
)

// API key roles accepted by the cloud service.
const (
	RoleProducer = "produttore"
	RoleVerifier = "verificatore"
)

// Default configuration values.
const (
	DefaultLogLevel = "info"

	DefaultEdgeListen      = ":8000"
	DefaultDatabasePath    = "sigillo.db"
	DefaultBatchThreshold  = 1023
	DefaultCloudBaseURL    = "http://localhost:8080"
	DefaultOutboundTimeout = 10 * time.Second

	DefaultObjectStoreEndpoint = "https://s3.filebase.com"
	DefaultObjectStoreBucket   = "merkle-path-batch"
	DefaultObjectStoreRegion   = "us-east-1"
	DefaultObjectStoreCompress = true

	DefaultSensorInterval  = 20 * time.Second
	DefaultSensorDelay     = 5 * time.Second
	DefaultSensorLimit     = 3
	DefaultProcessInterval = 60 * time.Second
	DefaultProcessDelay    = 10 * time.Second
	DefaultDeliverInterval = 60 * time.Second
	DefaultDeliverDelay    = 5 * time.Second
	DefaultDeliverLimit    = 1

	DefaultCloudListen     = ":8080"
	DefaultGatewayURL      = "https://ipfs.filebase.io/ipfs"
	DefaultTelemetryListen = ":9464"
)

// Validation errors.
var (
	// ErrInvalidLogLevel indicates log_level is not one of debug, info, warn, error.
	ErrInvalidLogLevel = errors.New("log_level must be one of debug, info, warn, error")

	// ErrInvalidThreshold indicates edge.batch_threshold+1 is not a power of two.
	ErrInvalidThreshold = errors.New("edge.batch_threshold plus the batch leaf must be a power of two")

	// ErrInvalidInterval indicates a worker interval is not positive.
	ErrInvalidInterval = errors.New("edge.workers intervals must be positive")

	// ErrInvalidDelay indicates a worker initial delay is negative.
	ErrInvalidDelay = errors.New("edge.workers delays must be non-negative")

	// ErrInvalidLimit indicates a worker per-tick limit is not positive.
	ErrInvalidLimit = errors.New("edge.workers limits must be positive")

	// ErrInvalidRateLimit indicates edge.ingest_rate_limit is negative.
	ErrInvalidRateLimit = errors.New("edge.ingest_rate_limit must be non-negative")

	// ErrInvalidTimeout indicates an outbound HTTP timeout is not positive.
	ErrInvalidTimeout = errors.New("outbound timeouts must be positive")

	// ErrInvalidRole indicates an API key role is unknown.
	ErrInvalidRole = errors.New("cloud.api_keys roles must be produttore or verificatore")
)

// Config is the root configuration for every sigillo command.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Edge      EdgeConfig      `mapstructure:"edge"`
	Cloud     CloudConfig     `mapstructure:"cloud"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// EdgeConfig configures the fog producer: ingress, local store, pipeline
// workers, and outbound clients.
type EdgeConfig struct {
	Listen          string            `mapstructure:"listen"`
	DatabasePath    string            `mapstructure:"database_path"`
	BatchThreshold  int               `mapstructure:"batch_threshold"`
	IngestRateLimit float64           `mapstructure:"ingest_rate_limit"`
	Cloud           CloudClientConfig `mapstructure:"cloud"`
	ObjectStore     ObjectStoreConfig `mapstructure:"object_store"`
	Workers         WorkersConfig     `mapstructure:"workers"`
	Artifacts       ArtifactsConfig   `mapstructure:"artifacts"`
}

// CloudClientConfig configures the producer-side client of the cloud API.
type CloudClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ObjectStoreConfig configures the S3-compatible content-addressed store.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Compress  bool   `mapstructure:"compress"`
}

// WorkersConfig configures the three periodic pipeline workers.
type WorkersConfig struct {
	SensorInterval  time.Duration `mapstructure:"sensor_interval"`
	SensorDelay     time.Duration `mapstructure:"sensor_delay"`
	SensorLimit     int           `mapstructure:"sensor_limit"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	ProcessDelay    time.Duration `mapstructure:"process_delay"`
	DeliverInterval time.Duration `mapstructure:"deliver_interval"`
	DeliverDelay    time.Duration `mapstructure:"deliver_delay"`
	DeliverLimit    int           `mapstructure:"deliver_limit"`
}

// ArtifactsConfig configures the optional local paths-document cache.
// An empty Dir disables it.
type ArtifactsConfig struct {
	Dir      string `mapstructure:"dir"`
	Compress bool   `mapstructure:"compress"`
}

// CloudConfig configures the cloud ingest service.
type CloudConfig struct {
	Listen      string             `mapstructure:"listen"`
	DatabaseURL string             `mapstructure:"database_url"`
	APIKeys     map[string]APIUser `mapstructure:"api_keys"`
}

// APIUser is the identity an API key resolves to.
type APIUser struct {
	Name string `mapstructure:"name" json:"name"`
	Role string `mapstructure:"role" json:"role"`
}

// VerifyConfig configures the verifier command.
type VerifyConfig struct {
	CloudBaseURL string        `mapstructure:"cloud_base_url"`
	APIKey       string        `mapstructure:"api_key"`
	GatewayURL   string        `mapstructure:"gateway_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig configures the diagnostics listener and optional OTLP
// export.
type TelemetryConfig struct {
	Listen       string `mapstructure:"listen"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Validate checks the configuration and returns the first violation found.
func (c *Config) Validate() error {
	err := c.validateLogLevel()
	if err != nil {
		return err
	}

	err = c.validateEdge()
	if err != nil {
		return err
	}

	err = c.validateCloud()
	if err != nil {
		return err
	}

	return c.validateVerify()
}

// Level maps the configured log level onto slog's levels. Unknown values
// never reach here; Validate rejects them first.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateLogLevel() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidLogLevel, c.LogLevel)
	}
}

func (c *Config) validateEdge() error {
	if c.Edge.BatchThreshold < 1 || !merkle.IsPowerOfTwo(c.Edge.BatchThreshold+1) {
		return fmt.Errorf("%w: got %d", ErrInvalidThreshold, c.Edge.BatchThreshold)
	}

	if c.Edge.IngestRateLimit < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidRateLimit, c.Edge.IngestRateLimit)
	}

	if c.Edge.Cloud.Timeout <= 0 {
		return fmt.Errorf("%w: edge.cloud.timeout %v", ErrInvalidTimeout, c.Edge.Cloud.Timeout)
	}

	return c.validateWorkers()
}

func (c *Config) validateWorkers() error {
	w := c.Edge.Workers

	for _, interval := range []time.Duration{w.SensorInterval, w.ProcessInterval, w.DeliverInterval} {
		if interval <= 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidInterval, interval)
		}
	}

	for _, delay := range []time.Duration{w.SensorDelay, w.ProcessDelay, w.DeliverDelay} {
		if delay < 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidDelay, delay)
		}
	}

	for _, limit := range []int{w.SensorLimit, w.DeliverLimit} {
		if limit < 1 {
			return fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
		}
	}

	return nil
}

func (c *Config) validateCloud() error {
	for key, user := range c.Cloud.APIKeys {
		if user.Role != RoleProducer && user.Role != RoleVerifier {
			return fmt.Errorf("%w: key %q has role %q", ErrInvalidRole, key, user.Role)
		}
	}

	return nil
}

func (c *Config) validateVerify() error {
	if c.Verify.Timeout <= 0 {
		return fmt.Errorf("%w: verify.timeout %v", ErrInvalidTimeout, c.Verify.Timeout)
	}

	return nil
}
