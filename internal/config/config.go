// Package config defines the process configuration for the Clubhouse job
// engine. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"fmt"
	"time"

	"clubhouse/internal/types"
)

// SecretString is an alias for types.SecretString so callers can build a
// Config without importing types.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"clubhouse-scheduler"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Jobs          JobsConfig

	// Injected via ldflags, not Env.
	Build BuildInfo
}

// ServerConfig holds the admin HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	MediaBucket        string `envconfig:"MEDIA_BUCKET" validate:"required"`
	MediaPublicBaseURL string `envconfig:"MEDIA_PUBLIC_BASE_URL" validate:"omitempty,url"`
	NotificationQueue  string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`

	// LocalStack support; empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds admin surface credentials.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required,min=16"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Clubhouse"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
	// MetricsMaxInFlight caps concurrent background metric writes.
	MetricsMaxInFlight int64 `envconfig:"METRICS_MAX_INFLIGHT" default:"8" validate:"min=1"`
}

// JobsConfig holds cadences and tuning for the background jobs.
type JobsConfig struct {
	Timezone string `envconfig:"JOBS_TIMEZONE" default:"UTC" validate:"timezone"`

	CacheSweepSchedule string `envconfig:"JOB_CACHE_SWEEP_SCHEDULE" default:"@every 1h" validate:"cronspec"`
	CleanupSchedule    string `envconfig:"JOB_CLEANUP_SCHEDULE" default:"0 3 * * *" validate:"cronspec"`
	PublishSchedule    string `envconfig:"JOB_PUBLISH_SCHEDULE" default:"@every 5m" validate:"cronspec"`
	StatusSchedule     string `envconfig:"JOB_STATUS_SCHEDULE" default:"@every 5m" validate:"cronspec"`
	// ReminderInterval is both the reminder trigger cadence and the width of
	// each reminder threshold window.
	ReminderInterval time.Duration `envconfig:"JOB_REMINDER_INTERVAL" default:"10m" validate:"gte=1m"`

	MaxRetries int           `envconfig:"JOB_MAX_RETRIES" default:"3" validate:"min=1,max=10"`
	RetryDelay time.Duration `envconfig:"JOB_RETRY_DELAY" default:"30s" validate:"gte=1s"`
	Timeout    time.Duration `envconfig:"JOB_TIMEOUT" default:"15m"`

	RetentionDays        int           `envconfig:"CLEANUP_RETENTION_DAYS" default:"30" validate:"min=1"`
	BatchSize            int           `envconfig:"CLEANUP_BATCH_SIZE" default:"1000" validate:"min=1,max=10000"`
	MaxConcurrentDeletes int           `envconfig:"CLEANUP_MAX_CONCURRENT_DELETES" default:"10" validate:"min=1,max=100"`
	ChunkPause           time.Duration `envconfig:"CLEANUP_CHUNK_PAUSE" default:"100ms"`
	SessionRetention     time.Duration `envconfig:"CLEANUP_SESSION_RETENTION" default:"168h"`
	DeviceTokenRetention time.Duration `envconfig:"CLEANUP_DEVICE_TOKEN_RETENTION" default:"2160h"`

	PublishBatchSize int `envconfig:"PUBLISH_BATCH_SIZE" default:"500" validate:"min=1"`

	ReminderLookAhead time.Duration `envconfig:"REMINDER_LOOKAHEAD" default:"24h" validate:"gte=1h"`
	ReminderTTL       time.Duration `envconfig:"REMINDER_DEDUP_TTL" default:"2h"`
}

// Location resolves Timezone. Validation guarantees it loads.
func (j JobsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// checkReminderWindow rejects a dedup TTL that could expire before the
// threshold window it guards has closed.
func (j JobsConfig) checkReminderWindow() error {
	if j.ReminderTTL <= j.ReminderInterval {
		return fmt.Errorf("REMINDER_DEDUP_TTL (%s) must exceed JOB_REMINDER_INTERVAL (%s)", j.ReminderTTL, j.ReminderInterval)
	}
	return nil
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X clubhouse/internal/config.version=1.4.0 \
//	    -X clubhouse/internal/config.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// ConfigError is returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
