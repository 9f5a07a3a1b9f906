package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach engine
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	Enrollment   EnrollmentConfig   `yaml:"enrollment"`
	Sequence     SequenceConfig     `yaml:"sequence"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	SES          SESConfig          `yaml:"ses"`
	DeliveryHTTP DeliveryHTTPConfig `yaml:"delivery_http"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// ConnLifetime returns the configured connection lifetime as a duration
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds the Redis URL used by the capacity ledger and locks.
// An empty URL disables Redis; locks fall back to Postgres advisory locks.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig selects the repository backend
type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
}

// EnrollmentConfig tunes the snapshot transaction coordinator
type EnrollmentConfig struct {
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxAttempts     int    `yaml:"max_attempts"`
	DuplicatePolicy string `yaml:"duplicate_policy"` // "reject" or "allow"
}

// Timeout returns the configured timeout as a duration
func (c EnrollmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SequenceConfig tunes the sequence state machine
type SequenceConfig struct {
	StrictTransitions bool `yaml:"strict_transitions"`
}

// DispatchConfig tunes the send loop
type DispatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	BatchSize       int    `yaml:"batch_size"`
	LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
	Sender          string `yaml:"sender"` // "ses" or "http"
}

// Interval returns the polling interval as a duration
func (c DispatchConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LockTTL returns the per-enrollment lock TTL as a duration
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// DeliveryHTTPConfig points the HTTP sender at a relay
type DeliveryHTTPConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c DeliveryHTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig guards the delivery event webhook
type WebhookConfig struct {
	Token string `yaml:"token"`
}

// ArchiveConfig holds the S3 + DynamoDB snapshot archive settings
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Table         string `yaml:"table"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	RetentionDays int    `yaml:"retention_days"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Config{
		// Booleans that default to true are seeded before unmarshalling
		// so an explicit false in the file still wins.
		Sequence: SequenceConfig{StrictTransitions: true},
		Dispatch: DispatchConfig{Enabled: true},
		Logging:  LoggingConfig{RedactPII: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "outreach:sends"
	}
	if cfg.Storage.Driver == "" {
		if cfg.Database.URL != "" {
			cfg.Storage.Driver = "postgres"
		} else {
			cfg.Storage.Driver = "memory"
		}
	}
	if cfg.Enrollment.TimeoutSeconds == 0 {
		cfg.Enrollment.TimeoutSeconds = 30
	}
	if cfg.Enrollment.MaxAttempts == 0 {
		cfg.Enrollment.MaxAttempts = 3
	}
	if cfg.Enrollment.DuplicatePolicy == "" {
		cfg.Enrollment.DuplicatePolicy = "reject"
	}
	if cfg.Dispatch.IntervalSeconds == 0 {
		cfg.Dispatch.IntervalSeconds = 30
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 120
	}
	if cfg.Dispatch.Sender == "" {
		cfg.Dispatch.Sender = "ses"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.DeliveryHTTP.TimeoutSeconds == 0 {
		cfg.DeliveryHTTP.TimeoutSeconds = 30
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = cfg.SES.Region
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "enrollments"
	}
	if cfg.Archive.RetentionDays == 0 {
		cfg.Archive.RetentionDays = 365
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the combinations Load cannot default.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("storage driver postgres requires database.url")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Dispatch.Sender {
	case "ses":
	case "http":
		if c.DeliveryHTTP.URL == "" {
			return fmt.Errorf("dispatch sender http requires delivery_http.url")
		}
	default:
		return fmt.Errorf("unknown dispatch sender %q", c.Dispatch.Sender)
	}
	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.Table == "") {
		return fmt.Errorf("archive requires bucket and table")
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
		cfg.Storage.Driver = "postgres"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}

	if v := os.Getenv("DELIVERY_HTTP_URL"); v != "" {
		cfg.DeliveryHTTP.URL = v
	}
	if v := os.Getenv("DELIVERY_HTTP_TOKEN"); v != "" {
		cfg.DeliveryHTTP.Token = v
	}
	if v := os.Getenv("DELIVERY_WEBHOOK_TOKEN"); v != "" {
		cfg.Webhook.Token = v
	}

	if v := os.Getenv("ARCHIVE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Archive.Enabled = b
		}
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("ARCHIVE_TABLE"); v != "" {
		cfg.Archive.Table = v
	}
	if v := os.Getenv("ARCHIVE_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
