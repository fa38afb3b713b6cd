// Package config handles configuration loading for the alert triage console.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Triage  TriageConfig  `yaml:"triage"`
	Logging LoggingConfig `yaml:"logging"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Journal JournalConfig `yaml:"journal"`
	Export  ExportConfig  `yaml:"export"`
	Metrics MetricsConfig `yaml:"metrics"`
	Secrets SecretsConfig `yaml:"secrets"`
}

// APIConfig holds the classification API settings.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"` // includes the /api prefix
	Timeout time.Duration `yaml:"timeout"`
	// ShowErrorDetail shows upstream errors unscrubbed. For development.
	ShowErrorDetail bool `yaml:"show_error_detail"`
}

// SessionConfig holds session persistence settings.
type SessionConfig struct {
	Store   string        `yaml:"store"` // memory or redis
	TTL     time.Duration `yaml:"ttl"`
	Profile string        `yaml:"profile"`
	Prefix  string        `yaml:"prefix"`
	Redis   RedisConfig   `yaml:"redis"`

	// EncryptionKey seals sessions stored in Redis. Empty stores them as JSON.
	EncryptionKey string `yaml:"encryption_key"`
}

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MaxRetries   int           `yaml:"max_retries"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// TriageConfig holds console behaviour limits.
type TriageConfig struct {
	ListLimit         int           `yaml:"list_limit"`
	DashboardLimit    int           `yaml:"dashboard_limit"`
	BatchMax          int           `yaml:"batch_max"`
	PreviewLimit      int           `yaml:"preview_limit"`
	PasswordMinLength int           `yaml:"password_min_length"`
	StatsCacheTTL     time.Duration `yaml:"stats_cache_ttl"`
	ConfirmationTTL   time.Duration `yaml:"confirmation_ttl"`
	OutboxSize        int           `yaml:"outbox_size"`
	LoginMaxAttempts  int           `yaml:"login_max_attempts"`
	LoginLockout      time.Duration `yaml:"login_lockout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// KafkaConfig holds triage event publishing settings.
type KafkaConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	CreateTopic       bool          `yaml:"create_topic"`
	Partitions        int           `yaml:"partitions"`
	ReplicationFactor int           `yaml:"replication_factor"`
	Retention         time.Duration `yaml:"retention"`
	Compression       string        `yaml:"compression"`
	SecurityProtocol  string        `yaml:"security_protocol"`
	TLSCAFile         string        `yaml:"tls_ca_file"`
	SASLMechanism     string        `yaml:"sasl_mechanism"`
	SASLUsername      string        `yaml:"sasl_username"`
	SASLPassword      string        `yaml:"sasl_password"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	RequiredAcks      int           `yaml:"required_acks"`
}

// JournalConfig holds the ClickHouse decision journal settings.
type JournalConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter BatchWriterConfig `yaml:"batch_writer"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Hosts            []string      `yaml:"hosts"`
	Database         string        `yaml:"database"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled       bool          `yaml:"tls_enabled"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	Compression      string        `yaml:"compression"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
}

// BatchWriterConfig holds batch writer settings.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxBuffered   int           `yaml:"max_buffered"`
}

// ExportConfig holds S3 report export settings.
type ExportConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	AccessKeyID    string `yaml:"access_key_id"`
	SecretKey      string `yaml:"secret_access_key"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	StorageClass   string `yaml:"storage_class"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Addr              string `yaml:"addr"`
	RequestsPerMinute int    `yaml:"requests_per_minute"` // per scraper IP, 0 disables
}

// SecretsConfig controls how credential references such as
// "env:REDIS_PASSWORD" or "file:clickhouse_password" are resolved.
type SecretsConfig struct {
	EnvPrefix string `yaml:"env_prefix"`
	Dir       string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 5 * time.Second,
		},
		Session: SessionConfig{
			Store:   "memory",
			TTL:     24 * time.Hour,
			Profile: "default",
			Prefix:  "triage:session",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     2,
				MaxRetries:   3,
			},
		},
		Triage: TriageConfig{
			ListLimit:         100,
			DashboardLimit:    50,
			BatchMax:          100,
			PreviewLimit:      20,
			PasswordMinLength: 8,
			StatsCacheTTL:     30 * time.Second,
			ConfirmationTTL:   2 * time.Minute,
			OutboxSize:        1024,
			LoginMaxAttempts:  5,
			LoginLockout:      15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Kafka: KafkaConfig{
			Enabled:           false,
			Brokers:           []string{"localhost:9092"},
			Topic:             "triage-events",
			Partitions:        3,
			ReplicationFactor: 1,
			Retention:         30 * 24 * time.Hour,
			Compression:       "lz4",
			SecurityProtocol:  "PLAINTEXT",
			BatchTimeout:      10 * time.Millisecond,
			MaxAttempts:       4,
			WriteTimeout:      10 * time.Second,
			RequiredAcks:      -1, // Wait for all replicas
		},
		Journal: JournalConfig{
			Enabled: false, // Disabled by default for development without ClickHouse
			ClickHouse: ClickHouseConfig{
				Hosts:            []string{"localhost:9000"},
				Database:         "triage",
				Username:         "default",
				MaxOpenConns:     5,
				MaxIdleConns:     2,
				ConnMaxLifetime:  time.Hour,
				DialTimeout:      10 * time.Second,
				Compression:      "lz4",
				MaxExecutionTime: 30 * time.Second,
			},
			BatchWriter: BatchWriterConfig{
				BatchSize:     100,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
				MaxBuffered:   1000,
			},
		},
		Export: ExportConfig{
			Enabled: false,
			Region:  "us-east-1",
			Prefix:  "reports",
		},
		Metrics: MetricsConfig{
			Enabled:           false,
			Addr:              ":9464",
			RequestsPerMinute: 120,
		},
		Secrets: SecretsConfig{
			EnvPrefix: "TRIAGE_",
			Dir:       "/run/secrets",
		},
	}
}

// Path returns the YAML config location, TRIAGE_CONFIG_PATH or the default.
func Path() string {
	if p := os.Getenv("TRIAGE_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// Load reads an optional .env file, then the YAML config file, then applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := cfg.loadFile(Path()); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("TRIAGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if file := os.Getenv("TRIAGE_LOG_FILE"); file != "" {
		c.Logging.File = file
	}

	if apiURL := os.Getenv("TRIAGE_API_URL"); apiURL != "" {
		c.API.BaseURL = apiURL
	}
	if timeout := os.Getenv("TRIAGE_API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.API.Timeout = d
		}
	}
	if v, err := strconv.ParseBool(os.Getenv("TRIAGE_SHOW_ERROR_DETAIL")); err == nil {
		c.API.ShowErrorDetail = v
	}

	// Session settings
	if store := os.Getenv("TRIAGE_SESSION_STORE"); store != "" {
		c.Session.Store = store
	}
	if profile := os.Getenv("TRIAGE_PROFILE"); profile != "" {
		c.Session.Profile = profile
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Session.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Session.Redis.Password = pass
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Session.Redis.DB = n
		}
	}

	// Kafka settings
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		c.Kafka.Topic = topic
	}
	if user := os.Getenv("KAFKA_SASL_USERNAME"); user != "" {
		c.Kafka.SASLUsername = user
	}
	if pass := os.Getenv("KAFKA_SASL_PASSWORD"); pass != "" {
		c.Kafka.SASLPassword = pass
	}

	// Journal settings
	if enabled := os.Getenv("TRIAGE_JOURNAL_ENABLED"); enabled == "true" {
		c.Journal.Enabled = true
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Journal.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Journal.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Journal.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Journal.ClickHouse.Password = pass
	}

	// Export settings
	if bucket := os.Getenv("TRIAGE_EXPORT_BUCKET"); bucket != "" {
		c.Export.Bucket = bucket
		c.Export.Enabled = true
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Export.Region = region
	}
	if endpoint := os.Getenv("TRIAGE_EXPORT_ENDPOINT"); endpoint != "" {
		c.Export.Endpoint = endpoint
	}

	if dir := os.Getenv("TRIAGE_SECRETS_DIR"); dir != "" {
		c.Secrets.Dir = dir
	}

	if addr := os.Getenv("TRIAGE_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api base_url: %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session redis addr is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid session store: %q", c.Session.Store)
	}

	if c.Triage.ListLimit <= 0 || c.Triage.DashboardLimit <= 0 {
		return fmt.Errorf("list limits must be positive")
	}
	if c.Triage.BatchMax <= 0 || c.Triage.BatchMax > 100 {
		return fmt.Errorf("batch_max must be between 1 and 100, got %d", c.Triage.BatchMax)
	}
	if c.Triage.PreviewLimit <= 0 {
		return fmt.Errorf("preview_limit must be positive")
	}
	if c.Triage.PasswordMinLength < 8 {
		return fmt.Errorf("password_min_length must be at least 8, got %d", c.Triage.PasswordMinLength)
	}
	if c.Triage.ConfirmationTTL <= 0 {
		return fmt.Errorf("confirmation_ttl must be positive")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka requires brokers and a topic")
	}
	if c.Journal.Enabled && len(c.Journal.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("journal requires at least one clickhouse host")
	}
	if c.Journal.Enabled && c.Journal.BatchWriter.BatchSize <= 0 {
		return fmt.Errorf("journal batch_size must be positive")
	}
	if c.Export.Enabled && c.Export.Bucket == "" {
		return fmt.Errorf("export requires a bucket")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics requires an addr")
	}
	if c.Metrics.RequestsPerMinute < 0 {
		return fmt.Errorf("metrics requests_per_minute must not be negative")
	}

	return nil
}
