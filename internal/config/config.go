// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
)

// AppName names the per-user data directory.
const AppName = "catalog-harvester"

// EnvPrefix is prepended to every environment override, e.g. HARVESTER_CRAWLER_CATEGORY.
const EnvPrefix = "HARVESTER"

// Backend names accepted by the selector fields.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPubSub   = "pubsub"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Governor   GovernorConfig   `mapstructure:"governor"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Queue      QueueConfig      `mapstructure:"queue"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	DB         DBConfig         `mapstructure:"db"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Export     ExportConfig     `mapstructure:"export"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig shapes one crawl run and the catalog client.
type CrawlerConfig struct {
	Category       string        `mapstructure:"category"`
	MaxRecords     int           `mapstructure:"max_records"`
	PageSize       int           `mapstructure:"page_size"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	Endpoint       string        `mapstructure:"endpoint"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RetryConfig tunes the failure classifier strategies.
type RetryConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	RateLimitDefaultWait time.Duration `mapstructure:"rate_limit_default_wait"`
	// RateLimitMaxAttempts caps rate-limited retries; 0 keeps them unbounded.
	RateLimitMaxAttempts int `mapstructure:"rate_limit_max_attempts"`
}

// GovernorConfig bounds outbound request admission.
type GovernorConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// QueueConfig selects the publish channel implementation.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig identifies the durable topic and subscription.
type PubSubConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	Topic              string `mapstructure:"topic"`
	Subscription       string `mapstructure:"subscription"`
	EmulatorHost       string `mapstructure:"emulator_host"`
	AckDeadlineSeconds int32  `mapstructure:"ack_deadline_seconds"`
	// EnsureResources creates the topic and subscription at startup when missing.
	EnsureResources bool `mapstructure:"ensure_resources"`
}

// ConsumerConfig controls the persistence consumer.
type ConsumerConfig struct {
	Workers       int    `mapstructure:"workers"`
	MaxDeliveries int    `mapstructure:"max_deliveries"`
	Store         string `mapstructure:"store"`
	ListenAddr    string `mapstructure:"listen_addr"`
	APIKey        string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig locates the embedded database.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ExportConfig controls the CSV artifact written after a crawl.
type ExportConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	GCSEndpoint string `mapstructure:"gcs_endpoint"`
}

// DataDir returns the per-user data directory, e.g. ~/.local/share/catalog-harvester.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Load builds a Config from an optional file plus HARVESTER_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.category", crawler.DefaultCategory)
	v.SetDefault("crawler.max_records", crawler.DefaultMaxRecords)
	v.SetDefault("crawler.page_size", crawler.DefaultPageSize)
	v.SetDefault("crawler.page_delay", crawler.DefaultPageDelay)
	v.SetDefault("crawler.endpoint", "https://gql.tokopedia.com/graphql/SearchProductQuery")
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("retry.max_attempts", crawler.DefaultMaxTransientAttempts)
	v.SetDefault("retry.base_delay", crawler.DefaultTransientBase)
	v.SetDefault("retry.rate_limit_default_wait", crawler.DefaultRateLimitWait)
	v.SetDefault("retry.rate_limit_max_attempts", 0)
	v.SetDefault("governor.requests_per_window", ratelimit.DefaultRequestsPerWindow)
	v.SetDefault("governor.window", ratelimit.DefaultWindow)
	v.SetDefault("governor.max_concurrent", ratelimit.DefaultMaxConcurrent)
	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.path", filepath.Join(DataDir(), "checkpoints"))
	v.SetDefault("checkpoint.redis_addr", "")
	v.SetDefault("checkpoint.redis_password", "")
	v.SetDefault("checkpoint.redis_db", 0)
	v.SetDefault("checkpoint.key_prefix", "harvester")
	v.SetDefault("queue.backend", BackendPubSub)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "product_queue")
	v.SetDefault("pubsub.subscription", "product_queue-consumer")
	v.SetDefault("pubsub.emulator_host", "")
	v.SetDefault("pubsub.ack_deadline_seconds", 60)
	v.SetDefault("pubsub.ensure_resources", true)
	v.SetDefault("consumer.workers", 4)
	v.SetDefault("consumer.max_deliveries", 5)
	v.SetDefault("consumer.store", BackendPostgres)
	v.SetDefault("consumer.listen_addr", ":8080")
	v.SetDefault("consumer.api_key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("sqlite.path", filepath.Join(DataDir(), "listings.db"))
	v.SetDefault("export.enabled", true)
	v.SetDefault("export.dir", "output")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "")
	v.SetDefault("export.gcs_endpoint", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Crawler.Category) == "" {
		errs = append(errs, errors.New("crawler.category is required"))
	}
	if c.Crawler.PageSize <= 0 {
		errs = append(errs, errors.New("crawler.page_size must be > 0"))
	}
	if c.Crawler.MaxRecords <= 0 {
		errs = append(errs, errors.New("crawler.max_records must be > 0"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 0"))
	}
	if c.Retry.RateLimitMaxAttempts < 0 {
		errs = append(errs, errors.New("retry.rate_limit_max_attempts must be >= 0"))
	}
	if c.Governor.RequestsPerWindow <= 0 {
		errs = append(errs, errors.New("governor.requests_per_window must be > 0"))
	}
	if c.Governor.Window <= 0 {
		errs = append(errs, errors.New("governor.window must be > 0"))
	}
	if c.Governor.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("governor.max_concurrent must be > 0"))
	}
	if c.Consumer.Workers <= 0 {
		errs = append(errs, errors.New("consumer.workers must be > 0"))
	}
	if c.Consumer.MaxDeliveries <= 0 {
		errs = append(errs, errors.New("consumer.max_deliveries must be > 0"))
	}
	errs = append(errs, oneOf("checkpoint.backend", c.Checkpoint.Backend, BackendFile, BackendRedis, BackendMemory))
	errs = append(errs, oneOf("queue.backend", c.Queue.Backend, BackendPubSub, BackendMemory))
	errs = append(errs, oneOf("consumer.store", c.Consumer.Store, BackendPostgres, BackendSQLite, BackendMemory))
	if c.Checkpoint.Backend == BackendRedis && c.Checkpoint.RedisAddr == "" {
		errs = append(errs, errors.New("checkpoint.redis_addr is required for the redis backend"))
	}
	if c.Checkpoint.Backend == BackendFile && c.Checkpoint.Path == "" {
		errs = append(errs, errors.New("checkpoint.path is required for the file backend"))
	}
	return errors.Join(errs...)
}

// ValidateFor checks the settings a specific command needs beyond Validate.
func (c Config) ValidateFor(command string) error {
	var errs []error
	needsPubSub := c.Queue.Backend == BackendPubSub && (command == "crawl" || command == "consume")
	if needsPubSub {
		if c.PubSub.ProjectID == "" {
			errs = append(errs, errors.New("pubsub.project_id is required"))
		}
		if c.PubSub.Topic == "" {
			errs = append(errs, errors.New("pubsub.topic is required"))
		}
		// The crawl creates the subscription up front so nothing it publishes is dropped.
		if (command == "consume" || c.PubSub.EnsureResources) && c.PubSub.Subscription == "" {
			errs = append(errs, errors.New("pubsub.subscription is required"))
		}
	}
	consumes := command == "consume" || (command == "crawl" && c.Queue.Backend == BackendMemory)
	if ((consumes && c.Consumer.Store == BackendPostgres) || command == "migrate") && c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	return errors.Join(errs...)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// ControllerConfig converts the crawler section into controller settings.
func (c Config) ControllerConfig() crawler.ControllerConfig {
	delay := c.Crawler.PageDelay
	if delay == 0 {
		// Zero in a file means "no pause"; the controller treats zero as "default".
		delay = -1
	}
	return crawler.ControllerConfig{
		Category:   c.Crawler.Category,
		PageSize:   c.Crawler.PageSize,
		MaxRecords: c.Crawler.MaxRecords,
		PageDelay:  delay,
	}
}

// RetryPolicyConfig converts the retry section.
func (c Config) RetryPolicyConfig() crawler.RetryConfig {
	return crawler.RetryConfig{
		MaxTransientAttempts: c.Retry.MaxAttempts,
		TransientBase:        c.Retry.BaseDelay,
		DefaultRateLimitWait: c.Retry.RateLimitDefaultWait,
		MaxRateLimitRetries:  c.Retry.RateLimitMaxAttempts,
	}
}

// GovernorConfig converts the governor section.
func (c Config) GovernorConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerWindow: c.Governor.RequestsPerWindow,
		Window:            c.Governor.Window,
		MaxConcurrent:     c.Governor.MaxConcurrent,
	}
}
