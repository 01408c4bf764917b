package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	billing "terminal-billing/internal/billing/domain"
)

// Config is the runtime configuration of the billing service.
type Config struct {
	HTTPAddr    string         `yaml:"http_addr"`
	DatabaseURL string         `yaml:"database_url"`
	Demo        bool           `yaml:"demo"`
	Log         LogConfig      `yaml:"log"`
	Auth        AuthConfig     `yaml:"auth"`
	Billing     BillingConfig  `yaml:"billing"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Outbox      OutboxConfig   `yaml:"outbox"`
	Redis       RedisConfig    `yaml:"redis"`
	Archive     ArchiveConfig  `yaml:"archive"`
	Notify      NotifyConfig   `yaml:"notify"`
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig holds the HS256 secret for API tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BillingConfig holds statement generation defaults.
type BillingConfig struct {
	DefaultMethod    string `yaml:"default_method"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
}

// ScheduleConfig drives the monthly batch.
type ScheduleConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DayOfMonth int    `yaml:"day_of_month"`
	At         string `yaml:"at"`
}

// OutboxConfig drives the background dispatcher.
type OutboxConfig struct {
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	BatchSize        int           `yaml:"batch_size"`
	MaxAttempts      int           `yaml:"max_attempts"`
}

// RedisConfig enables the cross-replica generation lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// ArchiveConfig enables MinIO archiving of finalized statements when Endpoint is set.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NotifyConfig configures statement notifications.
type NotifyConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	Template      string `yaml:"template"`
	Drafts        bool   `yaml:"drafts"`
}

// Default returns the configuration used before file and env overrides.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Log:      LogConfig{Level: "info", Format: "text"},
		Billing: BillingConfig{
			DefaultMethod:    string(billing.BillingMethodSplit),
			BatchConcurrency: 4,
		},
		Schedule: ScheduleConfig{Enabled: true, DayOfMonth: 1, At: "02:00"},
		Outbox:   OutboxConfig{DispatchInterval: 5 * time.Second, BatchSize: 50, MaxAttempts: 5},
		Redis:    RedisConfig{LockTTL: 2 * time.Minute},
		Archive:  ArchiveConfig{Bucket: "billing-statements"},
	}
}

// Load reads an optional .env file, an optional YAML file named by
// BILLING_CONFIG, then environment overrides, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := Default()
	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.DatabaseURL, "PG_DSN")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&c.Billing.DefaultMethod, "DEFAULT_BILLING_METHOD")
	setString(&c.Schedule.At, "SCHEDULE_AT")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Archive.Endpoint, "ARCHIVE_ENDPOINT")
	setString(&c.Archive.AccessKey, "ARCHIVE_ACCESS_KEY")
	setString(&c.Archive.SecretKey, "ARCHIVE_SECRET_KEY")
	setString(&c.Archive.Bucket, "ARCHIVE_BUCKET")
	setString(&c.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setString(&c.Notify.WebhookSecret, "NOTIFY_WEBHOOK_SECRET")

	var errs []error
	errs = append(errs,
		setBool(&c.Demo, "BILLING_DEMO"),
		setInt(&c.Billing.BatchConcurrency, "BATCH_CONCURRENCY"),
		setBool(&c.Schedule.Enabled, "SCHEDULE_ENABLED"),
		setInt(&c.Schedule.DayOfMonth, "SCHEDULE_DAY_OF_MONTH"),
		setDuration(&c.Outbox.DispatchInterval, "OUTBOX_DISPATCH_INTERVAL"),
		setInt(&c.Outbox.MaxAttempts, "OUTBOX_MAX_ATTEMPTS"),
		setInt(&c.Redis.DB, "REDIS_DB"),
		setDuration(&c.Redis.LockTTL, "REDIS_LOCK_TTL"),
		setBool(&c.Archive.UseSSL, "ARCHIVE_USE_SSL"),
		setBool(&c.Notify.Drafts, "NOTIFY_DRAFTS"),
	)
	return errors.Join(errs...)
}

// Validate checks required settings and value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" && !c.Demo {
		errs = append(errs, errors.New("config: DATABASE_URL required (or BILLING_DEMO=true)"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("config: AUTH_JWT_SECRET required"))
	}
	if _, err := billing.ParseBillingMethod(c.Billing.DefaultMethod); err != nil {
		errs = append(errs, fmt.Errorf("config: default billing method %q must be split or exit_month", c.Billing.DefaultMethod))
	}
	if c.Billing.BatchConcurrency < 1 {
		errs = append(errs, errors.New("config: batch concurrency must be positive"))
	}
	if c.Schedule.DayOfMonth < 1 || c.Schedule.DayOfMonth > 28 {
		errs = append(errs, fmt.Errorf("config: schedule day_of_month %d must be within 1..28", c.Schedule.DayOfMonth))
	}
	if _, err := time.Parse("15:04", c.Schedule.At); err != nil {
		errs = append(errs, fmt.Errorf("config: schedule at %q must be HH:MM", c.Schedule.At))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log format %q must be text or json", c.Log.Format))
	}
	if c.Archive.Endpoint != "" && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("config: archive endpoint needs access key, secret key and bucket"))
	}
	return errors.Join(errs...)
}

// BillingMethod returns the parsed default billing method.
func (c Config) BillingMethod() billing.BillingMethod {
	method, err := billing.ParseBillingMethod(c.Billing.DefaultMethod)
	if err != nil {
		return billing.BillingMethodSplit
	}
	return method
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setBool(dst *bool, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("config: %s must be a boolean: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	*dst = parsed
	return nil
}
