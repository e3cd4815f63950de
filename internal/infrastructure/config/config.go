// Package config loads the bot configuration from config.toml and
// IMAGEBOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Session   SessionConfig   `mapstructure:"session"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	YooKassa  YooKassaConfig  `mapstructure:"yookassa"`
	Checkout  CheckoutConfig  `mapstructure:"checkout"`
	Imaging   ImagingConfig   `mapstructure:"imaging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output"` // stdout, stderr, or a file path
}

// HTTPConfig configures the webhook and health server.
type HTTPConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// DatabaseConfig points at the invoice audit database. Path is used by the
// sqlite driver only and may be ":memory:".
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // minutes
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // minutes
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig selects the asset store.
type SessionConfig struct {
	Store           string        `mapstructure:"store" validate:"oneof=memory redis"`
	Retention       time.Duration `mapstructure:"retention" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
}

type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	APIURL      string        `mapstructure:"api_url" validate:"url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	Workers     int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize   int           `mapstructure:"queue_size" validate:"gt=0"`
}

type YooKassaConfig struct {
	ShopID    string        `mapstructure:"shop_id"`
	SecretKey string        `mapstructure:"secret_key"`
	APIURL    string        `mapstructure:"api_url" validate:"url"`
	ReturnURL string        `mapstructure:"return_url" validate:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CheckoutConfig drives the invoice lifecycle. Price and AdminIDs are parsed
// by Load rather than decoded.
type CheckoutConfig struct {
	Price           decimal.Decimal `mapstructure:"-"`
	Currency        string          `mapstructure:"currency" validate:"len=3"`
	Description     string          `mapstructure:"description"`
	PollInterval    time.Duration   `mapstructure:"poll_interval" validate:"gt=0,ltfield=InvoiceTTL"`
	InvoiceTTL      time.Duration   `mapstructure:"invoice_ttl" validate:"gt=0"`
	MaxAttempts     int             `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	RetryDelay      time.Duration   `mapstructure:"retry_delay"`
	ReservationTTL  time.Duration   `mapstructure:"reservation_ttl" validate:"gt=0"`
	SupportUsername string          `mapstructure:"support_username"`
	AdminIDs        []int64         `mapstructure:"-"`
}

// ImagingConfig configures the background removal model.
type ImagingConfig struct {
	APIURL      string        `mapstructure:"api_url" validate:"url"`
	APIToken    string        `mapstructure:"api_token"`
	Model       string        `mapstructure:"model"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig configures OTLP export. DBLogFullSQL puts statement text on
// spans and is refused in production.
type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"`
	SamplingRatio     float64       `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          `mapstructure:"insecure"`
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

// defaults lists every key Load knows. Keys without a default are listed with
// a zero value so environment variables can still set them.
var defaults = map[string]any{
	"app.name": "imagebot",
	"app.env":  "development",
	"app.port": "8080",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":     15 * time.Second,
	"http.write_timeout":    15 * time.Second,
	"http.idle_timeout":     60 * time.Second,
	"http.max_header_bytes": 1 << 20,
	"http.trusted_proxies":  []string{},

	"database.driver":             "postgres",
	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "imagebot",
	"database.sslmode":            "disable",
	"database.path":               "imagebot.db",
	"database.max_open_conns":     10,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.enabled":  false,
	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"session.store":            "memory",
	"session.retention":        24 * time.Hour,
	"session.cleanup_interval": 10 * time.Minute,

	"telegram.token":        "",
	"telegram.api_url":      "https://api.telegram.org",
	"telegram.poll_timeout": 30 * time.Second,
	"telegram.workers":      8,
	"telegram.queue_size":   256,

	"yookassa.shop_id":    "",
	"yookassa.secret_key": "",
	"yookassa.api_url":    "https://api.yookassa.ru",
	"yookassa.return_url": "https://t.me",
	"yookassa.timeout":    10 * time.Second,

	"checkout.price":            "490",
	"checkout.currency":         "RUB",
	"checkout.description":      "Обработка фотографии без водяных знаков",
	"checkout.poll_interval":    10 * time.Second,
	"checkout.invoice_ttl":      10 * time.Minute,
	"checkout.max_attempts":     3,
	"checkout.retry_delay":      time.Second,
	"checkout.reservation_ttl":  time.Minute,
	"checkout.support_username": "@support",
	"checkout.admin_ids":        "",

	"imaging.api_url":      "https://openrouter.ai/api/v1",
	"imaging.api_token":    "",
	"imaging.model":        "google/gemini-2.5-flash-preview-image",
	"imaging.max_attempts": 2,
	"imaging.timeout":      90 * time.Second,

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "imagebot",
	"telemetry.insecure":                false,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
}

// Load reads config.toml from the working directory or /app, then applies
// IMAGEBOT_* overrides (IMAGEBOT_CHECKOUT_PRICE sets checkout.price).
// A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("IMAGEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	var err error
	if cfg.Checkout.Price, err = decimal.NewFromString(v.GetString("checkout.price")); err != nil {
		return nil, fmt.Errorf("checkout.price is not a number: %w", err)
	}
	if cfg.Checkout.AdminIDs, err = parseIDs(v.GetString("checkout.admin_ids")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseIDs splits a comma separated list of Telegram user IDs.
func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("checkout.admin_ids contains invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// structValidator reports fields by their config key, so a failure reads
// "checkout.poll_interval" rather than "PollInterval".
var structValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", describe(verrs[0]))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !c.Checkout.Price.IsPositive() {
		return errors.New("checkout.price must be positive")
	}
	if c.Session.Store == "redis" && !c.Redis.Enabled {
		return errors.New("session.store=redis requires redis.enabled=true")
	}

	if c.App.Env != "production" {
		return nil
	}
	switch {
	case c.Telegram.Token == "":
		return errors.New("telegram.token is required in production")
	case c.YooKassa.ShopID == "" || c.YooKassa.SecretKey == "":
		return errors.New("yookassa.shop_id and yookassa.secret_key are required in production")
	case c.Database.Driver != "postgres":
		return errors.New("database.driver must be postgres in production")
	case c.Database.Password == "":
		return errors.New("database.password is required in production")
	case c.Telemetry.DBLogFullSQL:
		return errors.New("telemetry.db_log_full_sql must be false in production")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Sprintf("%s failed %s (got %v)", key, rule, fe.Value())
}

// IsAdmin reports whether userID may run admin commands.
func (c *CheckoutConfig) IsAdmin(userID int64) bool {
	return slices.Contains(c.AdminIDs, userID)
}

// DSN renders a postgres URL with user and password escaped.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}
