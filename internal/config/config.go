package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fx-high-alerts/internal/logging"
	"fx-high-alerts/internal/scheduler"
)

const (
	// MaxHistoryLimit caps the number of points served by the history endpoint.
	MaxHistoryLimit = 100

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the rate store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs polling cadence and the daily cleanup.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	CleanupCron     string        `mapstructure:"cleanup_cron"`
	Timezone        string        `mapstructure:"timezone"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ProviderConfig covers the exchange-rate API.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Symbol            string        `mapstructure:"symbol"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// MonitorConfig defines the lookback window and retention margin, in days.
type MonitorConfig struct {
	LookbackDays        int `mapstructure:"lookback_days"`
	RetentionMarginDays int `mapstructure:"retention_margin_days"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig describes the SMTP relay.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"smtp_host"`
	Port     int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	StartTLS bool     `mapstructure:"starttls"`
}

// RedisConfig publishes new-high events on a pub/sub channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// KafkaConfig publishes new-high events to a topic.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// APIConfig controls the HTTP read API.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	Timezone        string        `mapstructure:"timezone"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// LoadEnvFile populates the process environment from a dotenv file.
// A missing default .env is not an error; an explicit path must exist.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fxwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/forex_monitor.db")
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.cleanup_cron", "0 3 * * *")
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66787761))

	v.SetDefault("provider.base_url", "https://api.twelvedata.com")
	v.SetDefault("provider.symbol", "EUR/USD")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.requests_per_minute", 8)

	v.SetDefault("monitor.lookback_days", 45)
	v.SetDefault("monitor.retention_margin_days", 5)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"telegram", "email"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.smtp_port", 587)
	v.SetDefault("alerting.email.starttls", true)
	v.SetDefault("alerting.redis.enabled", false)
	v.SetDefault("alerting.redis.addr", "localhost:6379")
	v.SetDefault("alerting.redis.channel", "fxwatcher.new_high")
	v.SetDefault("alerting.kafka.enabled", false)
	v.SetDefault("alerting.kafka.topic", "fxwatcher.new_high")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8000")
	v.SetDefault("api.history_limit", MaxHistoryLimit)
	v.SetDefault("api.timezone", "Local")
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.rate_limit_per_sec", 5.0)
	v.SetDefault("api.rate_limit_burst", 10)
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

// bindEnv registers keys without defaults so env overrides reach Unmarshal.
func bindEnv(v *viper.Viper) error {
	keys := []string{
		"database.dsn",
		"provider.api_key",
		"provider.user_agent",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
		"alerting.email.smtp_host",
		"alerting.email.username",
		"alerting.email.password",
		"alerting.email.from",
		"alerting.email.to",
		"alerting.redis.password",
		"alerting.redis.db",
		"alerting.kafka.brokers",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalise() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "sqlite3" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == "postgresql" || c.Database.Driver == "pgx" {
		c.Database.Driver = DriverPostgres
	}
	c.Provider.Symbol = strings.ToUpper(strings.TrimSpace(c.Provider.Symbol))
	for i, ch := range c.Alerting.Channels {
		c.Alerting.Channels[i] = strings.ToLower(strings.TrimSpace(ch))
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, "":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if _, err := scheduler.ParseCron(c.Scheduler.CleanupCron); err != nil {
		return fmt.Errorf("scheduler.cleanup_cron: %w", err)
	}
	if _, _, ok := SplitSymbol(c.Provider.Symbol); !ok {
		return fmt.Errorf("provider.symbol must look like BASE/QUOTE, got %q", c.Provider.Symbol)
	}
	if c.Provider.RequestsPerMinute < 0 {
		return fmt.Errorf("provider.requests_per_minute cannot be negative")
	}
	if _, err := LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if _, err := LoadLocation(c.API.Timezone); err != nil {
		return fmt.Errorf("api.timezone: %w", err)
	}
	if c.Monitor.LookbackDays < 1 {
		return fmt.Errorf("monitor.lookback_days must be at least 1")
	}
	if c.Monitor.RetentionMarginDays < 0 {
		return fmt.Errorf("monitor.retention_margin_days cannot be negative")
	}
	if c.API.HistoryLimit < 1 || c.API.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("api.history_limit must be between 1 and %d", MaxHistoryLimit)
	}
	if c.API.RateLimitPerSec < 0 {
		return fmt.Errorf("api.rate_limit_per_sec cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return c.validateAlerting()
}

func (c *Config) validateAlerting() error {
	a := c.Alerting
	if a.Telegram.Enabled {
		if a.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if a.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if a.Email.Enabled {
		if a.Email.Host == "" {
			return fmt.Errorf("alerting.email.smtp_host must be set")
		}
		if a.Email.Port <= 0 {
			return fmt.Errorf("alerting.email.smtp_port must be greater than zero")
		}
		if a.Email.From == "" || len(a.Email.To) == 0 {
			return fmt.Errorf("alerting.email.from and alerting.email.to must be set")
		}
	}
	if a.Redis.Enabled && (a.Redis.Addr == "" || a.Redis.Channel == "") {
		return fmt.Errorf("alerting.redis.addr and alerting.redis.channel must be set")
	}
	if a.Kafka.Enabled && (len(a.Kafka.Brokers) == 0 || a.Kafka.Topic == "") {
		return fmt.Errorf("alerting.kafka.brokers and alerting.kafka.topic must be set")
	}
	return nil
}

// RequireProvider checks the settings needed to call the rate API.
func (c *Config) RequireProvider() error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("provider.api_key must be set (FXWATCHER_PROVIDER_API_KEY)")
	}
	return nil
}

// ChannelEnabled reports whether a channel is both listed and switched on.
func (c *Config) ChannelEnabled(name string) bool {
	listed := false
	for _, ch := range c.Alerting.Channels {
		if ch == name {
			listed = true
			break
		}
	}
	if !listed {
		return false
	}
	switch name {
	case "telegram":
		return c.Alerting.Telegram.Enabled
	case "email":
		return c.Alerting.Email.Enabled
	case "redis":
		return c.Alerting.Redis.Enabled
	case "kafka":
		return c.Alerting.Kafka.Enabled
	default:
		return false
	}
}

// RetentionDays is the age beyond which samples are pruned.
func (c *Config) RetentionDays() int {
	return c.Monitor.LookbackDays + c.Monitor.RetentionMarginDays
}

// QuoteCurrency returns the quote side of the configured symbol.
func (c *Config) QuoteCurrency() string {
	_, quote, _ := SplitSymbol(c.Provider.Symbol)
	return quote
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// SplitSymbol splits "EUR/USD" into its base and quote currencies.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	base, quote, found := strings.Cut(symbol, "/")
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if !found || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

// LoadLocation resolves a timezone name, treating "" and "Local" as time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
