package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"nifty-etl/internal/logging"
	"nifty-etl/internal/ohlcv"
)

// EnvPrefix prefixes every environment override, e.g. NIFTYETL_PIPELINE_PERIOD.
const EnvPrefix = "NIFTYETL"

// DefaultTickers is the watch list used when none is configured.
var DefaultTickers = []string{"RELIANCE.NS", "TCS.NS", "HDFCBANK.NS", "INFY.NS", "ICICIBANK.NS"}

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment"`
}

// PipelineConfig describes what one run fetches and where it writes.
type PipelineConfig struct {
	Tickers     []string      `mapstructure:"tickers" validate:"required,min=1,dive,required"`
	Period      string        `mapstructure:"period"`
	Start       string        `mapstructure:"start" validate:"omitempty,datetime=2006-01-02"`
	End         string        `mapstructure:"end" validate:"omitempty,datetime=2006-01-02"`
	BatchSize   int           `mapstructure:"batch_size" validate:"gte=1"`
	Retry       int           `mapstructure:"retry" validate:"gte=0"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Overwrite   bool          `mapstructure:"overwrite"`
	TablePrefix string        `mapstructure:"table_prefix" validate:"required,excludesall=\"'/\\"`
	OutBase     string        `mapstructure:"out_base" validate:"required"`
	Workbook    bool          `mapstructure:"workbook"`
	Charts      bool          `mapstructure:"charts"`
	ReportTitle string        `mapstructure:"report_title"`
}

// ProviderConfig selects and tunes the market-data source.
type ProviderConfig struct {
	Name              string        `mapstructure:"name" validate:"oneof=yahoo alpaca"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Threads           bool          `mapstructure:"threads"`
	UserAgent         string        `mapstructure:"user_agent"`
	Yahoo             YahooConfig   `mapstructure:"yahoo"`
	Alpaca            AlpacaConfig  `mapstructure:"alpaca"`
}

// YahooConfig covers the Yahoo chart endpoint.
type YahooConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// AlpacaConfig covers Alpaca market-data credentials.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
	Feed      string `mapstructure:"feed"`
}

// DatabaseConfig encapsulates the optional PostgreSQL mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs how often scheduled runs happen.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// AlertingConfig defines DQ failure notifications.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinFailures int            `mapstructure:"min_failures" validate:"gte=1"`
	Cooldown    time.Duration  `mapstructure:"cooldown"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig sets the report server.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	ReportFile   string        `mapstructure:"report_file"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("app.name", "niftyetl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("pipeline.tickers", DefaultTickers)
	v.SetDefault("pipeline.period", "1y")
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.retry", 2)
	v.SetDefault("pipeline.backoff", "1s")
	v.SetDefault("pipeline.overwrite", true)
	v.SetDefault("pipeline.table_prefix", "nifty")
	v.SetDefault("pipeline.out_base", "nifty_data")
	v.SetDefault("pipeline.workbook", false)
	v.SetDefault("pipeline.charts", true)
	v.SetDefault("pipeline.report_title", "Nifty ETL Report")

	v.SetDefault("provider.name", "yahoo")
	v.SetDefault("provider.request_timeout", "15s")
	v.SetDefault("provider.requests_per_second", 2.0)
	v.SetDefault("provider.threads", true)
	v.SetDefault("provider.user_agent", "nifty-etl/1.0")
	v.SetDefault("provider.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.alpaca.feed", "iex")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x4e494654))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_failures", 1)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Pipeline.Backoff < 0 {
		return fmt.Errorf("pipeline.backoff cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Pipeline.Start != "" && c.Pipeline.End != "" && c.Pipeline.Start >= c.Pipeline.End {
		return fmt.Errorf("pipeline.start must be before pipeline.end")
	}
	if c.Provider.Name == "alpaca" && (c.Provider.Alpaca.APIKey == "" || c.Provider.Alpaca.APISecret == "") {
		return fmt.Errorf("provider.alpaca.api_key and api_secret are required for the alpaca provider")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ParseDate parses an optional date setting or flag. Empty means unset.
func ParseDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ohlcv.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
