package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Targeting TargetingConfig `yaml:"targeting" mapstructure:"targeting"`
	Risk      RiskConfig      `yaml:"risk" mapstructure:"risk"`
	USGS      USGSConfig      `yaml:"usgs" mapstructure:"usgs"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Callbot   CallbotConfig   `yaml:"callbot" mapstructure:"callbot"`
	Telephony TelephonyConfig `yaml:"telephony" mapstructure:"telephony"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TargetingConfig holds the default selection criteria.
type TargetingConfig struct {
	MaxDistanceKM    float64 `yaml:"max_distance_km" mapstructure:"max_distance_km"`
	MinAssetValue    float64 `yaml:"min_asset_value" mapstructure:"min_asset_value"`
	RequireUninsured bool    `yaml:"require_uninsured" mapstructure:"require_uninsured"`
	RequireHomeowner bool    `yaml:"require_homeowner" mapstructure:"require_homeowner"`
	ExcludeDoNotCall bool    `yaml:"exclude_do_not_call" mapstructure:"exclude_do_not_call"`
	Limit            int     `yaml:"limit" mapstructure:"limit"`
	MaxLimit         int     `yaml:"max_limit" mapstructure:"max_limit"`
	TieBandKM        float64 `yaml:"tie_band_km" mapstructure:"tie_band_km"`
}

// RiskConfig overrides the risk classifier cut points. Zero values keep the
// built-in policy.
type RiskConfig struct {
	DistanceBandsKM    []float64 `yaml:"distance_bands_km" mapstructure:"distance_bands_km"`
	MagnitudeBands     []float64 `yaml:"magnitude_bands" mapstructure:"magnitude_bands"`
	HighValueThreshold float64   `yaml:"high_value_threshold" mapstructure:"high_value_threshold"`
	HighScore          int       `yaml:"high_score" mapstructure:"high_score"`
	MediumScore        int       `yaml:"medium_score" mapstructure:"medium_score"`
}

// USGSConfig configures the earthquake feed client.
type USGSConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Hours        int     `yaml:"hours" mapstructure:"hours"`
	MinMagnitude float64 `yaml:"min_magnitude" mapstructure:"min_magnitude"`
}

// IngestConfig configures event ingestion.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ImportConfig configures candidate imports.
type ImportConfig struct {
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	Encoding    string `yaml:"encoding" mapstructure:"encoding"`
	FTPAddr     string `yaml:"ftp_addr" mapstructure:"ftp_addr"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// CallbotConfig configures the delayed verification call scheduler.
type CallbotConfig struct {
	ThresholdSecs int    `yaml:"threshold_secs" mapstructure:"threshold_secs"`
	Channel       string `yaml:"channel" mapstructure:"channel"`
	BackfillLimit int    `yaml:"backfill_limit" mapstructure:"backfill_limit"`
	Dedup         string `yaml:"dedup" mapstructure:"dedup"`
	DedupTTLHours int    `yaml:"dedup_ttl_hours" mapstructure:"dedup_ttl_hours"`
}

// TelephonyConfig holds the telephony provider credentials.
type TelephonyConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	AccountSID        string  `yaml:"account_sid" mapstructure:"account_sid"`
	AuthToken         string  `yaml:"auth_token" mapstructure:"auth_token"`
	FromNumber        string  `yaml:"from_number" mapstructure:"from_number"`
	IVRURL            string  `yaml:"ivr_url" mapstructure:"ivr_url"`
	StatusCallbackURL string  `yaml:"status_callback_url" mapstructure:"status_callback_url"`
	RateLimit         float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RedisConfig configures the shared dedup cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// AnthropicConfig holds Anthropic API settings for campaign drafts.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TARGETING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.timeout_secs", 30)
	v.SetDefault("targeting.max_distance_km", 100.0)
	v.SetDefault("targeting.min_asset_value", 100000.0)
	v.SetDefault("targeting.require_uninsured", true)
	v.SetDefault("targeting.require_homeowner", false)
	v.SetDefault("targeting.exclude_do_not_call", false)
	v.SetDefault("targeting.limit", 50)
	v.SetDefault("targeting.max_limit", 1000)
	v.SetDefault("targeting.tie_band_km", 5.0)
	v.SetDefault("usgs.base_url", "https://earthquake.usgs.gov/fdsnws/event/1")
	v.SetDefault("usgs.rate_limit", 2.0)
	v.SetDefault("usgs.timeout_secs", 30)
	v.SetDefault("usgs.hours", 24)
	v.SetDefault("usgs.min_magnitude", 2.5)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("import.batch_size", 1000)
	v.SetDefault("import.encoding", "utf-8")
	v.SetDefault("import.temp_dir", "/tmp/targeting")
	v.SetDefault("callbot.threshold_secs", 900)
	v.SetDefault("callbot.channel", "user_signup")
	v.SetDefault("callbot.backfill_limit", 100)
	v.SetDefault("callbot.dedup", "memory")
	v.SetDefault("callbot.dedup_ttl_hours", 24)
	v.SetDefault("telephony.base_url", "https://api.twilio.com/2010-04-01")
	v.SetDefault("telephony.rate_limit", 1.0)
	v.SetDefault("telephony.account_sid", "")
	v.SetDefault("telephony.auth_token", "")
	v.SetDefault("telephony.from_number", "")
	v.SetDefault("telephony.ivr_url", "")
	v.SetDefault("telephony.status_callback_url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("import.ftp_addr", "")
	v.SetDefault("import.ftp_user", "")
	v.SetDefault("import.ftp_password", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "targeting:called:")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts. Mode is
// the command name: "serve", "callbot", "ingest", "import" or "campaign".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Targeting.MaxLimit <= 0 {
		errs = append(errs, "targeting.max_limit must be > 0")
	}
	if c.Targeting.TieBandKM < 0 {
		errs = append(errs, "targeting.tie_band_km must be >= 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
	case "callbot":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "callbot requires the postgres driver for LISTEN/NOTIFY")
		}
		if c.Telephony.AccountSID == "" {
			errs = append(errs, "telephony.account_sid is required")
		}
		if c.Telephony.AuthToken == "" {
			errs = append(errs, "telephony.auth_token is required")
		}
		if c.Telephony.FromNumber == "" {
			errs = append(errs, "telephony.from_number is required")
		}
		if c.Telephony.IVRURL == "" {
			errs = append(errs, "telephony.ivr_url is required")
		}
		if c.Callbot.Dedup != "memory" && c.Callbot.Dedup != "redis" {
			errs = append(errs, fmt.Sprintf("callbot.dedup %q must be memory or redis", c.Callbot.Dedup))
		}
	case "ingest":
		if c.USGS.BaseURL == "" {
			errs = append(errs, "usgs.base_url is required")
		}
	case "campaign":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
