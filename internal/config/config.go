package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Geocodio   GeocodioConfig   `yaml:"geocodio" mapstructure:"geocodio"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ScrapeConfig configures the licensing page fetch.
type ScrapeConfig struct {
	SourceURL   string  `yaml:"source_url" mapstructure:"source_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// GeocodioConfig configures the Geocodio client and the geocode cache layer.
type GeocodioConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MemoTTLMinutes int     `yaml:"memo_ttl_minutes" mapstructure:"memo_ttl_minutes"`
	MemoCapacity   uint64  `yaml:"memo_capacity" mapstructure:"memo_capacity"`
}

// StoreConfig selects and tunes the persistence backends.
type StoreConfig struct {
	// Backends lists the stores written on every scrape. The first one also
	// serves geocode cache reads. Known values: "xata", "fauna".
	Backends       []string `yaml:"backends" mapstructure:"backends"`
	MaxConns       int32    `yaml:"max_conns" mapstructure:"max_conns"`
	FaunaEndpoint  string   `yaml:"fauna_endpoint" mapstructure:"fauna_endpoint"`
	FaunaBatchSize int      `yaml:"fauna_batch_size" mapstructure:"fauna_batch_size"`
}

// RetryConfig configures retries for outbound HTTP calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// WorkflowConfig locates the workflow definition and its working tree.
type WorkflowConfig struct {
	// Path to a workflow YAML file. Empty uses the built-in definition.
	Path    string `yaml:"path" mapstructure:"path"`
	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`
	EnvFile string `yaml:"env_file" mapstructure:"env_file"`
}

// ScheduleConfig configures the scheduled trigger.
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Cron     string `yaml:"cron" mapstructure:"cron"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	// Path to the SQLite file. Empty resolves to the XDG data directory.
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the dispatch API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the run health checker in serve mode.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	Window               int     `yaml:"window" mapstructure:"window"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxStalenessHours    int     `yaml:"max_staleness_hours" mapstructure:"max_staleness_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LICENSE_WATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("scrape.source_url", "https://licensinginfo.lcb.wa.gov/EntireStateWeb.asp")
	v.SetDefault("scrape.user_agent", "license-watch/1.0")
	v.SetDefault("scrape.timeout_secs", 60)
	v.SetDefault("scrape.rate_limit", 1.0)
	v.SetDefault("geocodio.base_url", "https://api.geocod.io/v1.7")
	v.SetDefault("geocodio.batch_size", 10000)
	v.SetDefault("geocodio.concurrency", 2)
	v.SetDefault("geocodio.rate_limit", 10.0)
	v.SetDefault("geocodio.timeout_secs", 600)
	v.SetDefault("geocodio.memo_ttl_minutes", 60)
	v.SetDefault("geocodio.memo_capacity", 50000)
	v.SetDefault("store.backends", []string{"xata", "fauna"})
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.fauna_endpoint", "https://db.fauna.com")
	v.SetDefault("store.fauna_batch_size", 100)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("workflow.work_dir", ".")
	v.SetDefault("workflow.env_file", ".env")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "0 14 * * 1-6")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.window", 10)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.max_staleness_hours", 72)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
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
