package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts" mapstructure:"artifacts"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Collectors CollectorsConfig `yaml:"collectors" mapstructure:"collectors"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ArtifactsConfig configures where raw payloads are kept.
type ArtifactsConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// RetryConfig configures collector fetch retries.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs float64 `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     float64 `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	Base               float64 `yaml:"base" mapstructure:"base"`
}

// InitialBackoff returns the initial backoff as a duration.
func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffSecs * float64(time.Second))
}

// MaxBackoff returns the backoff cap as a duration.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffSecs * float64(time.Second))
}

// CollectorsConfig holds per-source collector settings.
type CollectorsConfig struct {
	Web   WebConfig   `yaml:"web" mapstructure:"web"`
	Jobs  JobsConfig  `yaml:"jobs" mapstructure:"jobs"`
	Ads   AdsConfig   `yaml:"ads" mapstructure:"ads"`
	Email EmailConfig `yaml:"email" mapstructure:"email"`
}

// WebTarget is one page to observe.
type WebTarget struct {
	URL  string `yaml:"url" mapstructure:"url"`
	Slug string `yaml:"slug" mapstructure:"slug"`
}

// WebConfig configures the web page collector.
type WebConfig struct {
	Enabled      bool        `yaml:"enabled" mapstructure:"enabled"`
	URLs         []WebTarget `yaml:"urls" mapstructure:"urls"`
	TimeoutSecs  int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64     `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent    string      `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64       `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// JobsConfig configures the job listings collector.
type JobsConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	CareersURL   string   `yaml:"careers_url" mapstructure:"careers_url"`
	MaxPostings  int      `yaml:"max_postings" mapstructure:"max_postings"`
	LinkPatterns []string `yaml:"link_patterns" mapstructure:"link_patterns"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AdExport points the ads collector at a directory of platform export files.
type AdExport struct {
	Platform string `yaml:"platform" mapstructure:"platform"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// AdsConfig configures the ad creative collector.
type AdsConfig struct {
	Enabled    bool       `yaml:"enabled" mapstructure:"enabled"`
	Advertiser string     `yaml:"advertiser" mapstructure:"advertiser"`
	Exports    []AdExport `yaml:"exports" mapstructure:"exports"`
}

// EmailConfig configures the email collector. Messages are read from a drop
// directory of exported .eml files; IMAP session management lives outside
// this tool.
type EmailConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	DropDir        string   `yaml:"drop_dir" mapstructure:"drop_dir"`
	AllowedDomains []string `yaml:"allowed_domains" mapstructure:"allowed_domains"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}

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

// Defaults returns the configuration default catalog keyed by viper path.
func Defaults() map[string]any {
	return map[string]any{
		"store.driver":                  "sqlite",
		"store.database_url":            "data/intel.db",
		"artifacts.root":                "artifacts",
		"log.level":                     "info",
		"log.format":                    "json",
		"retry.max_attempts":            3,
		"retry.initial_backoff_secs":    2.0,
		"retry.max_backoff_secs":        30.0,
		"retry.base":                    2.0,
		"collectors.web.enabled":        false,
		"collectors.web.timeout_secs":   30,
		"collectors.web.rate_per_sec":   0.5,
		"collectors.web.max_body_bytes": int64(2 << 20),
		"collectors.web.user_agent":     "Mozilla/5.0 (compatible; IntelBot/1.0)",
		"collectors.jobs.enabled":       false,
		"collectors.jobs.max_postings":  100,
		"collectors.jobs.rate_per_sec":  0.5,
		"collectors.ads.enabled":        false,
		"collectors.email.enabled":      false,
	}
}

// Validate checks configuration consistency before a collection run starts.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		// DatabaseURL defaults to a local path.
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be >= 1")
	}
	if c.Retry.Base < 1 {
		problems = append(problems, "retry.base must be >= 1")
	}
	if c.Collectors.Web.Enabled && len(c.Collectors.Web.URLs) == 0 {
		problems = append(problems, "collectors.web.urls is required when the web collector is enabled")
	}
	if c.Collectors.Jobs.Enabled && c.Collectors.Jobs.CareersURL == "" {
		problems = append(problems, "collectors.jobs.careers_url is required when the jobs collector is enabled")
	}
	if c.Collectors.Ads.Enabled && len(c.Collectors.Ads.Exports) == 0 {
		problems = append(problems, "collectors.ads.exports is required when the ads collector is enabled")
	}
	if c.Collectors.Email.Enabled && c.Collectors.Email.DropDir == "" {
		problems = append(problems, "collectors.email.drop_dir is required when the email collector is enabled")
	}

	if len(problems) > 0 {
		return eris.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
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
