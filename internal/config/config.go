// Package config loads geocluster settings from config.yaml, GEOCLUSTER_*
// environment variables and built-in defaults.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// GeocodeConfig holds OpenCage API settings.
type GeocodeConfig struct {
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	ProbeQuery      string  `yaml:"probe_query" mapstructure:"probe_query"`
	ProbeOnMissOnly bool    `yaml:"probe_on_miss_only" mapstructure:"probe_on_miss_only"`
}

// Timeout returns TimeoutSecs as a duration.
func (g GeocodeConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// RetryConfig controls retries of transient geocoding failures.
type RetryConfig struct {
	MaxAttempts int  `yaml:"max_attempts" mapstructure:"max_attempts"`
	DelayMs     int  `yaml:"delay_ms" mapstructure:"delay_ms"`
	Exponential bool `yaml:"exponential" mapstructure:"exponential"`
}

// Resilience converts the settings into a resilience.RetryConfig.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.DelayMs, r.Exponential)
}

// StoreConfig configures the geocode cache backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// ClusterConfig configures clustering and per-cluster statistics.
type ClusterConfig struct {
	MinClusterSize     int     `yaml:"min_cluster_size" mapstructure:"min_cluster_size"`
	MinSamples         int     `yaml:"min_samples" mapstructure:"min_samples"`
	AllowSingleCluster bool    `yaml:"allow_single_cluster" mapstructure:"allow_single_cluster"`
	SelectionEpsilonKm float64 `yaml:"selection_epsilon_km" mapstructure:"selection_epsilon_km"`
	H3Resolution       int     `yaml:"h3_resolution" mapstructure:"h3_resolution"`
	SumColumn          string  `yaml:"sum_column" mapstructure:"sum_column"`
}

// Options returns the clustering thresholds.
func (c ClusterConfig) Options() cluster.Options {
	return cluster.Options{
		MinClusterSize:     c.MinClusterSize,
		MinSamples:         c.MinSamples,
		AllowSingleCluster: c.AllowSingleCluster,
		SelectionEpsilonKm: c.SelectionEpsilonKm,
	}
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("GEOCLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. api_key has an empty default so AutomaticEnv can fill it.
	v.SetDefault("geocode.api_key", "")
	v.SetDefault("geocode.base_url", "https://api.opencagedata.com/geocode/v1/json")
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.rate_limit", 1.0)
	v.SetDefault("geocode.probe_query", "London")
	v.SetDefault("geocode.probe_on_miss_only", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay_ms", 5000)
	v.SetDefault("retry.exponential", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "geocode_cache.db")
	v.SetDefault("cluster.min_cluster_size", 5)
	v.SetDefault("cluster.min_samples", 5)
	v.SetDefault("cluster.allow_single_cluster", true)
	v.SetDefault("cluster.selection_epsilon_km", 5.0)
	v.SetDefault("cluster.h3_resolution", 5)
	v.SetDefault("cluster.sum_column", "val")
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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

// Validate checks the settings a command needs. mode is one of "resolve",
// "cluster", "cache" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "resolve", "cluster", "serve":
		if c.Geocode.APIKey == "" {
			errs = append(errs, "geocode.api_key is required")
		}
		if c.Geocode.TimeoutSecs <= 0 {
			errs = append(errs, "geocode.timeout_secs must be > 0")
		}
		if c.Geocode.RateLimit <= 0 {
			errs = append(errs, "geocode.rate_limit must be > 0")
		}
		if c.Retry.MaxAttempts < 1 {
			errs = append(errs, "retry.max_attempts must be >= 1")
		}
		if c.Retry.DelayMs < 0 {
			errs = append(errs, "retry.delay_ms must be >= 0")
		}
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 32 {
			errs = append(errs, "batch.concurrency must be between 1 and 32")
		}
		if err := c.Cluster.Options().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Cluster.H3Resolution < 0 || c.Cluster.H3Resolution > 15 {
			errs = append(errs, "cluster.h3_resolution must be between 0 and 15")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		errs = append(errs, "store.driver must be sqlite or memory")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
