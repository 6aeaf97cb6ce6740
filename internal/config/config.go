// Package config loads review-crawler settings from config.yaml and the
// environment and initializes the global logger.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/review-crawler/internal/extract"
	"github.com/sells-group/review-crawler/internal/fetcher"
	"github.com/sells-group/review-crawler/internal/model"
	"github.com/sells-group/review-crawler/internal/resilience"
)

// EnvPrefix prefixes every environment override, e.g. REVIEWCRAWL_CRAWL_MAX_ATTEMPTS.
const EnvPrefix = "REVIEWCRAWL"

// Config holds the full application configuration.
type Config struct {
	Crawl    CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CrawlConfig configures fetching and the retry policy.
type CrawlConfig struct {
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelaySecs   float64 `yaml:"initial_delay_secs" mapstructure:"initial_delay_secs"`
	BackoffMultiplier  float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	MaxDelaySecs       float64 `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RequestTimeoutSecs int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RetryOnAnyError    bool    `yaml:"retry_on_any_error" mapstructure:"retry_on_any_error"`
	FailurePolicy      string  `yaml:"failure_policy" mapstructure:"failure_policy"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BreakerThreshold   int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	PageSize           int     `yaml:"page_size" mapstructure:"page_size"`
	MaxBodyBytes       int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// ExtractConfig holds the selectors used to find review entries.
type ExtractConfig struct {
	ContainerSelector string `yaml:"container_selector" mapstructure:"container_selector"`
	MarkerAttr        string `yaml:"marker_attr" mapstructure:"marker_attr"`
	MarkerValues      int    `yaml:"marker_values" mapstructure:"marker_values"`
	EntrySelector     string `yaml:"entry_selector" mapstructure:"entry_selector"`
}

// OutputConfig configures where listings are written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// SnapshotConfig configures where snapshots are stored.
type SnapshotConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	sel := extract.DefaultSelectors()

	// Defaults
	v.SetDefault("crawl.base_url", "http://www.tripadvisor.com.sg/")
	v.SetDefault("crawl.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("crawl.max_attempts", 40)
	v.SetDefault("crawl.initial_delay_secs", 5)
	v.SetDefault("crawl.backoff_multiplier", 2)
	v.SetDefault("crawl.max_delay_secs", 600)
	v.SetDefault("crawl.jitter_fraction", 0)
	v.SetDefault("crawl.request_timeout_secs", 30)
	v.SetDefault("crawl.retry_on_any_error", false)
	v.SetDefault("crawl.failure_policy", "abort")
	v.SetDefault("crawl.requests_per_second", 0)
	v.SetDefault("crawl.breaker_threshold", 0)
	v.SetDefault("crawl.breaker_reset_secs", 60)
	v.SetDefault("crawl.page_size", 5)
	v.SetDefault("crawl.max_body_bytes", 8<<20)
	v.SetDefault("extract.container_selector", sel.Container)
	v.SetDefault("extract.marker_attr", sel.MarkerAttr)
	v.SetDefault("extract.marker_values", sel.MarkerValues)
	v.SetDefault("extract.entry_selector", sel.Entry)
	v.SetDefault("output.dir", "data")
	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "review-crawler.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.dir", "logs")

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

// Validate checks the settings a command needs. mode is the command name;
// "serve" additionally checks the server port.
func (c *Config) Validate(mode string) error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &model.ConfigError{Field: field, Reason: reason})
	}

	if u, err := url.Parse(c.Crawl.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("crawl.base_url", fmt.Sprintf("must be an absolute http(s) URL, got %q", c.Crawl.BaseURL))
	}
	if c.Crawl.MaxAttempts < 1 {
		add("crawl.max_attempts", "must be at least 1")
	}
	if c.Crawl.InitialDelaySecs <= 0 {
		add("crawl.initial_delay_secs", "must be positive")
	}
	if c.Crawl.BackoffMultiplier < 1 {
		add("crawl.backoff_multiplier", "must be at least 1")
	}
	if c.Crawl.MaxDelaySecs <= 0 {
		add("crawl.max_delay_secs", "must be positive")
	}
	if c.Crawl.JitterFraction < 0 || c.Crawl.JitterFraction > 1 {
		add("crawl.jitter_fraction", "must be between 0 and 1")
	}
	if c.Crawl.RequestTimeoutSecs <= 0 {
		add("crawl.request_timeout_secs", "must be positive")
	}
	switch strings.ToLower(c.Crawl.FailurePolicy) {
	case "", "abort", "skip":
	default:
		add("crawl.failure_policy", fmt.Sprintf("must be abort or skip, got %q", c.Crawl.FailurePolicy))
	}
	if c.Crawl.RequestsPerSecond < 0 {
		add("crawl.requests_per_second", "must not be negative")
	}
	if c.Crawl.PageSize < 1 {
		add("crawl.page_size", "must be at least 1")
	}
	if c.Extract.MarkerValues < 1 {
		add("extract.marker_values", "must be at least 1")
	}
	if c.Output.Dir == "" {
		add("output.dir", "is required")
	}

	switch c.Store.Driver {
	case "none":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url", "is required")
		}
	default:
		add("store.driver", fmt.Sprintf("must be sqlite, postgres or none, got %q", c.Store.Driver))
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// RetryPolicy converts the crawl settings into a retry configuration.
func (c CrawlConfig) RetryPolicy() resilience.RetryConfig {
	rc := resilience.FromRetryConfig(c.MaxAttempts, secs(c.InitialDelaySecs), secs(c.MaxDelaySecs), c.BackoffMultiplier, c.JitterFraction)
	if c.RetryOnAnyError {
		rc.ShouldRetry = resilience.RetryOnAny
	}
	return rc
}

// FetchOptions builds HTTP fetcher options from the crawl settings. Per-host
// circuit breakers are enabled when BreakerThreshold is positive and are
// created fresh for every call.
func (c CrawlConfig) FetchOptions() fetcher.HTTPOptions {
	opts := fetcher.HTTPOptions{
		UserAgent:         c.UserAgent,
		Timeout:           time.Duration(c.RequestTimeoutSecs) * time.Second,
		Retry:             c.RetryPolicy(),
		RequestsPerSecond: c.RequestsPerSecond,
		MaxBodyBytes:      c.MaxBodyBytes,
	}
	if c.BreakerThreshold > 0 {
		opts.Breakers = resilience.NewHostBreakers(resilience.FromCircuitConfig(c.BreakerThreshold, c.BreakerResetSecs))
	}
	return opts
}

// Selectors returns the extractor selectors.
func (e ExtractConfig) Selectors() extract.Selectors {
	return extract.Selectors{
		Container:    e.ContainerSelector,
		MarkerAttr:   e.MarkerAttr,
		MarkerValues: e.MarkerValues,
		Entry:        e.EntrySelector,
	}
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// HotelFile is the document read by LoadHotels.
type HotelFile struct {
	Hotels []model.Hotel `yaml:"hotels"`
}

// LoadHotels reads a YAML batch file listing hotels to crawl. Every hotel is
// validated; the first invalid entry is reported with its index.
func LoadHotels(path string) ([]model.Hotel, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, eris.Wrapf(err, "config: read hotels file %s", path)
	}

	var hf HotelFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, eris.Wrapf(err, "config: parse hotels file %s", path)
	}
	if len(hf.Hotels) == 0 {
		return nil, &model.ConfigError{Field: "hotels", Reason: "file " + path + " lists no hotels"}
	}
	for i, h := range hf.Hotels {
		if err := h.Validate(); err != nil {
			var ce *model.ConfigError
			if errors.As(err, &ce) {
				return nil, &model.ConfigError{Field: fmt.Sprintf("hotels[%d].%s", i, ce.Field), Reason: ce.Reason}
			}
			return nil, err
		}
	}
	return hf.Hotels, nil
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
