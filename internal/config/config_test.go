package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/review-crawler/internal/fetcher"
	"github.com/sells-group/review-crawler/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://www.tripadvisor.com.sg/", cfg.Crawl.BaseURL)
	assert.Equal(t, fetcher.DefaultUserAgent, cfg.Crawl.UserAgent)
	assert.Equal(t, 40, cfg.Crawl.MaxAttempts)
	assert.InDelta(t, 5.0, cfg.Crawl.InitialDelaySecs, 0.001)
	assert.InDelta(t, 2.0, cfg.Crawl.BackoffMultiplier, 0.001)
	assert.InDelta(t, 600.0, cfg.Crawl.MaxDelaySecs, 0.001)
	assert.Zero(t, cfg.Crawl.JitterFraction)
	assert.Equal(t, 30, cfg.Crawl.RequestTimeoutSecs)
	assert.False(t, cfg.Crawl.RetryOnAnyError)
	assert.Equal(t, "abort", cfg.Crawl.FailurePolicy)
	assert.Equal(t, 5, cfg.Crawl.PageSize)
	assert.Equal(t, int64(8<<20), cfg.Crawl.MaxBodyBytes)
	assert.Equal(t, `div[data-test-target="reviews-tab"]`, cfg.Extract.ContainerSelector)
	assert.Equal(t, "class", cfg.Extract.MarkerAttr)
	assert.Equal(t, 2, cfg.Extract.MarkerValues)
	assert.Equal(t, "q", cfg.Extract.EntrySelector)
	assert.Equal(t, "data", cfg.Output.Dir)
	assert.Equal(t, "snapshots", cfg.Snapshot.Dir)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "review-crawler.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "logs", cfg.Log.Dir)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.NoError(t, cfg.Validate("crawl"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
crawl:
  max_attempts: 3
  initial_delay_secs: 0.5
  failure_policy: skip
extract:
  entry_selector: blockquote
store:
  driver: none
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Crawl.MaxAttempts)
	assert.InDelta(t, 0.5, cfg.Crawl.InitialDelaySecs, 0.001)
	assert.Equal(t, "skip", cfg.Crawl.FailurePolicy)
	assert.Equal(t, "blockquote", cfg.Extract.EntrySelector)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Crawl.PageSize)
	assert.Equal(t, "class", cfg.Extract.MarkerAttr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
crawl:
  max_attempts: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("REVIEWCRAWL_STORE_DRIVER", "postgres")
	t.Setenv("REVIEWCRAWL_CRAWL_MAX_ATTEMPTS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 7, cfg.Crawl.MaxAttempts)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("REVIEWCRAWL_SERVER_PORT", "3000")
	t.Setenv("REVIEWCRAWL_CRAWL_RETRY_ON_ANY_ERROR", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Crawl.RetryOnAnyError)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("crawl: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Crawl.BaseURL = "http://www.tripadvisor.com.sg/"
	cfg.Crawl.MaxAttempts = 40
	cfg.Crawl.InitialDelaySecs = 5
	cfg.Crawl.BackoffMultiplier = 2
	cfg.Crawl.MaxDelaySecs = 600
	cfg.Crawl.RequestTimeoutSecs = 30
	cfg.Crawl.FailurePolicy = "abort"
	cfg.Crawl.PageSize = 5
	cfg.Extract.MarkerValues = 2
	cfg.Output.Dir = "data"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "test.db"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("crawl"))
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"relative base url", func(c *Config) { c.Crawl.BaseURL = "/reviews" }, "crawl.base_url"},
		{"ftp base url", func(c *Config) { c.Crawl.BaseURL = "ftp://example.com" }, "crawl.base_url"},
		{"zero attempts", func(c *Config) { c.Crawl.MaxAttempts = 0 }, "crawl.max_attempts"},
		{"negative delay", func(c *Config) { c.Crawl.InitialDelaySecs = -1 }, "crawl.initial_delay_secs"},
		{"zero delay", func(c *Config) { c.Crawl.InitialDelaySecs = 0 }, "crawl.initial_delay_secs"},
		{"shrinking backoff", func(c *Config) { c.Crawl.BackoffMultiplier = 0.5 }, "crawl.backoff_multiplier"},
		{"negative cap", func(c *Config) { c.Crawl.MaxDelaySecs = -1 }, "crawl.max_delay_secs"},
		{"zero cap", func(c *Config) { c.Crawl.MaxDelaySecs = 0 }, "crawl.max_delay_secs"},
		{"jitter too large", func(c *Config) { c.Crawl.JitterFraction = 1.5 }, "crawl.jitter_fraction"},
		{"no timeout", func(c *Config) { c.Crawl.RequestTimeoutSecs = 0 }, "crawl.request_timeout_secs"},
		{"unknown policy", func(c *Config) { c.Crawl.FailurePolicy = "retry" }, "crawl.failure_policy"},
		{"negative rate", func(c *Config) { c.Crawl.RequestsPerSecond = -2 }, "crawl.requests_per_second"},
		{"zero page size", func(c *Config) { c.Crawl.PageSize = 0 }, "crawl.page_size"},
		{"zero marker values", func(c *Config) { c.Extract.MarkerValues = 0 }, "extract.marker_values"},
		{"no output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"sqlite without url", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("crawl")
			require.Error(t, err)

			var ce *model.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validDefaults()
	cfg.Crawl.MaxAttempts = 0
	cfg.Crawl.PageSize = 0

	err := cfg.Validate("crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.max_attempts")
	assert.Contains(t, err.Error(), "crawl.page_size")
}

func TestValidate_StoreNoneNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "none"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("crawl"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("crawl"))
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestRetryPolicy(t *testing.T) {
	cfg := validDefaults()
	rc := cfg.Crawl.RetryPolicy()
	assert.Equal(t, 40, rc.MaxAttempts)
	assert.Equal(t, 5*time.Second, rc.InitialBackoff)
	assert.Equal(t, 600*time.Second, rc.MaxBackoff)
	assert.InDelta(t, 2.0, rc.Multiplier, 0.001)
	assert.Zero(t, rc.JitterFraction)
	assert.Nil(t, rc.ShouldRetry)

	cfg.Crawl.RetryOnAnyError = true
	rc = cfg.Crawl.RetryPolicy()
	require.NotNil(t, rc.ShouldRetry)
	assert.True(t, rc.ShouldRetry(errors.New("404")))
}

func TestFetchOptions(t *testing.T) {
	cfg := validDefaults()
	cfg.Crawl.UserAgent = "ua"
	cfg.Crawl.RequestsPerSecond = 0.5
	cfg.Crawl.MaxBodyBytes = 1024

	opts := cfg.Crawl.FetchOptions()
	assert.Equal(t, "ua", opts.UserAgent)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.InDelta(t, 0.5, opts.RequestsPerSecond, 0.001)
	assert.Equal(t, int64(1024), opts.MaxBodyBytes)
	assert.Equal(t, 40, opts.Retry.MaxAttempts)
	assert.Nil(t, opts.Breakers)

	cfg.Crawl.BreakerThreshold = 3
	cfg.Crawl.BreakerResetSecs = 10
	assert.NotNil(t, cfg.Crawl.FetchOptions().Breakers)
}

func TestSelectors(t *testing.T) {
	e := ExtractConfig{ContainerSelector: "#r", MarkerAttr: "data-x", MarkerValues: 3, EntrySelector: "p"}
	sel := e.Selectors()
	assert.Equal(t, "#r", sel.Container)
	assert.Equal(t, "data-x", sel.MarkerAttr)
	assert.Equal(t, 3, sel.MarkerValues)
	assert.Equal(t, "p", sel.Entry)
}

func TestLoadHotels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hotels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hotels:
  - city_id: "294265"
    hotel_id: "302294"
    name: Raffles_Hotel
  - city_id: "294265"
    hotel_id: "1770798"
    name: Marina_Bay_Sands
`), 0o644))

	hotels, err := LoadHotels(path)
	require.NoError(t, err)
	require.Len(t, hotels, 2)
	assert.Equal(t, model.Hotel{CityID: "294265", HotelID: "302294", Name: "Raffles_Hotel"}, hotels[0])
	assert.Equal(t, "g294265-d1770798", hotels[1].Key())
}

func TestLoadHotels_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("hotels: []\n"), 0o644))
	_, err := LoadHotels(empty)
	var ce *model.ConfigError
	require.True(t, errors.As(err, &ce))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
hotels:
  - city_id: "1"
    hotel_id: "2"
    name: ok
  - city_id: "1"
    hotel_id: ""
    name: missing-id
`), 0o644))
	_, err = LoadHotels(bad)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "hotels[1].hotel_id", ce.Field)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("hotels: {not: [a list"), 0o644))
	_, err = LoadHotels(garbage)
	require.Error(t, err)

	_, err = LoadHotels(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
