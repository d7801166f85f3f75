// Package config loads docket-sync settings from flags, environment and an
// optional config file via viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix = "DOCKETSYNC"

	defaultBaseURL        = "https://api.regulations.gov/v4"
	defaultResource       = "comments"
	defaultPageSize       = 25
	defaultSort           = "lastModifiedDate"
	defaultInclude        = "attachments"
	defaultTimezone       = "America/New_York"
	defaultQuotaLimit     = 1000
	defaultQuotaWindow    = time.Hour
	defaultHTTPTimeout    = 30 * time.Second
	defaultInitialBackoff = time.Second
	defaultBackoffFactor  = 2.0
	defaultRetryBudget    = time.Hour
	defaultDatabasePath   = "docket-sync.db"
	defaultReportOutput   = "out/index.html"
	defaultLogLevel       = "info"
)

// AppConfig captures runtime configuration for a sync or publish run.
type AppConfig struct {
	APIKey   string
	BaseURL  string
	DocketID string

	Resource  string
	PageSize  int
	Sort      string
	Include   string
	Timezone  string
	MaxPasses int

	QuotaLimit   int
	QuotaWindow  time.Duration
	MaxQuotaWait time.Duration

	HTTPTimeout       time.Duration
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	RetryBudget       time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabasePath   string
	ReportOutput   string
	MetricsAddress string

	LogLevel  string
	LogPretty bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. API_KEY and DOCKET_ID are accepted as unprefixed fallbacks.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	_ = configViper.BindEnv("api.key", envPrefix+"_API_KEY", "API_KEY")
	_ = configViper.BindEnv("docket.id", envPrefix+"_DOCKET_ID", "DOCKET_ID")

	configViper.SetDefault("api.base_url", defaultBaseURL)
	configViper.SetDefault("crawl.resource", defaultResource)
	configViper.SetDefault("crawl.page_size", defaultPageSize)
	configViper.SetDefault("crawl.sort", defaultSort)
	configViper.SetDefault("crawl.include", defaultInclude)
	configViper.SetDefault("crawl.timezone", defaultTimezone)
	configViper.SetDefault("crawl.max_passes", 0)
	configViper.SetDefault("quota.limit", defaultQuotaLimit)
	configViper.SetDefault("quota.window", defaultQuotaWindow)
	configViper.SetDefault("quota.max_wait", time.Duration(0))
	configViper.SetDefault("http.timeout", defaultHTTPTimeout)
	configViper.SetDefault("retry.initial_backoff", defaultInitialBackoff)
	configViper.SetDefault("retry.multiplier", defaultBackoffFactor)
	configViper.SetDefault("retry.max_elapsed", defaultRetryBudget)
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("report.output", defaultReportOutput)
	configViper.SetDefault("metrics.address", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.pretty", false)
}

// Load parses runtime configuration from viper. Only settings every command
// needs are validated here; see RequireAPI for the sync-only ones.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		APIKey:   configViper.GetString("api.key"),
		BaseURL:  configViper.GetString("api.base_url"),
		DocketID: configViper.GetString("docket.id"),

		Resource:  configViper.GetString("crawl.resource"),
		PageSize:  configViper.GetInt("crawl.page_size"),
		Sort:      configViper.GetString("crawl.sort"),
		Include:   configViper.GetString("crawl.include"),
		Timezone:  configViper.GetString("crawl.timezone"),
		MaxPasses: configViper.GetInt("crawl.max_passes"),

		QuotaLimit:   configViper.GetInt("quota.limit"),
		QuotaWindow:  configViper.GetDuration("quota.window"),
		MaxQuotaWait: configViper.GetDuration("quota.max_wait"),

		HTTPTimeout:       configViper.GetDuration("http.timeout"),
		InitialBackoff:    configViper.GetDuration("retry.initial_backoff"),
		BackoffMultiplier: configViper.GetFloat64("retry.multiplier"),
		RetryBudget:       configViper.GetDuration("retry.max_elapsed"),

		RedisAddr:     configViper.GetString("redis.addr"),
		RedisPassword: configViper.GetString("redis.password"),
		RedisDB:       configViper.GetInt("redis.db"),

		DatabasePath:   configViper.GetString("database.path"),
		ReportOutput:   configViper.GetString("report.output"),
		MetricsAddress: configViper.GetString("metrics.address"),

		LogLevel:  configViper.GetString("log.level"),
		LogPretty: configViper.GetBool("log.pretty"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0 (got %d)", c.PageSize)
	}
	if c.MaxPasses < 0 {
		return fmt.Errorf("crawl.max_passes must be >= 0 (got %d)", c.MaxPasses)
	}
	if c.QuotaLimit <= 0 {
		return fmt.Errorf("quota.limit must be > 0 (got %d)", c.QuotaLimit)
	}
	if c.QuotaWindow <= 0 {
		return fmt.Errorf("quota.window must be > 0 (got %s)", c.QuotaWindow)
	}
	if c.MaxQuotaWait < 0 {
		return fmt.Errorf("quota.max_wait must be >= 0 (got %s)", c.MaxQuotaWait)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("crawl.timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// RequireAPI checks the settings a sync run needs on top of Load's checks.
func (c AppConfig) RequireAPI() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api.key is required (set %s_API_KEY or API_KEY)", envPrefix)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(c.DocketID) == "" {
		return fmt.Errorf("docket.id is required (set %s_DOCKET_ID or DOCKET_ID)", envPrefix)
	}
	return nil
}

// Location returns the watermark time zone.
func (c AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
