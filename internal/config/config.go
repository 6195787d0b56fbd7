// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	DB       DBConfig       `mapstructure:"db"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig locates the target site.
type SiteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	DatasetPath string `mapstructure:"dataset_path"`
}

// CrawlConfig governs the crawl pipeline.
type CrawlConfig struct {
	StartIndex     int    `mapstructure:"start_index"`
	EndIndex       int    `mapstructure:"end_index"`
	Workers        int    `mapstructure:"workers"`
	DelayMinMs     int    `mapstructure:"delay_min_ms"`
	DelayMaxMs     int    `mapstructure:"delay_max_ms"`
	FlushThreshold int    `mapstructure:"flush_threshold"`
	MaxPages       int    `mapstructure:"max_pages"`
	ResumePolicy   string `mapstructure:"resume_policy"`
	LogEvery       int    `mapstructure:"log_every"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless browser used by resolve runs.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
}

// OutputConfig sets artifact paths for crawl runs.
type OutputConfig struct {
	ResultsPath  string `mapstructure:"results_path"`
	FailuresPath string `mapstructure:"failures_path"`
	FilteredPath string `mapstructure:"filtered_path"`
}

// DBConfig enables the optional Postgres sink.
type DBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ResolveConfig parameterizes redirect-resolution runs.
type ResolveConfig struct {
	InputPath  string `mapstructure:"input_path"`
	OutputPath string `mapstructure:"output_path"`
	URLColumn  string `mapstructure:"url_column"`
	SaveEvery  int    `mapstructure:"save_every"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CIVICRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://civilica.com")
	v.SetDefault("site.dataset_path", "data/conferences.csv")
	v.SetDefault("crawl.start_index", 0)
	v.SetDefault("crawl.end_index", 0)
	v.SetDefault("crawl.workers", 5)
	v.SetDefault("crawl.delay_min_ms", 1000)
	v.SetDefault("crawl.delay_max_ms", 3000)
	v.SetDefault("crawl.flush_threshold", 100)
	v.SetDefault("crawl.max_pages", 1000)
	v.SetDefault("crawl.resume_policy", "append-fresh")
	v.SetDefault("crawl.log_every", 50)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.user_agent", "civicrawl/0.1")
	v.SetDefault("headless.max_parallel", 3)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_ms", 2000)
	v.SetDefault("output.results_path", "papers.csv")
	v.SetDefault("output.failures_path", "failed_pages.csv")
	v.SetDefault("output.filtered_path", "filtered_conferences.csv")
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.table", "papers")
	v.SetDefault("resolve.url_column", "website")
	v.SetDefault("resolve.save_every", 10)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Crawl.StartIndex < 0 {
		return fmt.Errorf("crawl.start_index must be >= 0")
	}
	if c.Crawl.EndIndex != 0 && c.Crawl.EndIndex <= c.Crawl.StartIndex {
		return fmt.Errorf("crawl.end_index must be > crawl.start_index")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.DelayMaxMs < c.Crawl.DelayMinMs {
		return fmt.Errorf("crawl.delay_max_ms must be >= crawl.delay_min_ms")
	}
	if c.Crawl.FlushThreshold <= 0 {
		return fmt.Errorf("crawl.flush_threshold must be > 0")
	}
	switch c.Crawl.ResumePolicy {
	case "append-fresh", "snapshot-resume":
	default:
		return fmt.Errorf("crawl.resume_policy must be append-fresh or snapshot-resume")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when server is enabled")
	}
	if c.Resolve.SaveEvery <= 0 {
		return fmt.Errorf("resolve.save_every must be > 0")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DelayRange converts the per-request jitter bounds into durations.
func (c Config) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.Crawl.DelayMinMs) * time.Millisecond,
		time.Duration(c.Crawl.DelayMaxMs) * time.Millisecond
}
