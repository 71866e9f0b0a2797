// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/conference-crawler/internal/store"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Navigation  NavigationConfig  `mapstructure:"navigation"`
	Convergence ConvergenceConfig `mapstructure:"convergence"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	DB          DBConfig          `mapstructure:"db"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Underline   UnderlineConfig   `mapstructure:"underline"`
	NeurIPS     NeurIPSConfig     `mapstructure:"neurips"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	// Driver is "chromedp" or "rod".
	Driver        string `mapstructure:"driver"`
	Headless      bool   `mapstructure:"headless"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	IdleQuietMs   int    `mapstructure:"idle_quiet_ms"`
}

// NavigationConfig bounds waits and retries of the navigation controller.
type NavigationConfig struct {
	SettleDelayMs     int `mapstructure:"settle_delay_ms"`
	IdleTimeoutSec    int `mapstructure:"idle_timeout_seconds"`
	ElementTimeoutSec int `mapstructure:"element_timeout_seconds"`
	ClickAttempts     int `mapstructure:"click_attempts"`
	ClickBackoffMs    int `mapstructure:"click_backoff_ms"`
	MaxNavAttempts    int `mapstructure:"max_nav_attempts"`
	MaxBackAttempts   int `mapstructure:"max_back_attempts"`
	ExtractTimeoutSec int `mapstructure:"extract_timeout_seconds"`
	// MinIntervalMs spaces navigations to one host; 0 disables pacing.
	MinIntervalMs int `mapstructure:"min_interval_ms"`
}

// ConvergenceConfig tunes scroll-loading detection.
type ConvergenceConfig struct {
	SettleMs  int     `mapstructure:"settle_ms"`
	Grace     float64 `mapstructure:"grace"`
	MaxPolls  int     `mapstructure:"max_polls"`
	BudgetSec int     `mapstructure:"budget_seconds"`
}

// LedgerConfig points at the progress ledger and failure log files.
type LedgerConfig struct {
	Path         string `mapstructure:"path"`
	FailuresPath string `mapstructure:"failures_path"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
	// Mode is "pooled" or "single".
	Mode                   string `mapstructure:"mode"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// IngestConfig bounds batch ingestion.
type IngestConfig struct {
	Parallelism int `mapstructure:"parallelism"`
	// BatchSize is how many fetched pages the static crawl ingests at once.
	BatchSize int `mapstructure:"batch_size"`
}

// ArtifactsConfig selects where failure screenshots go.
type ArtifactsConfig struct {
	// Backend is "local", "gcs" or "none".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig enables the /metrics server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// UnderlineConfig describes one conference hosted on underline.io.
type UnderlineConfig struct {
	Conference       string  `mapstructure:"conference"`
	Year             int     `mapstructure:"year"`
	LoginURL         string  `mapstructure:"login_url"`
	PostersURL       string  `mapstructure:"posters_url"`
	PosterGrace      float64 `mapstructure:"poster_grace"`
	SessionsURL      string  `mapstructure:"sessions_url"`
	SessionsExpected int     `mapstructure:"sessions_expected"`
	SessionsGrace    float64 `mapstructure:"sessions_grace"`
	TabPauseMs       int     `mapstructure:"tab_pause_ms"`
}

// NeurIPSConfig describes the static NeurIPS crawl.
type NeurIPSConfig struct {
	StartURL   string `mapstructure:"start_url"`
	Conference string `mapstructure:"conference"`
	Year       int    `mapstructure:"year"`
	DelayMs    int    `mapstructure:"delay_ms"`
	UserAgent  string `mapstructure:"user_agent"`
	LedgerPath string `mapstructure:"ledger_path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONFCRAWL")
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

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:74.0) Gecko/20100101 Firefox/74.0"

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", userAgent)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.idle_quiet_ms", 500)
	v.SetDefault("navigation.settle_delay_ms", 3000)
	v.SetDefault("navigation.idle_timeout_seconds", 30)
	v.SetDefault("navigation.element_timeout_seconds", 20)
	v.SetDefault("navigation.click_attempts", 3)
	v.SetDefault("navigation.click_backoff_ms", 1000)
	v.SetDefault("navigation.max_nav_attempts", 20)
	v.SetDefault("navigation.max_back_attempts", 20)
	v.SetDefault("navigation.extract_timeout_seconds", 90)
	v.SetDefault("navigation.min_interval_ms", 5000)
	v.SetDefault("convergence.settle_ms", 2500)
	v.SetDefault("convergence.grace", 0.95)
	v.SetDefault("convergence.max_polls", 400)
	v.SetDefault("convergence.budget_seconds", 900)
	v.SetDefault("ledger.path", "./state/completed.txt")
	v.SetDefault("ledger.failures_path", "./state/failures.jsonl")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.mode", string(store.ModePooled))
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("ingest.parallelism", 4)
	v.SetDefault("ingest.batch_size", 16)
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.base_dir", "./state/artifacts")
	v.SetDefault("artifacts.gcs_bucket", "")
	v.SetDefault("artifacts.prefix", "screenshots")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("underline.conference", "AAAI")
	v.SetDefault("underline.year", 2023)
	v.SetDefault("underline.login_url", "https://underline.io/log-in?redirectUrl=/events/380/reception")
	v.SetDefault("underline.posters_url", "https://underline.io/events/380/posters")
	v.SetDefault("underline.poster_grace", 0.95)
	v.SetDefault("underline.sessions_url", "")
	v.SetDefault("underline.sessions_expected", 1154)
	v.SetDefault("underline.sessions_grace", 0.97)
	v.SetDefault("underline.tab_pause_ms", 1000)
	v.SetDefault("neurips.start_url", "https://neurips.cc/virtual/2022/search")
	v.SetDefault("neurips.conference", "NeurIPS")
	v.SetDefault("neurips.year", 2022)
	v.SetDefault("neurips.delay_ms", 5000)
	v.SetDefault("neurips.user_agent", userAgent)
	v.SetDefault("neurips.ledger_path", "./state/neurips-completed.txt")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver must be chromedp or rod, got %q", c.Browser.Driver)
	}
	if _, err := store.ParseMode(c.DB.Mode); err != nil {
		return fmt.Errorf("db.mode: %w", err)
	}
	if c.Convergence.Grace <= 0 || c.Convergence.Grace > 1 {
		return fmt.Errorf("convergence.grace must be in (0, 1]")
	}
	if c.Convergence.MaxPolls <= 0 {
		return fmt.Errorf("convergence.max_polls must be > 0")
	}
	if c.Navigation.ClickAttempts <= 0 {
		return fmt.Errorf("navigation.click_attempts must be > 0")
	}
	if c.Navigation.MaxNavAttempts <= 0 || c.Navigation.MaxBackAttempts <= 0 {
		return fmt.Errorf("navigation.max_nav_attempts and navigation.max_back_attempts must be > 0")
	}
	if c.Ledger.Path == "" || c.Ledger.FailuresPath == "" {
		return fmt.Errorf("ledger.path and ledger.failures_path are required")
	}
	if c.Ingest.Parallelism <= 0 || c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.parallelism and ingest.batch_size must be > 0")
	}
	switch c.Artifacts.Backend {
	case "none":
	case "local":
		if c.Artifacts.BaseDir == "" {
			return fmt.Errorf("artifacts.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			return fmt.Errorf("artifacts.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("artifacts.backend must be local, gcs or none, got %q", c.Artifacts.Backend)
	}
	return nil
}

// Ms converts a millisecond knob to a duration.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Sec converts a second knob to a duration.
func Sec(n int) time.Duration { return time.Duration(n) * time.Second }
