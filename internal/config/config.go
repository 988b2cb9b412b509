package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Paging   PagingConfig   `yaml:"paging"`
	Backfill BackfillConfig `yaml:"backfill"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LedgerConfig lists the hosts whose post URLs are recorded.
type LedgerConfig struct {
	Hosts []string `yaml:"hosts"`
}

// FetchConfig configures the remote endpoints, tried in this order:
// status APIs, oEmbed endpoints, then Nitter when set.
type FetchConfig struct {
	StatusAPIs []string `yaml:"status_apis"`
	OEmbeds    []string `yaml:"oembeds"`
	NitterURL  string   `yaml:"nitter_url"`
	Timeout    string   `yaml:"timeout"`
}

// ParseTimeout returns the per-request timeout.
func (f FetchConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// PagingConfig configures incremental page loads.
type PagingConfig struct {
	PageSize  int    `yaml:"page_size"`
	ItemDelay string `yaml:"item_delay"`
}

// ParseItemDelay returns the pause between item resolutions.
func (p PagingConfig) ParseItemDelay() time.Duration {
	d, err := time.ParseDuration(p.ItemDelay)
	if err != nil || d < 0 {
		return 200 * time.Millisecond
	}
	return d
}

// BackfillConfig configures the periodic metadata backfill.
type BackfillConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// ParseInterval returns the backfill interval as time.Duration.
func (b BackfillConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(b.Interval)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// NotifyConfig configures ledger change listeners.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig for the signed event webhook.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./xhistory.db"},
		Log:      LogConfig{Level: "info"},
		Ledger:   LedgerConfig{Hosts: []string{"x.com"}},
		Fetch: FetchConfig{
			StatusAPIs: []string{"https://api.fxtwitter.com", "https://api.fixupx.com"},
			OEmbeds:    []string{"https://publish.x.com/oembed", "https://publish.twitter.com/oembed"},
			Timeout:    "15s",
		},
		Paging: PagingConfig{
			PageSize:  10,
			ItemDelay: "200ms",
		},
		Backfill: BackfillConfig{
			Enabled:  true,
			Interval: "30m",
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"chrome-extension://*", "moz-extension://*", "http://localhost:*"},
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XHISTORY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("XHISTORY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("XHISTORY_NITTER_URL"); v != "" {
		cfg.Fetch.NitterURL = v
	}
	if v := os.Getenv("XHISTORY_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
		cfg.Notify.Webhook.Enabled = true
	}
	if v := os.Getenv("XHISTORY_WEBHOOK_SECRET"); v != "" {
		cfg.Notify.Webhook.Secret = v
	}
}
