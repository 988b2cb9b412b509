package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paging.PageSize != 10 {
		t.Errorf("PageSize = %d, want 10", cfg.Paging.PageSize)
	}
	if len(cfg.Fetch.StatusAPIs) != 2 || len(cfg.Fetch.OEmbeds) != 2 {
		t.Errorf("fetch endpoints = %+v", cfg.Fetch)
	}
	if cfg.Fetch.NitterURL != "" && os.Getenv("XHISTORY_NITTER_URL") == "" {
		t.Errorf("Nitter should be disabled by default, got %q", cfg.Fetch.NitterURL)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
database:
  path: /tmp/from-file.db
paging:
  page_size: 25
  item_delay: 50ms
backfill:
  interval: 5m
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("XHISTORY_DB_PATH", "/tmp/from-env.db")
	t.Setenv("XHISTORY_WEBHOOK_URL", "https://hooks.example/x")
	t.Setenv("XHISTORY_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, env should win", cfg.Database.Path)
	}
	if cfg.Paging.PageSize != 25 || cfg.Paging.ParseItemDelay() != 50*time.Millisecond {
		t.Errorf("Paging = %+v", cfg.Paging)
	}
	if cfg.Backfill.ParseInterval() != 5*time.Minute {
		t.Errorf("Backfill interval = %s", cfg.Backfill.ParseInterval())
	}
	if !cfg.Notify.Webhook.Enabled || cfg.Notify.Webhook.URL != "https://hooks.example/x" {
		t.Errorf("Webhook = %+v", cfg.Notify.Webhook)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestParseFallbacks(t *testing.T) {
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"bad timeout", FetchConfig{Timeout: "soon"}.ParseTimeout(), 15 * time.Second},
		{"bad delay", PagingConfig{ItemDelay: "x"}.ParseItemDelay(), 200 * time.Millisecond},
		{"zero delay allowed", PagingConfig{ItemDelay: "0s"}.ParseItemDelay(), 0},
		{"bad interval", BackfillConfig{Interval: ""}.ParseInterval(), 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}
