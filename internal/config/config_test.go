package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"linesync/internal/config"
)

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	t.Setenv("LINESYNC_BACKEND_URL", "https://example.supabase.co/")
	t.Setenv("LINESYNC_API_KEY", "anon-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "linesync")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "linesync.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Backend.URL != "https://example.supabase.co" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.APIKey != "anon-key" {
		t.Fatalf("expected api key from env, got %q", cfg.Backend.APIKey)
	}
	if cfg.Backend.PhotoBucket != "production-photos" {
		t.Fatalf("unexpected bucket: %q", cfg.Backend.PhotoBucket)
	}
	if cfg.Photos.URLMode != config.URLModePublic {
		t.Fatalf("expected public url mode by default, got %q", cfg.Photos.URLMode)
	}
	if cfg.Photos.MaxBytes != 5*1024*1024 {
		t.Fatalf("unexpected max bytes: %d", cfg.Photos.MaxBytes)
	}
	if cfg.Sync.MaxAttempts != 0 {
		t.Fatalf("expected unbounded retries by default, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
}

func TestLoadMissingBackendURLFails(t *testing.T) {
	t.Setenv("LINESYNC_BACKEND_URL", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected error for missing backend url")
	}
	if !strings.Contains(err.Error(), "backend.url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg := config.Default()
	cfg.Paths.DataDir = "~/workshop"
	cfg.Backend.URL = "http://localhost:54321"
	cfg.Backend.APIKey = "key"
	cfg.Photos.URLMode = "SIGNED"
	cfg.Sync.MaxAttempts = 5
	cfg.Sync.WatchLines = []string{"line-a", " line-a ", "", "line-b"}
	cfg.Logging.Format = "JSON"

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q exists=%v", path, resolved, exists)
	}
	if loaded.Paths.DataDir != filepath.Join(tempHome, "workshop") {
		t.Fatalf("unexpected data dir: %q", loaded.Paths.DataDir)
	}
	if loaded.Photos.URLMode != config.URLModeSigned {
		t.Fatalf("expected signed url mode, got %q", loaded.Photos.URLMode)
	}
	if loaded.Logging.Format != "json" {
		t.Fatalf("expected lowercase log format, got %q", loaded.Logging.Format)
	}
	if got := loaded.Sync.WatchLines; len(got) != 2 || got[0] != "line-a" || got[1] != "line-b" {
		t.Fatalf("unexpected watch lines: %v", got)
	}
	if loaded.Sync.MaxAttempts != 5 {
		t.Fatalf("unexpected max attempts: %d", loaded.Sync.MaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"url mode", func(c *config.Config) { c.Photos.URLMode = "private" }, "photos.url_mode"},
		{"relative url", func(c *config.Config) { c.Backend.URL = "example.com" }, "backend.url"},
		{"missing key", func(c *config.Config) { c.Backend.APIKey = "" }, "backend.api_key"},
		{"quality", func(c *config.Config) { c.Photos.JPEGQuality = 101 }, "jpeg_quality"},
		{"ntfy", func(c *config.Config) { c.Notifications.NtfyTopic = "topic" }, "ntfy_topic"},
		{"log level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend.URL = "https://example.supabase.co"
			cfg.Backend.APIKey = "key"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LINESYNC_API_KEY", "sample-key")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Backend.URL != "https://your-project.supabase.co" {
		t.Fatalf("unexpected sample backend url: %q", cfg.Backend.URL)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.PhotoDir = filepath.Join(base, "photos")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.PhotoDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
