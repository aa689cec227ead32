package testsupport

import (
	"path/filepath"
	"testing"

	"linesync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PhotoDir = filepath.Join(base, "photos")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Backend.URL = "http://127.0.0.1:1"
	cfgVal.Backend.APIKey = "test-anon-key"
	cfgVal.Session.Passphrase = "test-passphrase"
	cfgVal.Connectivity.Netlink = false
	cfgVal.Realtime.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackendURL points the test config at a fake backend.
func WithBackendURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.URL = url
	}
}

// WithMaxAttempts sets the retry ceiling for queued records and mutations.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.MaxAttempts = n
	}
}

// WithWatchLines sets the lines refreshed after a flush.
func WithWatchLines(lines ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.WatchLines = lines
	}
}

// WithURLMode selects public or signed photo URLs.
func WithURLMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Photos.URLMode = mode
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
