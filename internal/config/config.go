package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	PhotoDir string `toml:"photo_dir"`
	APIBind  string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token by the HTTP API.
	APIToken string `toml:"api_token"`
}

// Backend contains connection settings for the hosted row and object API.
type Backend struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	RecordsTable   string `toml:"records_table"`
	LinesTable     string `toml:"lines_table"`
	MembersTable   string `toml:"members_table"`
	FinanceTable   string `toml:"finance_table"`
	UsersTable     string `toml:"users_table"`
	PhotoBucket    string `toml:"photo_bucket"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Photos controls photo preparation and how stored photos are addressed.
type Photos struct {
	URLMode      string `toml:"url_mode"`
	SignedURLTTL int    `toml:"signed_url_ttl"`
	MaxBytes     int64  `toml:"max_bytes"`
	MaxDimension int    `toml:"max_dimension"`
	JPEGQuality  int    `toml:"jpeg_quality"`
}

// Sync contains queue flushing settings.
type Sync struct {
	// MaxAttempts moves a record to the failed state once exceeded. Zero retries forever.
	MaxAttempts int      `toml:"max_attempts"`
	WatchLines  []string `toml:"watch_lines"`
}

// Connectivity contains reachability probe settings.
type Connectivity struct {
	ProbeInterval int  `toml:"probe_interval"`
	ProbeTimeout  int  `toml:"probe_timeout"`
	Netlink       bool `toml:"netlink"`
}

// Realtime contains change feed settings.
type Realtime struct {
	Enabled           bool `toml:"enabled"`
	HeartbeatInterval int  `toml:"heartbeat_interval"`
	ReconnectDelay    int  `toml:"reconnect_delay"`
}

// Session contains settings for the sealed local session file.
type Session struct {
	Passphrase string `toml:"passphrase"`
}

// Notifications contains configuration for ntfy and MQTT sync event delivery.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	MQTTBroker     string `toml:"mqtt_broker"`
	MQTTTopic      string `toml:"mqtt_topic"`
	MQTTClientID   string `toml:"mqtt_client_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for linesync.
//
// Configuration sections by subsystem:
//   - Paths: local database, logs, staged photos and API bind address
//   - Backend: hosted row/object API endpoint, key and table names
//   - Photos: upload limits and URL mode
//   - Sync: retry ceiling and lines refreshed after a flush
//   - Connectivity: probe cadence and netlink trigger
//   - Realtime: change feed subscription
//   - Session: sealed session passphrase
//   - Notifications: ntfy and MQTT sinks
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Photos        Photos        `toml:"photos"`
	Sync          Sync          `toml:"sync"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Realtime      Realtime      `toml:"realtime"`
	Session       Session       `toml:"session"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("linesync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.PhotoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the local queue database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "linesync.db")
}

// SessionPath returns the location of the sealed session file.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Paths.DataDir, "session.bin")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "linesync.sock")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "linesyncd.lock")
}

// RequestTimeout returns the backend request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}

// SignedURLTTL returns the lifetime of signed photo URLs.
func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.Photos.SignedURLTTL) * time.Second
}

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.ProbeInterval) * time.Second
}

// ProbeTimeout returns the timeout for a single connectivity probe.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Connectivity.ProbeTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
