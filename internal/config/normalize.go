package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	c.normalizePhotos()
	c.normalizeSync()
	c.normalizeSession()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PhotoDir) == "" {
		c.Paths.PhotoDir = defaultPhotoDir
	}
	if c.Paths.PhotoDir, err = expandPath(c.Paths.PhotoDir); err != nil {
		return fmt.Errorf("paths.photo_dir: %w", err)
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeBackend() {
	if c.Backend.URL == "" {
		if value, ok := os.LookupEnv("LINESYNC_BACKEND_URL"); ok {
			c.Backend.URL = value
		}
	}
	if c.Backend.APIKey == "" {
		if value, ok := os.LookupEnv("LINESYNC_API_KEY"); ok {
			c.Backend.APIKey = value
		}
	}
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	c.Backend.APIKey = strings.TrimSpace(c.Backend.APIKey)
	c.Backend.RecordsTable = defaultIfBlank(c.Backend.RecordsTable, defaultRecordsTable)
	c.Backend.LinesTable = defaultIfBlank(c.Backend.LinesTable, defaultLinesTable)
	c.Backend.MembersTable = defaultIfBlank(c.Backend.MembersTable, defaultMembersTable)
	c.Backend.FinanceTable = defaultIfBlank(c.Backend.FinanceTable, defaultFinanceTable)
	c.Backend.UsersTable = defaultIfBlank(c.Backend.UsersTable, defaultUsersTable)
	c.Backend.PhotoBucket = defaultIfBlank(c.Backend.PhotoBucket, defaultPhotoBucket)
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizePhotos() {
	c.Photos.URLMode = strings.ToLower(strings.TrimSpace(c.Photos.URLMode))
	if c.Photos.URLMode == "" {
		c.Photos.URLMode = defaultURLMode
	}
	if c.Photos.SignedURLTTL <= 0 {
		c.Photos.SignedURLTTL = defaultSignedURLTTL
	}
	if c.Photos.MaxBytes <= 0 {
		c.Photos.MaxBytes = defaultMaxPhotoBytes
	}
	if c.Photos.MaxDimension <= 0 {
		c.Photos.MaxDimension = defaultMaxPhotoDimension
	}
	if c.Photos.JPEGQuality <= 0 {
		c.Photos.JPEGQuality = defaultJPEGQuality
	}
}

func (c *Config) normalizeSync() {
	if c.Sync.MaxAttempts < 0 {
		c.Sync.MaxAttempts = 0
	}
	lines := make([]string, 0, len(c.Sync.WatchLines))
	seen := make(map[string]struct{}, len(c.Sync.WatchLines))
	for _, line := range c.Sync.WatchLines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	c.Sync.WatchLines = lines

	if c.Connectivity.ProbeInterval <= 0 {
		c.Connectivity.ProbeInterval = defaultProbeInterval
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		c.Connectivity.ProbeTimeout = defaultProbeTimeout
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		c.Realtime.HeartbeatInterval = defaultRealtimeHeartbeatInterval
	}
	if c.Realtime.ReconnectDelay <= 0 {
		c.Realtime.ReconnectDelay = defaultRealtimeReconnectDelay
	}
}

func (c *Config) normalizeSession() {
	if c.Session.Passphrase == "" {
		if value, ok := os.LookupEnv("LINESYNC_SESSION_PASSPHRASE"); ok {
			c.Session.Passphrase = value
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.MQTTBroker = strings.TrimSpace(c.Notifications.MQTTBroker)
	c.Notifications.MQTTTopic = strings.Trim(strings.TrimSpace(c.Notifications.MQTTTopic), "/")
	if c.Notifications.MQTTTopic == "" {
		c.Notifications.MQTTTopic = defaultMQTTTopic
	}
	c.Notifications.MQTTClientID = defaultIfBlank(c.Notifications.MQTTClientID, defaultMQTTClientID)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func defaultIfBlank(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
