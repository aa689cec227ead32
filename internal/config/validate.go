package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validatePhotos(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	if c.Backend.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("backend.url is required. Set LINESYNC_BACKEND_URL env var or edit %s (create with 'linesync config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Backend.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("backend.url must be an absolute http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.APIKey == "" {
		return errors.New("backend.api_key is required. Set LINESYNC_API_KEY env var or edit the config file")
	}
	return nil
}

func (c *Config) validatePhotos() error {
	switch c.Photos.URLMode {
	case URLModePublic, URLModeSigned:
	default:
		return fmt.Errorf("photos.url_mode must be %q or %q, got %q", URLModePublic, URLModeSigned, c.Photos.URLMode)
	}
	if c.Photos.JPEGQuality < 1 || c.Photos.JPEGQuality > 100 {
		return errors.New("photos.jpeg_quality must be between 1 and 100")
	}
	if c.Photos.MaxDimension < 64 {
		return errors.New("photos.max_dimension must be at least 64")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && !strings.HasPrefix(c.Notifications.NtfyTopic, "http") {
		return errors.New("notifications.ntfy_topic must be a full topic URL")
	}
	if c.Notifications.MQTTBroker != "" {
		parsed, err := url.Parse(c.Notifications.MQTTBroker)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("notifications.mqtt_broker must look like tcp://host:1883, got %q", c.Notifications.MQTTBroker)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
