package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	if c.Camera.Host == "" {
		errors = append(errors, "camera.host is required")
	}
	if c.Camera.Username == "" {
		errors = append(errors, "camera.username is required")
	}
	if !validPort(c.Camera.HTTPPort) {
		errors = append(errors, fmt.Sprintf("camera.http_port must be between 1 and 65535, got: %d", c.Camera.HTTPPort))
	}
	if !validPort(c.Camera.RTSPPort) {
		errors = append(errors, fmt.Sprintf("camera.rtsp_port must be between 1 and 65535, got: %d", c.Camera.RTSPPort))
	}
	if c.Camera.Auth != "digest" && c.Camera.Auth != "basic" {
		errors = append(errors, fmt.Sprintf("invalid camera.auth: %s (must be: digest or basic)", c.Camera.Auth))
	}
	if c.Camera.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("camera.request_timeout must be > 0, got: %v", c.Camera.RequestTimeout))
	}

	if c.Motion.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("motion.timeout must be > 0, got: %v", c.Motion.Timeout))
	}
	if c.Events.ReconnectDelay < 0 {
		errors = append(errors, fmt.Sprintf("events.reconnect_delay must be >= 0, got: %v", c.Events.ReconnectDelay))
	}

	if c.Storage.DataDir == "" {
		errors = append(errors, "storage.data_dir is required")
	}
	if c.Storage.Retention < 0 {
		errors = append(errors, fmt.Sprintf("storage.retention must be >= 0, got: %v", c.Storage.Retention))
	}
	if c.Storage.CleanupInterval < 0 {
		errors = append(errors, fmt.Sprintf("storage.cleanup_interval must be >= 0, got: %v", c.Storage.CleanupInterval))
	}
	if c.Snapshot.Dir == "" {
		errors = append(errors, "snapshot.dir is required")
	}

	if c.Web.Enabled && !validPort(c.Web.Port) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}
	if c.Health.Enabled && !validPort(c.Health.Port) {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", c.Health.Port))
	}
	if c.Web.Enabled && c.Health.Enabled && c.Web.Port == c.Health.Port {
		errors = append(errors, fmt.Sprintf("web.port and health.port must differ, both are %d", c.Web.Port))
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errors = append(errors, "nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" {
			errors = append(errors, "nats.subject is required when nats is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
