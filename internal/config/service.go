package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
)

// Service provides configuration management with .env and environment
// variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := loadAndValidate(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// LoadWithEnv loads a configuration file, applies .env and environment
// overrides and validates the result.
func LoadWithEnv(configPath string) (*Config, error) {
	return loadAndValidate(configPath)
}

func loadAndValidate(configPath string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default "./.env")
// without overriding variables already present in the environment. Missing
// files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := loadAndValidate(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// LogLevelWatcher applies log.level changes to log at runtime and warns
// about every other change, which only takes effect after a restart
func LogLevelWatcher(log *logger.Logger) ConfigWatcher {
	return func(ctx context.Context, oldConfig, newConfig *Config) error {
		if oldConfig.Log.Level != newConfig.Log.Level {
			if err := log.SetLevel(newConfig.Log.Level); err != nil {
				return fmt.Errorf("failed to apply log level %q: %w", newConfig.Log.Level, err)
			}
			log.Info("Log level changed", "level", newConfig.Log.Level)
		}

		if sections := RestartRequired(oldConfig, newConfig); len(sections) > 0 {
			log.Warn("Configuration changes require a restart", "sections", sections)
		}
		return nil
	}
}

// RestartRequired lists the configuration sections that differ between
// oldConfig and newConfig and cannot be applied while running
func RestartRequired(oldConfig, newConfig *Config) []string {
	var sections []string
	if oldConfig.Camera != newConfig.Camera {
		sections = append(sections, "camera")
	}
	if oldConfig.Motion != newConfig.Motion {
		sections = append(sections, "motion")
	}
	if oldConfig.Events != newConfig.Events {
		sections = append(sections, "events")
	}
	if oldConfig.Snapshot != newConfig.Snapshot {
		sections = append(sections, "snapshot")
	}
	if oldConfig.Storage != newConfig.Storage {
		sections = append(sections, "storage")
	}
	if oldConfig.Web != newConfig.Web {
		sections = append(sections, "web")
	}
	if oldConfig.Health != newConfig.Health {
		sections = append(sections, "health")
	}
	if oldConfig.NATS != newConfig.NATS {
		sections = append(sections, "nats")
	}
	if oldConfig.Log.Format != newConfig.Log.Format || oldConfig.Log.Output != newConfig.Log.Output {
		sections = append(sections, "log")
	}
	return sections
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	// Camera settings
	if val := os.Getenv("HIKCAM_HOST"); val != "" {
		cfg.Camera.Host = val
	}
	if val := os.Getenv("HIKCAM_USERNAME"); val != "" {
		cfg.Camera.Username = val
	}
	if val := os.Getenv("HIKCAM_PASSWORD"); val != "" {
		cfg.Camera.Password = val
	}
	cfg.Camera.HTTPPort = GetEnvInt("HIKCAM_HTTP_PORT", cfg.Camera.HTTPPort)
	cfg.Camera.RTSPPort = GetEnvInt("HIKCAM_RTSP_PORT", cfg.Camera.RTSPPort)
	if val := os.Getenv("HIKCAM_AUTH"); val != "" {
		cfg.Camera.Auth = strings.ToLower(val)
	}

	// Motion and alert stream settings
	cfg.Motion.Timeout = GetEnvDuration("HIKCAM_MOTION_TIMEOUT", cfg.Motion.Timeout)
	cfg.Events.ReconnectDelay = GetEnvDuration("HIKCAM_RECONNECT_DELAY", cfg.Events.ReconnectDelay)

	// Storage settings
	if val := os.Getenv("HIKCAM_DATA_DIR"); val != "" {
		// A snapshot dir derived from the old data dir follows the new one
		if cfg.Snapshot.Dir == filepath.Join(cfg.Storage.DataDir, "snapshots") {
			cfg.Snapshot.Dir = filepath.Join(val, "snapshots")
		}
		cfg.Storage.DataDir = val
	}
	if val := os.Getenv("HIKCAM_SNAPSHOT_DIR"); val != "" {
		cfg.Snapshot.Dir = val
	}

	// Web settings
	cfg.Web.Enabled = GetEnvBool("HIKCAM_WEB_ENABLED", cfg.Web.Enabled)
	cfg.Web.Port = GetEnvInt("HIKCAM_WEB_PORT", cfg.Web.Port)

	// NATS settings
	cfg.NATS.Enabled = GetEnvBool("HIKCAM_NATS_ENABLED", cfg.NATS.Enabled)
	if val := os.Getenv("HIKCAM_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv("HIKCAM_NATS_SUBJECT"); val != "" {
		cfg.NATS.Subject = val
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}
