package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Motion   MotionConfig   `yaml:"motion"`
	Events   EventsConfig   `yaml:"events"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Storage  StorageConfig  `yaml:"storage"`
	Web      WebConfig      `yaml:"web"`
	Health   HealthConfig   `yaml:"health"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// CameraConfig describes how to reach the Hikvision device
type CameraConfig struct {
	Name           string        `yaml:"name"`
	Host           string        `yaml:"host"`
	HTTPPort       int           `yaml:"http_port"`
	RTSPPort       int           `yaml:"rtsp_port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"` // never logged
	Auth           string        `yaml:"auth"`     // "digest" or "basic"
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MotionConfig contains motion debounce configuration
type MotionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig contains alert stream configuration
type EventsConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// SnapshotConfig contains snapshot retrieval configuration
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig contains local state storage configuration
type StorageConfig struct {
	DataDir         string        `yaml:"data_dir"`
	Retention       time.Duration `yaml:"retention"` // how long finished records are kept
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// WebConfig contains the host API server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HealthConfig contains health check server configuration
type HealthConfig struct {
	Enabled   bool `yaml:"enabled"`
	Port      int  `yaml:"port"`
	RTSPProbe bool `yaml:"rtsp_probe"`
}

// NATSConfig contains configuration for publishing motion events to NATS
type NATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/unifi-cam-proxy/hikvision.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Camera.Name == "" {
		c.Camera.Name = "hikvision"
	}
	if c.Camera.HTTPPort == 0 {
		c.Camera.HTTPPort = 80
	}
	if c.Camera.RTSPPort == 0 {
		c.Camera.RTSPPort = 554
	}
	if c.Camera.Auth == "" {
		c.Camera.Auth = "digest"
	}
	if c.Camera.RequestTimeout == 0 {
		c.Camera.RequestTimeout = 10 * time.Second
	}

	if c.Motion.Timeout == 0 {
		c.Motion.Timeout = 5 * time.Second
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.Retention == 0 {
		c.Storage.Retention = 7 * 24 * time.Hour
	}
	if c.Storage.CleanupInterval == 0 {
		c.Storage.CleanupInterval = time.Hour
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = filepath.Join(c.Storage.DataDir, "snapshots")
	}

	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8081
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "camera.motion"
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = 10 * time.Second
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
}

// DatabasePath returns the path of the state database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "db", "adapter.db")
}
