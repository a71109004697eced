package state

import (
	"testing"

	"github.com/evihost/unifi-cam-proxy/internal/config"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	tmpDir := t.TempDir()

	cfg := &config.Config{}
	cfg.Storage.DataDir = tmpDir

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text"})

	mgr, err := NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
