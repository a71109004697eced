// Package messaging publishes adapter events to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/service"
)

// Conn is the subset of *nats.Conn the service uses
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
	Close()
}

// Config contains NATS connection settings
type Config struct {
	URL            string
	Subject        string
	ClientName     string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// MotionMessage is published on every motion edge
type MotionMessage struct {
	Camera    string    `json:"camera"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Service owns the NATS connection
type Service struct {
	*service.ServiceBase
	cfg  Config
	dial func(cfg Config) (Conn, error)

	mu   sync.RWMutex
	conn Conn
}

// NewService creates a new NATS messaging service. The connection is made
// on Start.
func NewService(cfg Config, log *logger.Logger) *Service {
	if cfg.ClientName == "" {
		cfg.ClientName = "hikvision-adapter"
	}
	return &Service{
		ServiceBase: service.NewServiceBase("nats-publisher", log),
		cfg:         cfg,
		dial:        dialNATS,
	}
}

func dialNATS(cfg Config) (Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Subject returns the subject motion messages are published on
func (s *Service) Subject() string {
	return s.cfg.Subject
}

// Start connects to the NATS server
func (s *Service) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	conn, err := s.dial(s.cfg)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to connect to NATS at %s: %w", s.cfg.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.LogInfo("NATS connection established", "url", s.cfg.URL)
	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop drains the connection, falling back to an immediate close
func (s *Service) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Drain(); err != nil {
			s.LogWarn("Failed to drain NATS connection gracefully, closing immediately", "error", err)
			conn.Close()
		}
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Publish marshals data as JSON and publishes it on subject
func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("NATS connection not established")
	}
	return conn.Publish(subject, payload)
}

// IsConnected reports whether the connection is up
func (s *Service) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && s.conn.IsConnected()
}
