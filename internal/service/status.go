package service

import (
	"sync"
	"time"
)

// Status represents the lifecycle state of a service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the status of a single service
type ServiceStatus struct {
	Name      string
	StartedAt time.Time

	status Status
	err    error
	mu     sync.RWMutex
}

// NewServiceStatus creates a status tracker in the stopped state
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:   name,
		status: StatusStopped,
	}
}

// SetStatus updates the status. Entering StatusRunning records the start
// time and clears any previous error.
func (s *ServiceStatus) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == StatusRunning && s.status != StatusRunning {
		s.StartedAt = time.Now()
		s.err = nil
	}
	s.status = status
}

// SetError moves the service into the error state
func (s *ServiceStatus) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.err = err
}

// GetStatus returns the current status
func (s *ServiceStatus) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetError returns the last error, if any
func (s *ServiceStatus) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// IsRunning reports whether the service is running
func (s *ServiceStatus) IsRunning() bool {
	return s.GetStatus() == StatusRunning
}

// GetUptime returns how long the service has been running, or 0
func (s *ServiceStatus) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning {
		return 0
	}
	return time.Since(s.StartedAt)
}

// StatusInfo is a point-in-time view of a service status
type StatusInfo struct {
	Status Status `json:"status"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

// Info returns a consistent snapshot of the status
func (s *ServiceStatus) Info() StatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := StatusInfo{Status: s.status, Uptime: "0s"}
	if s.status == StatusRunning {
		info.Uptime = time.Since(s.StartedAt).Round(time.Second).String()
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}
