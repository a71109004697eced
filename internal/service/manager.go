package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
)

// Manager manages the lifecycle of the adapter's services (device adapter,
// web API, messaging) and shuts them down in reverse start order.
type Manager struct {
	logger     *logger.Logger
	services   []Service
	statuses   map[string]*ServiceStatus
	eventBus   *EventBus
	mu         sync.RWMutex
	startOrder []string // services that started, in order
}

// stopTimeout bounds a single service's Stop
const stopTimeout = 10 * time.Second

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:     log,
		services:   make([]Service, 0),
		statuses:   make(map[string]*ServiceStatus),
		eventBus:   NewEventBus(100),
		startOrder: make([]string, 0),
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	status := NewServiceStatus(svc.Name())
	m.statuses[svc.Name()] = status

	// Set event bus if service supports it
	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts the registered services one at a time in registration order.
// If a service fails to start, the services already started are stopped in
// reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))

	m.startEventMonitoring(ctx)

	for _, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start",
				"service", svc.Name(),
				"error", err,
			)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data: map[string]interface{}{
					"error": err.Error(),
				},
			})

			m.stopStarted(ctx)
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		status.SetStatus(StatusRunning)
		m.startOrder = append(m.startOrder, svc.Name())
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data: map[string]interface{}{
				"service": svc.Name(),
			},
		})
	}

	return nil
}

// stopStarted rolls back a partial start. Callers hold m.mu.
func (m *Manager) stopStarted(ctx context.Context) {
	for i := len(m.startOrder) - 1; i >= 0; i-- {
		name := m.startOrder[i]
		svc := m.lookup(name)
		if svc == nil {
			continue
		}
		m.stopService(ctx, svc, m.statuses[name])
	}
	m.startOrder = m.startOrder[:0]
}

func (m *Manager) lookup(name string) Service {
	for _, s := range m.services {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// stopService stops one service with a per-service timeout and records the
// outcome
func (m *Manager) stopService(ctx context.Context, svc Service, status *ServiceStatus) {
	status.SetStatus(StatusStopping)
	m.logger.Info("Stopping service", "service", svc.Name())

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		status.SetError(err)
		m.logger.Error("Error stopping service",
			"service", svc.Name(),
			"error", err,
		)
	} else {
		status.SetStatus(StatusStopped)
		m.logger.Info("Service stopped", "service", svc.Name())
	}

	m.eventBus.Publish(Event{
		Type:   EventTypeServiceStopped,
		Source: "manager",
		Data: map[string]interface{}{
			"service": svc.Name(),
		},
	})
}

// startEventMonitoring starts monitoring system events
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		defer m.eventBus.Unsubscribe("", ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the started services in reverse start order. It returns an
// error if ctx expires first; remaining services are still stopped in the
// background.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	order := append([]string(nil), m.startOrder...)
	m.startOrder = m.startOrder[:0]
	m.mu.Unlock()

	m.logger.Info("Shutting down services", "count", len(order))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(order) - 1; i >= 0; i-- {
			m.mu.RLock()
			svc, status := m.lookup(order[i]), m.statuses[order[i]]
			m.mu.RUnlock()
			if svc != nil {
				m.stopService(ctx, svc, status)
			}
		}
		m.eventBus.Close()
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus)
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
