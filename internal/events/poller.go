// Package events consumes the device alert stream and forwards motion
// alarms to the debouncer.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/hikvision"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/service"
)

// AlertSource opens the device alert stream
type AlertSource interface {
	OpenAlertStream(ctx context.Context) (*hikvision.AlertStream, error)
}

// SignalSink receives one call per motion alarm
type SignalSink interface {
	Signal(ctx context.Context) error
}

// PollerConfig contains poller configuration
type PollerConfig struct {
	Source AlertSource
	Sink   SignalSink

	// ReconnectDelay is waited between a failure and the next connect
	// attempt. Zero reconnects immediately. Repeated connect failures back
	// off from 100ms to 5s.
	ReconnectDelay time.Duration
}

// Stats contains alert stream counters
type Stats struct {
	Connected   bool      `json:"connected"`
	Connects    int64     `json:"connects"`
	Alerts      int64     `json:"alerts"`
	Motions     int64     `json:"motions"`
	LastAlertAt time.Time `json:"last_alert_at,omitempty"`
}

// Poller keeps one alert stream open and reconnects whenever it drops
type Poller struct {
	*service.ServiceBase
	source         AlertSource
	sink           SignalSink
	reconnectDelay time.Duration

	mu          sync.Mutex
	stream      *hikvision.AlertStream
	connected   bool
	lastAlertAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	connects atomic.Int64
	alerts   atomic.Int64
	motions  atomic.Int64
}

// NewPoller creates a new alert stream poller
func NewPoller(cfg PollerConfig, log *logger.Logger) *Poller {
	return &Poller{
		ServiceBase:    service.NewServiceBase("event-poller", log),
		source:         cfg.Source,
		sink:           cfg.Sink,
		reconnectDelay: cfg.ReconnectDelay,
	}
}

// Start launches the poll loop. It returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("event poller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.GetStatus().SetStatus(service.StatusStarting)
	p.LogInfo("Starting alert stream poller")

	go p.run(runCtx)

	p.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop cancels the poll loop and closes the open stream so a pending read
// returns. It waits for the loop to exit or ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusStopping)
	p.LogInfo("Stopping alert stream poller")

	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	// Cancel before closing so the loop sees a cancelled context when the
	// pending read fails
	if cancel != nil {
		cancel()
	}

	p.mu.Lock()
	if p.stream != nil {
		_ = p.stream.Close()
	}
	p.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for poller to stop: %w", ctx.Err())
		}
	}

	p.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Done is closed once the poll loop has exited
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// IsConnected reports whether an alert stream is currently open
func (p *Poller) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Stats returns alert stream counters
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	connected, lastAlertAt := p.connected, p.lastAlertAt
	p.mu.Unlock()

	return Stats{
		Connected:   connected,
		Connects:    p.connects.Load(),
		Alerts:      p.alerts.Load(),
		Motions:     p.motions.Load(),
		LastAlertAt: lastAlertAt,
	}
}

// Backoff applied to consecutive failed connects
const (
	minRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff = 5 * time.Second
)

// run manages the connection lifecycle
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		before := p.connects.Load()
		err := p.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		connected := p.connects.Load() > before
		if connected {
			failures = 0
		}
		failures++

		p.LogError("Alert stream failed", err, "attempt", failures)
		if connected || failures == 1 {
			p.PublishEvent(service.EventTypeDeviceDisconnected, map[string]interface{}{
				"reason": err.Error(),
			})
		}

		delay := retryDelay(p.reconnectDelay, failures)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// retryDelay returns the wait before the next connect. The first retry after
// a failure honours the configured delay; further consecutive failures back
// off exponentially up to maxRetryBackoff.
func retryDelay(configured time.Duration, failures int) time.Duration {
	if failures <= 1 {
		return configured
	}
	backoff := minRetryBackoff
	for i := 2; i < failures && backoff < maxRetryBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	if configured > backoff {
		return configured
	}
	return backoff
}

// consume opens one stream and reads it until it fails
func (p *Poller) consume(ctx context.Context) error {
	p.LogDebug("Connecting to alert stream")

	stream, err := p.source.OpenAlertStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to open alert stream: %w", err)
	}

	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		_ = stream.Close()
		return ctx.Err()
	}
	p.stream = stream
	p.connected = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.stream = nil
		p.connected = false
		p.mu.Unlock()
		_ = stream.Close()
	}()

	p.connects.Add(1)
	p.LogInfo("Alert stream connected")
	p.PublishEvent(service.EventTypeDeviceConnected, nil)

	for {
		alert, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("alert stream closed by device")
			}
			return fmt.Errorf("failed to read alert stream: %w", err)
		}

		p.alerts.Add(1)
		p.mu.Lock()
		p.lastAlertAt = time.Now()
		p.mu.Unlock()

		if !alert.IsMotion() {
			continue
		}

		p.motions.Add(1)
		if err := p.sink.Signal(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.LogError("Failed to forward motion alarm", err)
		}
	}
}
