// Package adapter exposes a Hikvision device through the normalized camera
// operations the host consumes.
package adapter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/events"
	"github.com/evihost/unifi-cam-proxy/internal/hikvision"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/motion"
	"github.com/evihost/unifi-cam-proxy/internal/ptz"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/snapshot"
)

// PTZChannel is the device channel PTZ requests address
const PTZChannel = 1

// Camera is the set of operations the host drives
type Camera interface {
	GetSnapshot(ctx context.Context) (string, error)
	GetVideoSettings(ctx context.Context) (ptz.Telemetry, error)
	ChangeVideoSettings(ctx context.Context, settings ptz.Telemetry) error
	GetStreamSource(streamID string) string
}

// MotionHandler receives motion start and stop edges
type MotionHandler = motion.Handler

// Device is the ISAPI surface the adapter needs
type Device interface {
	Picture(ctx context.Context, channel int) (io.ReadCloser, error)
	PTZCapabilities(ctx context.Context, channel int) (bool, error)
	PTZStatus(ctx context.Context, channel int) (ptz.DevicePTZ, error)
	AbsoluteMove(ctx context.Context, channel int, pos ptz.DevicePTZ) error
	OpenAlertStream(ctx context.Context) (*hikvision.AlertStream, error)
}

// Config contains adapter configuration
type Config struct {
	Name           string
	Host           string
	RTSPPort       int
	Username       string
	Password       string
	MotionTimeout  time.Duration
	ReconnectDelay time.Duration
	SnapshotDir    string
}

// Status summarizes the adapter for the host API
type Status struct {
	Name          string       `json:"name"`
	Host          string       `json:"host"`
	PTZSupported  bool         `json:"ptz_supported"`
	MotionActive  bool         `json:"motion_active"`
	ActiveAlarms  int          `json:"active_alarms"`
	MotionTimeout string       `json:"motion_timeout"`
	AlertStream   events.Stats `json:"alert_stream"`
}

// Adapter owns one poller and one debouncer for a device
type Adapter struct {
	*service.ServiceBase
	cfg       Config
	device    Device
	fetcher   *snapshot.Fetcher
	debouncer *motion.Debouncer
	poller    *events.Poller
	endpoint  StreamEndpoint

	ptzSupported atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Compile-time check
var _ Camera = (*Adapter)(nil)

// New creates an adapter. handler may be nil when the host does not consume
// motion edges.
func New(cfg Config, device Device, handler MotionHandler, log *logger.Logger) (*Adapter, error) {
	if device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("camera host is required")
	}
	if cfg.RTSPPort == 0 {
		cfg.RTSPPort = DefaultRTSPPort
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Host
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	fetcher, err := snapshot.NewFetcher(device, cfg.SnapshotDir, log)
	if err != nil {
		return nil, err
	}

	debouncer := motion.New(handler, cfg.MotionTimeout, log)
	poller := events.NewPoller(events.PollerConfig{
		Source:         device,
		Sink:           debouncer,
		ReconnectDelay: cfg.ReconnectDelay,
	}, log.Named("poller"))

	return &Adapter{
		ServiceBase: service.NewServiceBase("hikvision-adapter", log),
		cfg:         cfg,
		device:      device,
		fetcher:     fetcher,
		debouncer:   debouncer,
		poller:      poller,
		endpoint: StreamEndpoint{
			Username: cfg.Username,
			Password: cfg.Password,
			Host:     cfg.Host,
			Port:     cfg.RTSPPort,
		},
	}, nil
}

// SetEventBus sets the event bus on the adapter and its poller
func (a *Adapter) SetEventBus(bus *service.EventBus) {
	a.ServiceBase.SetEventBus(bus)
	a.poller.SetEventBus(bus)
}

// Start probes PTZ support once, then starts the debouncer and the poller
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return fmt.Errorf("adapter already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	a.GetStatus().SetStatus(service.StatusStarting)
	a.LogInfo("Starting camera adapter", "camera", a.cfg.Name, "host", a.cfg.Host)

	a.probePTZ(ctx)

	go func() {
		if err := a.debouncer.Run(runCtx); err != nil {
			a.LogError("Motion debouncer exited", err)
		}
	}()

	if err := a.poller.Start(runCtx); err != nil {
		cancel()
		a.GetStatus().SetError(err)
		return fmt.Errorf("failed to start event poller: %w", err)
	}

	a.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops the poller, closing the alert stream, then the debouncer and
// its pending timers
func (a *Adapter) Stop(ctx context.Context) error {
	a.GetStatus().SetStatus(service.StatusStopping)
	a.LogInfo("Stopping camera adapter")

	var firstErr error
	if err := a.poller.Stop(ctx); err != nil {
		firstErr = err
	}

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-a.debouncer.Done():
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = fmt.Errorf("timed out waiting for debouncer: %w", ctx.Err())
			}
		}
	}

	a.GetStatus().SetStatus(service.StatusStopped)
	return firstErr
}

func (a *Adapter) probePTZ(ctx context.Context) {
	supported, err := a.device.PTZCapabilities(ctx, PTZChannel)
	if err != nil {
		a.LogError("PTZ capability probe failed, PTZ disabled", err)
		supported = false
	}
	a.ptzSupported.Store(supported)
	if supported {
		a.LogInfo("Detected PTZ support")
	} else {
		a.LogDebug("PTZ not supported")
	}
	a.PublishEvent(service.EventTypePTZDetected, map[string]interface{}{
		"supported": supported,
	})
}

// PTZSupported reports the result of the capability probe
func (a *Adapter) PTZSupported() bool {
	return a.ptzSupported.Load()
}

// GetSnapshot fetches a still image and returns its path
func (a *Adapter) GetSnapshot(ctx context.Context) (string, error) {
	path, err := a.fetcher.Fetch(ctx)
	if err != nil {
		return "", err
	}
	a.PublishEvent(service.EventTypeSnapshotTaken, map[string]interface{}{
		"path": path,
	})
	return path, nil
}

// GetVideoSettings reports the current pose as telemetry. Without PTZ it
// returns the zero triple.
func (a *Adapter) GetVideoSettings(ctx context.Context) (ptz.Telemetry, error) {
	if !a.PTZSupported() {
		return ptz.Telemetry{}, nil
	}
	pos, err := a.device.PTZStatus(ctx, PTZChannel)
	if err != nil {
		return ptz.Telemetry{}, fmt.Errorf("failed to read PTZ status: %w", err)
	}
	return ptz.ToTelemetry(pos), nil
}

// ChangeVideoSettings moves the camera to the pose described by settings.
// Without PTZ it does nothing.
func (a *Adapter) ChangeVideoSettings(ctx context.Context, settings ptz.Telemetry) error {
	if !a.PTZSupported() {
		return nil
	}

	pos := ptz.ToDevice(settings)
	a.LogInfo(fmt.Sprintf("Moving to %d:%d:%d", pos.Azimuth, pos.Elevation, pos.Zoom))

	if err := a.device.AbsoluteMove(ctx, PTZChannel, pos); err != nil {
		return fmt.Errorf("failed to move camera: %w", err)
	}

	a.PublishEvent(service.EventTypePTZMoved, map[string]interface{}{
		"azimuth":   pos.Azimuth,
		"elevation": pos.Elevation,
		"zoom":      pos.Zoom,
	})
	return nil
}

// GetStreamSource returns the RTSP URL for a stream. Every stream id maps to
// the device's default stream.
func (a *Adapter) GetStreamSource(streamID string) string {
	ep := a.endpoint.ForStream(streamID)
	a.LogDebug("Resolved stream source", "stream", streamID, "channel", ep.Channel)
	return ep.URL()
}

// MotionState returns the debouncer state
func (a *Adapter) MotionState(ctx context.Context) (motion.State, error) {
	return a.debouncer.State(ctx)
}

// AlertStreamConnected reports whether the alert stream is currently open
func (a *Adapter) AlertStreamConnected() bool {
	return a.poller.IsConnected()
}

// Endpoint returns the default RTSP endpoint
func (a *Adapter) Endpoint() StreamEndpoint {
	return a.endpoint
}

// SnapshotDir returns the directory snapshots are written to
func (a *Adapter) SnapshotDir() string {
	return a.fetcher.Dir()
}

// Status returns an adapter summary
func (a *Adapter) Status(ctx context.Context) Status {
	st := Status{
		Name:          a.cfg.Name,
		Host:          a.cfg.Host,
		PTZSupported:  a.PTZSupported(),
		MotionTimeout: a.debouncer.Timeout().String(),
		AlertStream:   a.poller.Stats(),
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if ms, err := a.debouncer.State(ctx); err == nil {
		st.MotionActive = ms.Active()
		st.ActiveAlarms = ms.ActiveCount
	}
	return st
}
