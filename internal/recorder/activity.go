package recorder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/state"
)

// ActivityService persists snapshot and PTZ activity published on the
// event bus, along with alert stream transitions and detected PTZ support
// as system state
type ActivityService struct {
	*service.ServiceBase
	store  *state.Manager
	camera string
	cancel context.CancelFunc
}

// NewActivityService creates a new activity recorder
func NewActivityService(store *state.Manager, camera string, log *logger.Logger) *ActivityService {
	return &ActivityService{
		ServiceBase: service.NewServiceBase("activity-recorder", log),
		store:       store,
		camera:      camera,
	}
}

// Start subscribes to the event bus
func (s *ActivityService) Start(ctx context.Context) error {
	bus := s.GetEventBus()
	if bus == nil {
		return fmt.Errorf("activity recorder requires an event bus")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	bus.SubscribeWithHandler(runCtx, service.EventTypeSnapshotTaken, s.onSnapshot)
	bus.SubscribeWithHandler(runCtx, service.EventTypePTZMoved, s.onPTZMoved)
	bus.SubscribeWithHandler(runCtx, service.EventTypeDeviceConnected, s.onTransition(state.KeyAlertStreamLastConnect))
	bus.SubscribeWithHandler(runCtx, service.EventTypeDeviceDisconnected, s.onTransition(state.KeyAlertStreamLastDisconnect))
	bus.SubscribeWithHandler(runCtx, service.EventTypePTZDetected, s.onPTZDetected)

	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop unsubscribes from the event bus
func (s *ActivityService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (s *ActivityService) onSnapshot(ctx context.Context, event service.Event) error {
	path, _ := event.Data["path"].(string)
	rec := state.SnapshotRecord{
		Camera:   s.camera,
		FilePath: path,
		TakenAt:  event.Timestamp,
	}
	if info, err := os.Stat(path); err == nil {
		rec.SizeBytes = info.Size()
	}

	if _, err := s.store.SaveSnapshot(ctx, rec); err != nil {
		s.LogError("Failed to record snapshot", err, "path", path)
		return err
	}
	return nil
}

func (s *ActivityService) onPTZMoved(ctx context.Context, event service.Event) error {
	move := state.PTZMove{
		Camera:    s.camera,
		Azimuth:   intValue(event.Data["azimuth"]),
		Elevation: intValue(event.Data["elevation"]),
		Zoom:      intValue(event.Data["zoom"]),
		MovedAt:   event.Timestamp,
	}

	if _, err := s.store.SavePTZMove(ctx, move); err != nil {
		s.LogError("Failed to record PTZ move", err)
		return err
	}
	return nil
}

// onTransition stores the event time under key
func (s *ActivityService) onTransition(key string) service.EventHandler {
	return func(ctx context.Context, event service.Event) error {
		value := event.Timestamp.UTC().Format(time.RFC3339)
		if err := s.store.SaveSystemState(ctx, key, value); err != nil {
			s.LogError("Failed to save system state", err, "key", key)
			return err
		}
		return nil
	}
}

func (s *ActivityService) onPTZDetected(ctx context.Context, event service.Event) error {
	supported, _ := event.Data["supported"].(bool)
	if err := s.store.SaveSystemState(ctx, state.KeyPTZSupported, strconv.FormatBool(supported)); err != nil {
		s.LogError("Failed to save system state", err, "key", state.KeyPTZSupported)
		return err
	}
	return nil
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
