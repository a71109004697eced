package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/messaging"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/state"
)

type countingSink struct {
	starts, stops int
	err           error
}

func (s *countingSink) OnMotionStart(ctx context.Context) error {
	s.starts++
	return s.err
}

func (s *countingSink) OnMotionStop(ctx context.Context) error {
	s.stops++
	return s.err
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	messages []messaging.MotionMessage
}

func (p *fakePublisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.messages = append(p.messages, data.(messaging.MotionMessage))
	return nil
}

func newStore(t *testing.T) *state.Manager {
	t.Helper()
	store, err := state.NewManagerWithPath(filepath.Join(t.TempDir(), "db", "adapter.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecorder_FailingSinkDoesNotBlockOthers(t *testing.T) {
	failing := &countingSink{err: errors.New("disk full")}
	healthy := &countingSink{}
	r := New(logger.NewNopLogger(), failing, healthy)

	err := r.OnMotionStart(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, healthy.starts)

	err = r.OnMotionStop(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, healthy.stops)
}

func TestRecorder_NoSinks(t *testing.T) {
	r := New(nil)
	assert.NoError(t, r.OnMotionStart(context.Background()))
	assert.NoError(t, r.OnMotionStop(context.Background()))

	sink := &countingSink{}
	r.Add(sink)
	assert.NoError(t, r.OnMotionStart(context.Background()))
	assert.Equal(t, 1, sink.starts)
}

func TestIntervalSink(t *testing.T) {
	store := newStore(t)
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	sink := &IntervalSink{Store: store, Camera: "front-door", Now: func() time.Time { return now }}

	ctx := context.Background()
	require.NoError(t, sink.OnMotionStart(ctx))
	now = now.Add(8 * time.Second)
	require.NoError(t, sink.OnMotionStop(ctx))

	intervals, err := store.ListMotionIntervals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, "front-door", intervals[0].Camera)
	require.NotNil(t, intervals[0].EndedAt)
	assert.Equal(t, 8*time.Second, intervals[0].Duration())
}

func TestBusSink(t *testing.T) {
	bus := service.NewEventBus(10)
	defer bus.Close()
	events := bus.SubscribeAll()

	sink := &BusSink{Bus: bus, Camera: "front-door"}
	require.NoError(t, sink.OnMotionStart(context.Background()))
	require.NoError(t, sink.OnMotionStop(context.Background()))

	first := <-events
	second := <-events
	assert.Equal(t, service.EventTypeMotionStarted, first.Type)
	assert.Equal(t, service.EventTypeMotionStopped, second.Type)
	assert.Equal(t, "front-door", first.Data["camera"])
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := &NATSSink{Publisher: pub, Subject: "camera.motion", Camera: "front-door"}

	require.NoError(t, sink.OnMotionStart(context.Background()))
	require.NoError(t, sink.OnMotionStop(context.Background()))

	require.Len(t, pub.messages, 2)
	assert.Equal(t, []string{"camera.motion", "camera.motion"}, pub.subjects)
	assert.Equal(t, "motion.started", pub.messages[0].Event)
	assert.Equal(t, "motion.stopped", pub.messages[1].Event)
	assert.Equal(t, "front-door", pub.messages[0].Camera)
}

func TestActivityService(t *testing.T) {
	store := newStore(t)
	bus := service.NewEventBus(10)
	defer bus.Close()

	svc := NewActivityService(store, "front-door", logger.NewNopLogger())
	svc.SetEventBus(bus)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	snapPath := filepath.Join(t.TempDir(), "screen.jpg")
	require.NoError(t, os.WriteFile(snapPath, []byte("jpeg-data"), 0644))

	bus.Publish(service.Event{Type: service.EventTypeSnapshotTaken, Data: map[string]interface{}{"path": snapPath}})
	bus.Publish(service.Event{Type: service.EventTypePTZMoved, Data: map[string]interface{}{
		"azimuth": 900, "elevation": 450, "zoom": 40,
	}})

	ctx := context.Background()
	assert.Eventually(t, func() bool {
		snaps, err := store.ListSnapshots(ctx, 10)
		return err == nil && len(snaps) == 1 && snaps[0].SizeBytes == int64(len("jpeg-data"))
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		moves, err := store.ListPTZMoves(ctx, 10)
		return err == nil && len(moves) == 1 && moves[0].Azimuth == 900 && moves[0].Zoom == 40
	}, time.Second, 10*time.Millisecond)
}

func TestActivityService_PersistsSystemState(t *testing.T) {
	store := newStore(t)
	bus := service.NewEventBus(10)
	defer bus.Close()

	svc := NewActivityService(store, "front-door", logger.NewNopLogger())
	svc.SetEventBus(bus)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	connectedAt := time.Date(2024, 1, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	bus.Publish(service.Event{Type: service.EventTypeDeviceConnected, Timestamp: connectedAt})
	bus.Publish(service.Event{Type: service.EventTypeDeviceDisconnected, Timestamp: connectedAt.Add(time.Minute)})
	bus.Publish(service.Event{Type: service.EventTypePTZDetected, Data: map[string]interface{}{"supported": true}})

	ctx := context.Background()
	stateEquals := func(key, want string) func() bool {
		return func() bool {
			got, err := store.GetSystemState(ctx, key)
			return err == nil && got == want
		}
	}
	assert.Eventually(t, stateEquals(state.KeyAlertStreamLastConnect, "2024-01-02T09:00:00Z"), time.Second, 10*time.Millisecond)
	assert.Eventually(t, stateEquals(state.KeyAlertStreamLastDisconnect, "2024-01-02T09:01:00Z"), time.Second, 10*time.Millisecond)
	assert.Eventually(t, stateEquals(state.KeyPTZSupported, "true"), time.Second, 10*time.Millisecond)

	// Survives a restart through state recovery
	recovered, err := store.RecoverState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T09:00:00Z", recovered.SystemState[state.KeyAlertStreamLastConnect])
	assert.Equal(t, "true", recovered.SystemState[state.KeyPTZSupported])
}

func TestActivityService_RequiresBus(t *testing.T) {
	svc := NewActivityService(newStore(t), "cam", logger.NewNopLogger())
	assert.Error(t, svc.Start(context.Background()))
}
