package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evihost/unifi-cam-proxy/internal/hikvision"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/service"
)

const motionAlert = `<EventNotificationAlert version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<channelID>1</channelID>
<eventType>VMD</eventType>
<eventState>active</eventState>
<eventDescription>Motion alarm</eventDescription>
</EventNotificationAlert>`

const heartbeatAlert = `<EventNotificationAlert version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<eventType>videoloss</eventType>
<eventState>inactive</eventState>
<eventDescription>videoloss alarm</eventDescription>
</EventNotificationAlert>`

type countingSink struct {
	count atomic.Int64
	err   error
}

func (s *countingSink) Signal(ctx context.Context) error {
	s.count.Add(1)
	return s.err
}

// scriptedSource serves one canned body per call, then fails
type scriptedSource struct {
	mu     sync.Mutex
	bodies []string
	calls  int
}

func (s *scriptedSource) OpenAlertStream(ctx context.Context) (*hikvision.AlertStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.bodies) == 0 {
		return nil, errors.New("connection refused")
	}
	body := s.bodies[0]
	s.bodies = s.bodies[1:]
	return hikvision.NewAlertStream(io.NopCloser(strings.NewReader(body)), "application/xml"), nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func stopPoller(t *testing.T, p *Poller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestPoller_ForwardsOnlyMotion(t *testing.T) {
	source := &scriptedSource{bodies: []string{motionAlert + heartbeatAlert + motionAlert}}
	sink := &countingSink{}

	p := NewPoller(PollerConfig{Source: source, Sink: sink, ReconnectDelay: 10 * time.Millisecond}, logger.NewNopLogger())
	require.NoError(t, p.Start(context.Background()))
	defer stopPoller(t, p)

	assert.Eventually(t, func() bool {
		return sink.count.Load() == 2
	}, time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Alerts)
	assert.Equal(t, int64(2), stats.Motions)
	assert.Equal(t, int64(1), stats.Connects)
}

func TestPoller_ReconnectsAfterFailures(t *testing.T) {
	source := &scriptedSource{bodies: []string{
		motionAlert,
		"<EventNotificationAlert><eventType>VMD</Broken>",
		motionAlert,
	}}
	sink := &countingSink{}

	p := NewPoller(PollerConfig{Source: source, Sink: sink, ReconnectDelay: 5 * time.Millisecond}, logger.NewNopLogger())
	require.NoError(t, p.Start(context.Background()))
	defer stopPoller(t, p)

	// Keeps retrying after the scripted bodies run out
	assert.Eventually(t, func() bool {
		return sink.count.Load() == 2 && source.Calls() > 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, service.StatusRunning, p.GetStatus().GetStatus())
}

func TestPoller_SinkErrorsDoNotStopLoop(t *testing.T) {
	source := &scriptedSource{bodies: []string{motionAlert + motionAlert}}
	sink := &countingSink{err: errors.New("debouncer busy")}

	p := NewPoller(PollerConfig{Source: source, Sink: sink, ReconnectDelay: 10 * time.Millisecond}, logger.NewNopLogger())
	require.NoError(t, p.Start(context.Background()))
	defer stopPoller(t, p)

	assert.Eventually(t, func() bool {
		return sink.count.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoller_PublishesConnectionEvents(t *testing.T) {
	bus := service.NewEventBus(10)
	defer bus.Close()
	connected := bus.Subscribe(service.EventTypeDeviceConnected)
	disconnected := bus.Subscribe(service.EventTypeDeviceDisconnected)

	source := &scriptedSource{bodies: []string{motionAlert}}
	p := NewPoller(PollerConfig{Source: source, Sink: &countingSink{}, ReconnectDelay: time.Hour}, logger.NewNopLogger())
	p.SetEventBus(bus)
	require.NoError(t, p.Start(context.Background()))
	defer stopPoller(t, p)

	select {
	case e := <-connected:
		assert.Equal(t, "event-poller", e.Source)
	case <-time.After(time.Second):
		t.Fatal("no device.connected event")
	}

	select {
	case e := <-disconnected:
		assert.Contains(t, e.Data["reason"], "closed by device")
	case <-time.After(time.Second):
		t.Fatal("no device.disconnected event")
	}
}

func TestPoller_StopClosesOpenStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/mixed; boundary=boundary")
		fmt.Fprintf(w, "--boundary\r\nContent-Type: application/xml\r\n\r\n%s\r\n", motionAlert)
		w.(http.Flusher).Flush()
		// Hold the connection open like a real device
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := hikvision.NewClient(hikvision.Config{BaseURL: srv.URL, Auth: hikvision.AuthBasic})
	require.NoError(t, err)

	bus := service.NewEventBus(10)
	defer bus.Close()
	disconnected := bus.Subscribe(service.EventTypeDeviceDisconnected)

	sink := &countingSink{}
	p := NewPoller(PollerConfig{Source: client, Sink: sink}, logger.NewNopLogger())
	p.SetEventBus(bus)
	require.NoError(t, p.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return sink.count.Load() == 1 && p.IsConnected()
	}, 2*time.Second, 5*time.Millisecond)

	stopPoller(t, p)

	select {
	case <-p.Done():
	default:
		t.Fatal("poll loop still running after Stop")
	}
	assert.False(t, p.IsConnected())
	assert.Equal(t, service.StatusStopped, p.GetStatus().GetStatus())

	// A deliberate stop is not a device disconnect
	select {
	case e := <-disconnected:
		t.Fatalf("unexpected device.disconnected on Stop: %v", e.Data)
	default:
	}
	assert.Equal(t, int64(1), p.Stats().Connects)
}

func TestPoller_BacksOffOnRepeatedConnectFailures(t *testing.T) {
	bus := service.NewEventBus(100)
	defer bus.Close()
	disconnected := bus.Subscribe(service.EventTypeDeviceDisconnected)

	source := &scriptedSource{}
	p := NewPoller(PollerConfig{Source: source, Sink: &countingSink{}}, logger.NewNopLogger())
	p.SetEventBus(bus)
	require.NoError(t, p.Start(context.Background()))

	time.Sleep(500 * time.Millisecond)
	stopPoller(t, p)

	// 0, 0, 100ms, 200ms, 400ms: a handful of attempts, not a busy loop
	calls := source.Calls()
	assert.GreaterOrEqual(t, calls, 3)
	assert.LessOrEqual(t, calls, 6)

	// Only the first failure in a run of failures is published
	assert.Len(t, disconnected, 1)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		configured time.Duration
		failures   int
		want       time.Duration
	}{
		{0, 1, 0},
		{0, 2, 100 * time.Millisecond},
		{0, 3, 200 * time.Millisecond},
		{0, 4, 400 * time.Millisecond},
		{0, 20, 5 * time.Second},
		{0, 200, 5 * time.Second},
		{2 * time.Second, 1, 2 * time.Second},
		{2 * time.Second, 2, 2 * time.Second},
		{2 * time.Second, 10, 5 * time.Second},
		{time.Minute, 10, time.Minute},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%d", tt.configured, tt.failures), func(t *testing.T) {
			assert.Equal(t, tt.want, retryDelay(tt.configured, tt.failures))
		})
	}
}

func TestPoller_StartTwice(t *testing.T) {
	p := NewPoller(PollerConfig{Source: &scriptedSource{}, Sink: &countingSink{}, ReconnectDelay: time.Hour}, logger.NewNopLogger())
	require.NoError(t, p.Start(context.Background()))
	defer stopPoller(t, p)

	assert.Error(t, p.Start(context.Background()))
}
