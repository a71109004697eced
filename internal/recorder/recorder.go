// Package recorder fans motion edges out to the host-side sinks and keeps
// a history of adapter activity.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/messaging"
	"github.com/evihost/unifi-cam-proxy/internal/motion"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/state"
)

// Recorder is a motion handler that forwards each edge to every sink.
// A failing sink does not prevent the others from running.
type Recorder struct {
	sinks  []motion.Handler
	logger *logger.Logger
}

// Compile-time check
var _ motion.Handler = (*Recorder)(nil)

// New creates a recorder over sinks
func New(log *logger.Logger, sinks ...motion.Handler) *Recorder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Recorder{
		sinks:  sinks,
		logger: log.Named("recorder"),
	}
}

// Add appends a sink
func (r *Recorder) Add(sink motion.Handler) {
	r.sinks = append(r.sinks, sink)
}

// OnMotionStart forwards a start edge
func (r *Recorder) OnMotionStart(ctx context.Context) error {
	return r.fanOut(ctx, "start", func(s motion.Handler) error { return s.OnMotionStart(ctx) })
}

// OnMotionStop forwards a stop edge
func (r *Recorder) OnMotionStop(ctx context.Context) error {
	return r.fanOut(ctx, "stop", func(s motion.Handler) error { return s.OnMotionStop(ctx) })
}

func (r *Recorder) fanOut(ctx context.Context, edge string, call func(motion.Handler) error) error {
	var errs []error
	for _, sink := range r.sinks {
		if err := call(sink); err != nil {
			r.logger.Warn("Motion sink failed", "edge", edge, "sink", fmt.Sprintf("%T", sink), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IntervalSink persists motion intervals
type IntervalSink struct {
	Store  *state.Manager
	Camera string
	Now    func() time.Time
}

func (s *IntervalSink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// OnMotionStart opens an interval
func (s *IntervalSink) OnMotionStart(ctx context.Context) error {
	_, err := s.Store.StartMotionInterval(ctx, s.Camera, s.now())
	return err
}

// OnMotionStop closes the open interval
func (s *IntervalSink) OnMotionStop(ctx context.Context) error {
	return s.Store.EndMotionInterval(ctx, s.Camera, s.now())
}

// BusSink publishes motion edges on the in-process event bus
type BusSink struct {
	Bus    *service.EventBus
	Camera string
}

// OnMotionStart publishes motion.started
func (s *BusSink) OnMotionStart(ctx context.Context) error {
	s.publish(service.EventTypeMotionStarted)
	return nil
}

// OnMotionStop publishes motion.stopped
func (s *BusSink) OnMotionStop(ctx context.Context) error {
	s.publish(service.EventTypeMotionStopped)
	return nil
}

func (s *BusSink) publish(eventType service.EventType) {
	s.Bus.Publish(service.Event{
		Type:   eventType,
		Source: "recorder",
		Data: map[string]interface{}{
			"camera": s.Camera,
		},
	})
}

// Publisher publishes a JSON-encoded message
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// NATSSink publishes motion edges to NATS
type NATSSink struct {
	Publisher Publisher
	Subject   string
	Camera    string
}

// OnMotionStart publishes a motion.started message
func (s *NATSSink) OnMotionStart(ctx context.Context) error {
	return s.publish(string(service.EventTypeMotionStarted))
}

// OnMotionStop publishes a motion.stopped message
func (s *NATSSink) OnMotionStop(ctx context.Context) error {
	return s.publish(string(service.EventTypeMotionStopped))
}

func (s *NATSSink) publish(event string) error {
	return s.Publisher.Publish(s.Subject, messaging.MotionMessage{
		Camera:    s.Camera,
		Event:     event,
		Timestamp: time.Now().UTC(),
	})
}
