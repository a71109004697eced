// Package motion turns a stream of raw motion alarms into start and stop
// edges. Every alarm extends motion by a fixed timeout; overlapping alarms are
// reference counted so motion ends one timeout after the last alarm.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
)

// DefaultTimeout is how long a single alarm keeps motion active
const DefaultTimeout = 5 * time.Second

// ErrStopped is returned when submitting to a debouncer whose run loop has ended
var ErrStopped = errors.New("motion debouncer stopped")

// Handler receives motion edges. Calls are made from the debouncer goroutine
// one at a time.
type Handler interface {
	OnMotionStart(ctx context.Context) error
	OnMotionStop(ctx context.Context) error
}

// Signal is one observed motion alarm
type Signal struct{}

// State is a snapshot of the debouncer state
type State struct {
	ActiveCount int           `json:"active_count"`
	Timeout     time.Duration `json:"timeout"`
}

// Active reports whether motion is currently in progress
func (s State) Active() bool {
	return s.ActiveCount > 0
}

// Debouncer owns the motion state. All mutations happen on the goroutine
// running Run; other goroutines talk to it through channels.
type Debouncer struct {
	handler Handler
	timeout time.Duration
	logger  *logger.Logger

	signals  chan Signal
	expiries chan uint64
	queries  chan chan State
	done     chan struct{}
	running  atomic.Bool
}

// New creates a debouncer. A zero timeout uses DefaultTimeout.
func New(handler Handler, timeout time.Duration, log *logger.Logger) *Debouncer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Debouncer{
		handler:  handler,
		timeout:  timeout,
		logger:   log.Named("debouncer"),
		signals:  make(chan Signal, 16),
		expiries: make(chan uint64),
		queries:  make(chan chan State),
		done:     make(chan struct{}),
	}
}

// Timeout returns the per-alarm timeout
func (d *Debouncer) Timeout() time.Duration {
	return d.timeout
}

// Signal submits one motion alarm
func (d *Debouncer) Signal(ctx context.Context) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.signals <- Signal{}:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state as seen by the run loop
func (d *Debouncer) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case d.queries <- reply:
	case <-d.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Done is closed once Run has returned
func (d *Debouncer) Done() <-chan struct{} {
	return d.done
}

// Run processes signals and timer expiries until ctx is cancelled. Pending
// timers are stopped on return and no stop edge is emitted for them.
func (d *Debouncer) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("motion debouncer already running")
	}
	defer close(d.done)

	loop := &runLoop{
		d:      d,
		timers: make(map[uint64]*time.Timer),
	}
	defer loop.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.signals:
			loop.onSignal(ctx)
		case id := <-d.expiries:
			loop.onExpiry(ctx, id)
		case reply := <-d.queries:
			reply <- State{ActiveCount: loop.active, Timeout: d.timeout}
		}
	}
}

// runLoop is the state owned by the Run goroutine
type runLoop struct {
	d      *Debouncer
	active int
	nextID uint64
	timers map[uint64]*time.Timer
}

func (l *runLoop) onSignal(ctx context.Context) {
	if l.active == 0 {
		l.d.logger.Info("Motion detected")
		l.call(ctx, "start")
	}
	l.active++

	l.nextID++
	id := l.nextID
	l.timers[id] = time.AfterFunc(l.d.timeout, func() {
		select {
		case l.d.expiries <- id:
		case <-l.d.done:
		}
	})
	l.d.logger.Debug("Motion alarm", "active", l.active)
}

func (l *runLoop) onExpiry(ctx context.Context, id uint64) {
	if _, ok := l.timers[id]; !ok {
		return
	}
	delete(l.timers, id)

	if l.active == 0 {
		return
	}
	l.active--
	if l.active == 0 {
		l.d.logger.Info("Motion ended")
		l.call(ctx, "stop")
	}
}

// call invokes a handler callback. Errors and panics are logged and never
// reach the counter.
func (l *runLoop) call(ctx context.Context, edge string) {
	if l.d.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.d.logger.Error("Motion handler panicked", "edge", edge, "panic", fmt.Sprint(r))
		}
	}()

	var err error
	if edge == "start" {
		err = l.d.handler.OnMotionStart(ctx)
	} else {
		err = l.d.handler.OnMotionStop(ctx)
	}
	if err != nil {
		l.d.logger.Error("Motion handler failed", "edge", edge, "error", err)
	}
}

func (l *runLoop) stopTimers() {
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
}
