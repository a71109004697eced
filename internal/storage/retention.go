// Package storage enforces retention of the adapter's persisted history.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/service"
)

const (
	defaultRetention = 7 * 24 * time.Hour
	defaultInterval  = time.Hour
)

// Cleaner removes records finished before now-olderThan
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// RetentionService periodically removes expired motion, snapshot and PTZ
// records
type RetentionService struct {
	*service.ServiceBase
	store     Cleaner
	retention time.Duration
	interval  time.Duration

	mu        sync.Mutex
	enforcing bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRetentionService creates a new retention service
func NewRetentionService(store Cleaner, retention, interval time.Duration, log *logger.Logger) *RetentionService {
	if retention <= 0 {
		retention = defaultRetention
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	return &RetentionService{
		ServiceBase: service.NewServiceBase("retention", log),
		store:       store,
		retention:   retention,
		interval:    interval,
	}
}

// Start runs an initial cleanup and schedules the periodic one
func (r *RetentionService) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("retention service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.LogInfo("Retention service started",
		"retention", r.retention.String(),
		"interval", r.interval.String(),
	)

	go r.loop(runCtx)

	r.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops the periodic cleanup
func (r *RetentionService) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (r *RetentionService) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Enforce(ctx); err != nil && ctx.Err() == nil {
			r.LogWarn("Retention enforcement failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Enforce removes records older than the retention period
func (r *RetentionService) Enforce(ctx context.Context) error {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return fmt.Errorf("retention policy is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	if r.store == nil {
		return nil
	}

	if err := r.store.Cleanup(ctx, r.retention); err != nil {
		return fmt.Errorf("failed to enforce retention: %w", err)
	}
	r.LogDebug("Retention enforced")
	return nil
}
