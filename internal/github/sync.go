package github

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/reconcile"
)

// SyncFunc performs one synchronization with upstream.
type SyncFunc func(ctx context.Context) error

// SyncOptions configures a SyncManager.
type SyncOptions struct {
	// Interval re-runs the sync after this much idle time. Zero disables
	// periodic syncing.
	Interval time.Duration
	// Throttle is the minimum time between two sync starts.
	Throttle time.Duration
	// OnSync observes every finished run.
	OnSync func(d time.Duration, err error)
}

// SyncManager runs a SyncFunc on demand and periodically, never
// concurrently and at most once per throttle window. It stops when its
// context is done.
type SyncManager struct {
	ctx    context.Context
	fn     SyncFunc
	opts   SyncOptions
	logger *zerolog.Logger

	throttle *reconcile.Throttle

	mu      sync.Mutex
	ready   bool
	stopped bool
	idle    *time.Timer
}

// NewSyncManager creates a manager bound to ctx.
func NewSyncManager(ctx context.Context, fn SyncFunc, opts SyncOptions, logger *zerolog.Logger) *SyncManager {
	m := &SyncManager{
		ctx:    ctx,
		fn:     fn,
		opts:   opts,
		logger: logging.OrNop(logger),
	}
	m.throttle = reconcile.NewThrottle(m.run, opts.Throttle)
	context.AfterFunc(ctx, m.stop)
	return m
}

// Start triggers the initial sync.
func (m *SyncManager) Start() {
	m.Sync()
}

// Sync requests a run. Requests made while a run is in progress or during
// the throttle window collapse into one trailing run.
func (m *SyncManager) Sync() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopIdle()
	m.mu.Unlock()
	m.throttle.Trigger()
}

// Ready reports whether a sync has succeeded at least once.
func (m *SyncManager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Wait blocks until no run is in progress.
func (m *SyncManager) Wait() {
	m.throttle.Wait()
}

func (m *SyncManager) run() {
	if m.ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := m.fn(m.ctx)
	if m.opts.OnSync != nil {
		m.opts.OnSync(time.Since(start), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to synchronize tickets")
	} else {
		m.ready = true
	}
	if m.stopped || m.opts.Interval <= 0 {
		return
	}
	m.stopIdle()
	m.idle = time.AfterFunc(m.opts.Interval, m.Sync)
}

func (m *SyncManager) stop() {
	m.mu.Lock()
	m.stopped = true
	m.stopIdle()
	m.mu.Unlock()
	m.throttle.Cancel()
}

// stopIdle disarms the idle timer. Callers hold mu.
func (m *SyncManager) stopIdle() {
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
}
