// Package monitor runs the background sweeps that keep the session
// population healthy: an inactivity cleanup and a periodic health
// snapshot. Both are also callable on demand from admin endpoints.
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/vantrex/warelay/internal/credstore"
	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/registry"
	"github.com/vantrex/warelay/internal/store"
)

// Config tunes the monitor intervals and thresholds.
type Config struct {
	CleanupInterval  time.Duration // how often the inactivity sweep runs
	CleanupThreshold time.Duration // inactivity age before a session is purged
	HealthInterval   time.Duration // how often health snapshots are taken
	DisconnectGrace  time.Duration // disconnected-longer-than-this gets flagged
}

// Monitor owns both periodic tasks.
type Monitor struct {
	repo  store.Repository
	creds credstore.Store
	reg   *registry.Registry
	cfg   Config
}

// New creates a monitor over the given registry and stores.
func New(repo store.Repository, creds credstore.Store, reg *registry.Registry, cfg Config) *Monitor {
	return &Monitor{repo: repo, creds: creds, reg: reg, cfg: cfg}
}

// Start launches both background workers. They stop when ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	go m.runWorker(ctx, "cleanup", m.cfg.CleanupInterval, func(ctx context.Context) {
		if _, err := m.RunCleanup(ctx); err != nil {
			slog.Error("Cleanup sweep failed", "error", err)
		}
	})
	go m.runWorker(ctx, "health", m.cfg.HealthInterval, func(ctx context.Context) {
		if err := m.RunHealthCheck(ctx); err != nil {
			slog.Error("Health snapshot failed", "error", err)
		}
	})
}

func (m *Monitor) runWorker(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Monitor worker started", "worker", name, "interval", interval)

	for {
		select {
		case <-ticker.C:
			task(ctx)
		case <-ctx.Done():
			slog.Info("Monitor worker shutting down", "worker", name, "reason", ctx.Err())
			return
		}
	}
}

// RunCleanup purges sessions that have been disconnected past the
// inactivity threshold: all dependent records are cascade-deleted and
// any live handle is dropped. Per-session errors are logged and
// swallowed so one bad session cannot halt the sweep.
func (m *Monitor) RunCleanup(ctx context.Context) (int, error) {
	expired, err := m.repo.GetExpiredSessions(ctx, m.cfg.CleanupThreshold)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	slog.Info("Cleanup sweep found expired sessions", "count", len(expired))

	cleaned := 0
	for _, sess := range expired {
		slog.Info("Cleaning up expired session",
			"session_id", sess.SessionID,
			"last_activity", sess.LastActivity)

		if err := m.repo.DeleteSessionCascade(ctx, sess.SessionID); err != nil {
			slog.Error("Failed to cascade-delete session", "session_id", sess.SessionID, "error", err)
			continue
		}
		// The filesystem credential backend lives outside the cascade.
		if err := m.creds.Clear(ctx, sess.SessionID); err != nil {
			slog.Warn("Failed to clear credentials", "session_id", sess.SessionID, "error", err)
		}
		m.reg.Remove(sess.SessionID)
		cleaned++
	}

	slog.Info("Cleanup sweep completed", "cleaned", cleaned)
	return cleaned, nil
}

// RunHealthCheck writes a liveness timestamp and an approximate memory
// share for every live handle, and flags (log-only) sessions that have
// been disconnected longer than the grace window.
func (m *Monitor) RunHealthCheck(ctx context.Context) error {
	live := m.reg.Live()
	if len(live) == 0 {
		return nil
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	perSession := int64(stats.HeapInuse) / int64(len(live)) // approximation

	now := time.Now()
	for _, h := range live {
		if err := m.repo.UpdateSessionHealth(ctx, h.SessionID, perSession, now); err != nil {
			slog.Warn("Failed to write health snapshot", "session_id", h.SessionID, "error", err)
			continue
		}
		if !h.Connected && now.Sub(h.LastSeen) > m.cfg.DisconnectGrace {
			slog.Warn("Session disconnected past grace window",
				"session_id", h.SessionID,
				"disconnected_for", now.Sub(h.LastSeen))
		}
	}

	slog.Debug("Health snapshot written", "sessions", len(live))
	return nil
}

// ProblematicSessions lists sessions an operator should look at.
func (m *Monitor) ProblematicSessions(ctx context.Context, attemptThreshold int) ([]*domain.Session, error) {
	sessions, err := m.repo.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	problematic := make([]*domain.Session, 0)
	for _, sess := range sessions {
		if sess.Problematic(attemptThreshold) {
			problematic = append(problematic, sess)
		}
	}
	return problematic, nil
}
