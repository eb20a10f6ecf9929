// ABOUTME: Background sweeper that expires sessions idle past the configured timeout.
// ABOUTME: Uses compare-and-delete so a session touched mid-sweep always survives.

package session

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultReapInterval = 10 * time.Minute
)

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	IdleTimeout time.Duration
	Interval    time.Duration
	Now         func() time.Time

	// OnExpire, if set, is called once per sweep with the removed sessions.
	OnExpire func(expired []Info)
}

// Reaper periodically removes idle sessions from a Store.
type Reaper struct {
	store       *Store
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	onExpire    func([]Info)
	logger      *slog.Logger
}

// NewReaper creates a reaper for store. Zero durations use the defaults.
func NewReaper(store *Store, cfg ReaperConfig) *Reaper {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReapInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{
		store:       store,
		idleTimeout: cfg.IdleTimeout,
		interval:    cfg.Interval,
		now:         cfg.Now,
		onExpire:    cfg.OnExpire,
		logger:      slog.Default().With("component", "session_reaper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("session reaper started", "interval", r.interval, "idle_timeout", r.idleTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep removes every session whose last activity is older than the idle
// timeout and returns what it removed.
func (r *Reaper) Sweep() []Info {
	cutoff := r.now().Add(-r.idleTimeout)

	var expired []Info
	for _, info := range r.store.Snapshot() {
		if !info.LastActivity.Before(cutoff) {
			continue
		}
		if r.store.CompareAndDelete(info.UserID, info.Version) {
			expired = append(expired, info)
		}
	}

	if len(expired) > 0 {
		r.logger.Info("expired idle sessions", "count", len(expired), "remaining", r.store.Count())
		if r.onExpire != nil {
			r.onExpire(expired)
		}
	}
	return expired
}
