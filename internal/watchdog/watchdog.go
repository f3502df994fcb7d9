// Package watchdog tracks whether the learner is still interacting and
// reports edge transitions between active and idle.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultIdleThreshold = 60 * time.Second
)

// Watchdog flips between active and idle on poll, never on Touch.
type Watchdog struct {
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	active   bool
	onIdle   func()
	onActive func()
}

// New creates a watchdog that starts active. Zero durations take the defaults.
func New(interval, threshold time.Duration, logger *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		interval:  interval,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		last:      time.Now(),
		active:    true,
	}
}

// SetClock replaces the time source and counts the new now as activity.
func (w *Watchdog) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
	w.last = now()
}

// OnIdle registers the callback fired on the active to idle edge.
func (w *Watchdog) OnIdle(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onIdle = fn
}

// OnActive registers the callback fired on the idle to active edge.
func (w *Watchdog) OnActive(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onActive = fn
}

// Touch records pointer, keyboard or scroll activity.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = w.now()
}

// Active reports the state as of the last poll.
func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// LastActivity returns when Touch was last called.
func (w *Watchdog) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Check evaluates the state at now and fires at most one callback.
// It returns whether the learner is active.
func (w *Watchdog) Check(now time.Time) bool {
	w.mu.Lock()
	idle := now.Sub(w.last) >= w.threshold
	var fire func()
	switch {
	case idle && w.active:
		w.active = false
		fire = w.onIdle
		w.logger.Debug("[WATCHDOG] Learner idle", "since", w.last)
	case !idle && !w.active:
		w.active = true
		fire = w.onActive
		w.logger.Debug("[WATCHDOG] Learner active again")
	}
	active := w.active
	w.mu.Unlock()

	if fire != nil {
		fire()
	}
	return active
}

// Run polls until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			now := w.now()
			w.mu.Unlock()
			w.Check(now)
		case <-ctx.Done():
			return
		}
	}
}
