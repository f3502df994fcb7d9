package coach

import (
	"context"
	"time"
)

// CleanupCallback is called for each session closed by the sweeper.
type CleanupCallback func(userID, sessionID string)

// StartSweeper runs a background goroutine that periodically closes idle
// sessions and purges recordings past their retention.
func (m *Manager) StartSweeper(ctx context.Context, onCleanup CleanupCallback) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("[COACH] Sweeper started",
			"interval", m.cfg.SweepInterval,
			"session_ttl", m.cfg.SessionTTL,
			"retention", m.cfg.RecordingRetention,
		)

		for {
			select {
			case <-ticker.C:
				m.sweep(ctx, m.now(), onCleanup)
			case <-ctx.Done():
				m.logger.Info("[COACH] Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// sweep closes sessions idle since before now-SessionTTL and deletes
// recordings older than now-RecordingRetention.
func (m *Manager) sweep(ctx context.Context, now time.Time, onCleanup CleanupCallback) (closed int, purged int64) {
	cutoff := now.Add(-m.cfg.SessionTTL)

	m.mu.RLock()
	var expired []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		if err := m.Close(ctx, s.UserID, s.SessionID); err != nil {
			// Closed concurrently by its owner.
			continue
		}
		closed++
		m.logger.Info("[COACH] Sweeper closed idle session",
			"user_id", s.UserID,
			"session_id", s.SessionID,
		)
		if onCleanup != nil {
			onCleanup(s.UserID, s.SessionID)
		}
	}

	if m.repo != nil {
		n, err := m.repo.DeleteRecordingsBefore(ctx, now.Add(-m.cfg.RecordingRetention))
		if err != nil {
			m.logger.Error("[COACH] Sweeper failed to purge recordings", "error", err)
		} else {
			purged = n
		}
	}

	if closed > 0 || purged > 0 {
		m.logger.Info("[COACH] Sweep complete", "closed_sessions", closed, "purged_recordings", purged)
	}
	return closed, purged
}

// SetClock overrides the clock. Sessions opened afterwards use it too.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
