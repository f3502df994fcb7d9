package coach

import (
	"sync"
	"time"
)

// Cooldown lets one intervention through per period.
type Cooldown struct {
	mu     sync.Mutex
	period time.Duration
	now    func() time.Time
	last   time.Time
}

// NewCooldown creates an open cooldown.
func NewCooldown(period time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{period: period, now: now}
}

// Allow reports whether the period has elapsed and, if so, starts a new one.
func (c *Cooldown) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.period {
		return false
	}
	c.last = now
	return true
}

// Remaining returns how long until Allow succeeds again.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.IsZero() {
		return 0
	}
	left := c.period - c.now().Sub(c.last)
	if left < 0 {
		return 0
	}
	return left
}

// Reset reopens the cooldown.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Time{}
}
