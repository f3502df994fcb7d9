// Package schedule runs cancellable periodic and one-shot tasks.
package schedule

import (
	"sync"
	"time"
)

// Handle controls a scheduled task. Cancel prevents future runs; a run
// already in progress is not interrupted.
type Handle struct {
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

func newHandle() *Handle {
	return &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Cancel stops the task. Safe to call more than once and on a nil handle.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
}

// Done is closed once the task goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Every runs fn on each interval tick until cancelled. If initialDelay is
// positive, the first run happens after it instead of after one interval.
func Every(interval, initialDelay time.Duration, fn func()) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)

		if initialDelay > 0 {
			timer := time.NewTimer(initialDelay)
			select {
			case <-timer.C:
				if h.Cancelled() {
					return
				}
				fn()
			case <-h.stop:
				timer.Stop()
				return
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if h.Cancelled() {
					return
				}
				fn()
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

// After runs fn once after delay unless cancelled first.
func After(delay time.Duration, fn func()) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if h.Cancelled() {
				return
			}
			fn()
		case <-h.stop:
		}
	}()
	return h
}

// Group cancels a set of handles together.
type Group struct {
	mu      sync.Mutex
	handles []*Handle
}

// Add tracks h and returns it.
func (g *Group) Add(h *Handle) *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	live := g.handles[:0]
	for _, existing := range g.handles {
		if !existing.Cancelled() && !isDone(existing) {
			live = append(live, existing)
		}
	}
	g.handles = append(live, h)
	return h
}

// CancelAll cancels every tracked handle.
func (g *Group) CancelAll() {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Len returns the number of tracked handles that may still run.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, h := range g.handles {
		if !h.Cancelled() && !isDone(h) {
			n++
		}
	}
	return n
}

func isDone(h *Handle) bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
