// Package recorder keeps a bounded, time-ordered window of captured events.
package recorder

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/ring"
	"github.com/ashureev/shsh-signals/internal/schedule"
)

const (
	// DefaultMaxEvents bounds the buffer when no size is given.
	DefaultMaxEvents = 20000
	// DefaultMaxDuration stops a recording that is never stopped explicitly.
	DefaultMaxDuration = 60 * time.Second
)

// ErrAlreadyRecording is returned by Start while a recording is active.
var ErrAlreadyRecording = errors.New("recording already active")

// Recorder accumulates events from the capture stream into a capped buffer.
// Copies returned by Snapshot and Stop belong to the caller.
type Recorder struct {
	mu         sync.Mutex
	events     *ring.Buffer[domain.RawEvent]
	maxEvents  int
	active     bool
	startTime  int64
	lastFull   *domain.RawEvent
	evicted    int
	generation uint64
	autoStop   *schedule.Handle
	onAutoStop func(*domain.RecordingSession)
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a recorder holding at most maxEvents events.
func New(maxEvents int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Recorder{
		events:    ring.New[domain.RawEvent](maxEvents),
		maxEvents: maxEvents,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the clock used for start and end times.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// OnAutoStop registers a callback receiving the session closed by the duration timer.
func (r *Recorder) OnAutoStop(fn func(*domain.RecordingSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAutoStop = fn
}

// Start begins accepting events. The recording stops on its own after maxDuration.
func (r *Recorder) Start(maxDuration time.Duration) error {
	return r.StartWith(maxDuration, nil)
}

// StartWith begins a recording whose buffer already holds seed, used to
// carry the tail of a closed segment into the next one.
func (r *Recorder) StartWith(maxDuration time.Duration, seed []domain.RawEvent) error {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		r.logger.Warn("[RECORDER] Start called while recording")
		return ErrAlreadyRecording
	}

	r.events.Reset()
	r.lastFull = nil
	r.evicted = 0
	r.active = true
	r.startTime = domain.Millis(r.now())
	r.generation++
	for _, e := range seed {
		if e.IsFullSnapshot() {
			snap := e
			r.lastFull = &snap
		}
		r.events.Push(e)
	}

	gen := r.generation
	r.autoStop = schedule.After(maxDuration, func() { r.expire(gen) })

	r.logger.Debug("[RECORDER] Recording started", "max_events", r.maxEvents, "max_duration", maxDuration, "seeded", len(seed))
	return nil
}

func (r *Recorder) expire(gen uint64) {
	r.mu.Lock()
	if !r.active || r.generation != gen {
		r.mu.Unlock()
		return
	}
	session := r.stopLocked()
	cb := r.onAutoStop
	r.mu.Unlock()

	r.logger.Info("[RECORDER] Recording reached max duration", "events", len(session.Events))
	if cb != nil {
		cb(session)
	}
}

// Emit receives one event from the capture stream. Events arriving while
// no recording is active are dropped.
func (r *Recorder) Emit(e domain.RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}
	if e.IsFullSnapshot() {
		snap := e
		r.lastFull = &snap
	}
	if _, dropped := r.events.Push(e); dropped {
		r.evicted++
	}
}

// Snapshot returns a copy of the live buffer without stopping capture.
// It returns nil when no recording is active.
func (r *Recorder) Snapshot() *domain.RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}
	return &domain.RecordingSession{
		Events:    r.copyLocked(),
		StartTime: r.startTime,
	}
}

// Stop halts capture and returns the final session, or nil when not recording.
func (r *Recorder) Stop() *domain.RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}
	return r.stopLocked()
}

func (r *Recorder) stopLocked() *domain.RecordingSession {
	end := domain.Millis(r.now())
	session := &domain.RecordingSession{
		Events:    r.copyLocked(),
		StartTime: r.startTime,
		EndTime:   &end,
	}

	r.autoStop.Cancel()
	r.autoStop = nil
	r.active = false
	r.generation++
	r.events.Reset()
	r.lastFull = nil

	if r.evicted > 0 {
		r.logger.Debug("[RECORDER] Recording stopped with evictions", "evicted", r.evicted)
	}
	return session
}

// copyLocked returns the buffered events, putting the latest full snapshot
// back in front if eviction pushed it out.
func (r *Recorder) copyLocked() []domain.RawEvent {
	items := r.events.Items()
	if r.lastFull == nil {
		return items
	}
	for _, e := range items {
		if e.IsFullSnapshot() {
			return items
		}
	}
	if len(items) >= r.maxEvents {
		items = items[1:]
	}
	out := make([]domain.RawEvent, 0, len(items)+1)
	out = append(out, *r.lastFull)
	return append(out, items...)
}

// IsActive reports whether events are being accepted.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	return r.events.Len()
}

// Evicted returns how many events the current recording has dropped.
func (r *Recorder) Evicted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Reset discards buffered events and stops the recording without returning it.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.autoStop.Cancel()
	r.autoStop = nil
	r.active = false
	r.generation++
	r.events.Reset()
	r.lastFull = nil
	r.evicted = 0
}
