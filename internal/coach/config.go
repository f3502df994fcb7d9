package coach

import (
	"time"

	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/navigation"
)

// Config tunes the per-session tasks and the manager. Zero fields take
// the values from DefaultConfig.
type Config struct {
	NavigationInterval     time.Duration
	NavigationCooldown     time.Duration
	ContextualInterval     time.Duration
	ContextualInitialDelay time.Duration
	ContextualCooldown     time.Duration
	ReanalysisDelay        time.Duration
	AutosaveInterval       time.Duration

	RecordingMaxEvents int
	RecordingSegment   time.Duration
	MaxEncodedSize     int

	WatchdogPoll  time.Duration
	IdleThreshold time.Duration

	MaxErrors  int
	MaxMarkers int

	WorkerPoolSize int
	JobQueueSize   int
	OutboundBuffer int

	SessionTTL         time.Duration
	RecordingRetention time.Duration
	SweepInterval      time.Duration

	Navigation navigation.Thresholds
	Contextual contextual.Thresholds
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		NavigationInterval:     30 * time.Second,
		NavigationCooldown:     2 * time.Minute,
		ContextualInterval:     15 * time.Second,
		ContextualInitialDelay: 10 * time.Second,
		ContextualCooldown:     3 * time.Minute,
		ReanalysisDelay:        time.Second,
		AutosaveInterval:       60 * time.Second,
		RecordingMaxEvents:     20000,
		RecordingSegment:       10 * time.Minute,
		MaxEncodedSize:         4 << 20,
		WatchdogPoll:           5 * time.Second,
		IdleThreshold:          60 * time.Second,
		MaxErrors:              50,
		MaxMarkers:             20,
		WorkerPoolSize:         10,
		JobQueueSize:           100,
		OutboundBuffer:         16,
		SessionTTL:             30 * time.Minute,
		RecordingRetention:     7 * 24 * time.Hour,
		SweepInterval:          5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	durations := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&c.NavigationInterval, d.NavigationInterval},
		{&c.NavigationCooldown, d.NavigationCooldown},
		{&c.ContextualInterval, d.ContextualInterval},
		{&c.ContextualInitialDelay, d.ContextualInitialDelay},
		{&c.ContextualCooldown, d.ContextualCooldown},
		{&c.ReanalysisDelay, d.ReanalysisDelay},
		{&c.AutosaveInterval, d.AutosaveInterval},
		{&c.RecordingSegment, d.RecordingSegment},
		{&c.WatchdogPoll, d.WatchdogPoll},
		{&c.IdleThreshold, d.IdleThreshold},
		{&c.SessionTTL, d.SessionTTL},
		{&c.RecordingRetention, d.RecordingRetention},
		{&c.SweepInterval, d.SweepInterval},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	ints := []struct {
		v   *int
		def int
	}{
		{&c.RecordingMaxEvents, d.RecordingMaxEvents},
		{&c.MaxEncodedSize, d.MaxEncodedSize},
		{&c.MaxErrors, d.MaxErrors},
		{&c.MaxMarkers, d.MaxMarkers},
		{&c.WorkerPoolSize, d.WorkerPoolSize},
		{&c.JobQueueSize, d.JobQueueSize},
		{&c.OutboundBuffer, d.OutboundBuffer},
	}
	for _, f := range ints {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	return c
}
