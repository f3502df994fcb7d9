package navigation

import "time"

// Thresholds configures a Detector. Zero fields take the defaults; any
// other value, negative included, is used as given without validation.
// A negative WarmUp disables the warm-up gate.
type Thresholds struct {
	WarmUp                 time.Duration
	AnalysisWindow         time.Duration
	Inactivity             time.Duration
	InactivityEscalation   time.Duration
	RepetitiveCycles       int
	FailedAttempts         int
	FailedAttemptsTrailing int // events after the last submit below which the learner is still stuck
	ScrollDirectionChanges int
	ScrollActiveSeconds    int
	ScrollEventsPerSecond  int
	ScrollMinInteractions  int
	DeleteKeys             int
	ErroneousClicks        int
	MinClicks              int
	InterventionScore      float64
	ImmediateScore         float64
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarmUp:                 45 * time.Second,
		AnalysisWindow:         180 * time.Second,
		Inactivity:             120 * time.Second,
		InactivityEscalation:   180 * time.Second,
		RepetitiveCycles:       5,
		FailedAttempts:         3,
		FailedAttemptsTrailing: 10,
		ScrollDirectionChanges: 4,
		ScrollActiveSeconds:    15,
		ScrollEventsPerSecond:  50,
		ScrollMinInteractions:  10,
		DeleteKeys:             10,
		ErroneousClicks:        5,
		MinClicks:              5,
		InterventionScore:      0.6,
		ImmediateScore:         0.9,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.WarmUp == 0 {
		t.WarmUp = d.WarmUp
	}
	if t.AnalysisWindow == 0 {
		t.AnalysisWindow = d.AnalysisWindow
	}
	if t.Inactivity == 0 {
		t.Inactivity = d.Inactivity
	}
	if t.InactivityEscalation == 0 {
		t.InactivityEscalation = d.InactivityEscalation
	}
	if t.RepetitiveCycles == 0 {
		t.RepetitiveCycles = d.RepetitiveCycles
	}
	if t.FailedAttempts == 0 {
		t.FailedAttempts = d.FailedAttempts
	}
	if t.FailedAttemptsTrailing == 0 {
		t.FailedAttemptsTrailing = d.FailedAttemptsTrailing
	}
	if t.ScrollDirectionChanges == 0 {
		t.ScrollDirectionChanges = d.ScrollDirectionChanges
	}
	if t.ScrollActiveSeconds == 0 {
		t.ScrollActiveSeconds = d.ScrollActiveSeconds
	}
	if t.ScrollEventsPerSecond == 0 {
		t.ScrollEventsPerSecond = d.ScrollEventsPerSecond
	}
	if t.ScrollMinInteractions == 0 {
		t.ScrollMinInteractions = d.ScrollMinInteractions
	}
	if t.DeleteKeys == 0 {
		t.DeleteKeys = d.DeleteKeys
	}
	if t.ErroneousClicks == 0 {
		t.ErroneousClicks = d.ErroneousClicks
	}
	if t.MinClicks == 0 {
		t.MinClicks = d.MinClicks
	}
	if t.InterventionScore == 0 {
		t.InterventionScore = d.InterventionScore
	}
	if t.ImmediateScore == 0 {
		t.ImmediateScore = d.ImmediateScore
	}
	return t
}
