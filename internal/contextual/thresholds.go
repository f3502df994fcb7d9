package contextual

import "time"

// Thresholds configures a Detector. Zero fields take the defaults; any
// other value is used as given without validation. A negative
// TimeThreshold turns off immediate-skip detection.
type Thresholds struct {
	RepeatedMistake               int
	TimeThreshold                 time.Duration
	SkipThreshold                 int
	MaxAttemptsBeforeIntervention float64
	MinimumQuestionsForAnalysis   int
	// ContactInstructorPatterns and ContactInstructorSkips add the
	// contact_instructor action when either count is reached.
	ContactInstructorPatterns int
	ContactInstructorSkips    int
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RepeatedMistake:               2,
		TimeThreshold:                 5 * time.Second,
		SkipThreshold:                 2,
		MaxAttemptsBeforeIntervention: 3,
		MinimumQuestionsForAnalysis:   3,
		ContactInstructorPatterns:     3,
		ContactInstructorSkips:        5,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.RepeatedMistake == 0 {
		t.RepeatedMistake = d.RepeatedMistake
	}
	if t.TimeThreshold == 0 {
		t.TimeThreshold = d.TimeThreshold
	}
	if t.SkipThreshold == 0 {
		t.SkipThreshold = d.SkipThreshold
	}
	if t.MaxAttemptsBeforeIntervention == 0 {
		t.MaxAttemptsBeforeIntervention = d.MaxAttemptsBeforeIntervention
	}
	if t.MinimumQuestionsForAnalysis == 0 {
		t.MinimumQuestionsForAnalysis = d.MinimumQuestionsForAnalysis
	}
	if t.ContactInstructorPatterns == 0 {
		t.ContactInstructorPatterns = d.ContactInstructorPatterns
	}
	if t.ContactInstructorSkips == 0 {
		t.ContactInstructorSkips = d.ContactInstructorSkips
	}
	return t
}
