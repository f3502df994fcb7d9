// Package navigation scores coarse interaction patterns from the recent
// capture window and decides whether the learner needs help.
package navigation

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/shsh-signals/internal/domain"
)

// Stats summarizes the window an analysis ran over.
type Stats struct {
	WindowEvents int `json:"windowEvents"`
	Interactions int `json:"interactions"`
	Clicks       int `json:"clicks"`
}

// Analysis is the result of one Detect call.
type Analysis struct {
	OverallScore    float64         `json:"overallScore"`
	Patterns        []Pattern       `json:"patterns"`
	ShouldIntervene bool            `json:"shouldIntervene"`
	Priority        domain.Priority `json:"priority"`
	Message         string          `json:"message"`
	DetectedAt      int64           `json:"detectedAt"`
	WarmingUp       bool            `json:"warmingUp,omitempty"`
	Stats           Stats           `json:"stats"`
}

// PatternTypes lists the detected pattern names in detection order.
func (a Analysis) PatternTypes() []string {
	out := make([]string, len(a.Patterns))
	for i, p := range a.Patterns {
		out[i] = string(p.Type)
	}
	return out
}

var messages = map[PatternType]string{
	PatternInactivity:       "Hi! You have been quiet for a while. Would you like a few hints about this activity?",
	PatternRepetitiveCycles: "You have gone back and forth several times. Shall we review this section together?",
	PatternFailedAttempts:   "I noticed several attempts. Want me to look at what might be missing from your answer?",
	PatternExcessiveScroll:  "Looks like you are searching for something specific. Can I help you find it?",
	PatternFrequentDeletion: "You are reworking your answer a lot. Would a similar worked example help?",
	PatternErroneousClicks:  "Some clicks do not seem to be doing anything. Do you need help with the interface?",
}

// Detector runs the navigation-level pattern checks. The only state kept
// between calls is the session start used for the warm-up gate.
type Detector struct {
	thresholds Thresholds
	logger     *slog.Logger

	mu           sync.Mutex
	now          func() time.Time
	sessionStart time.Time
}

// NewDetector creates a detector whose warm-up clock starts now.
func NewDetector(th Thresholds, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		thresholds: th.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
	d.sessionStart = d.now()
	return d
}

// SetClock replaces the clock and restarts the warm-up window from it.
func (d *Detector) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	d.sessionStart = now()
}

// Thresholds returns the effective thresholds.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// SessionStart returns when the warm-up window began.
func (d *Detector) SessionStart() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionStart
}

// Reset restarts the warm-up window.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionStart = d.now()
}

// Detect analyzes events, which the caller must not mutate during the call.
// It never mutates events.
func (d *Detector) Detect(events []domain.RawEvent) Analysis {
	d.mu.Lock()
	now := d.now()
	start := d.sessionStart
	d.mu.Unlock()

	nowMs := domain.Millis(now)
	if now.Sub(start) < d.thresholds.WarmUp {
		return Analysis{
			Patterns:   []Pattern{},
			Priority:   domain.PriorityMonitor,
			DetectedAt: nowMs,
			WarmingUp:  true,
		}
	}

	cutoff := nowMs - d.thresholds.AnalysisWindow.Milliseconds()
	recent := make([]domain.RawEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp >= cutoff {
			recent = append(recent, e)
		}
	}

	w := newWindow(recent, nowMs, domain.Millis(start))
	patterns := make([]Pattern, 0, len(detectors))
	for _, detect := range detectors {
		if p := detect(w, d.thresholds); p != nil {
			patterns = append(patterns, *p)
		}
	}

	severities := make([]domain.Severity, len(patterns))
	for i, p := range patterns {
		severities[i] = p.Severity
	}
	score := domain.MeanWeight(severities)
	if score > 1 {
		score = 1
	}

	analysis := Analysis{
		OverallScore:    score,
		Patterns:        patterns,
		ShouldIntervene: score >= d.thresholds.InterventionScore,
		Priority:        domain.PriorityMonitor,
		DetectedAt:      nowMs,
		Stats: Stats{
			WindowEvents: len(recent),
			Interactions: w.realCount,
			Clicks:       len(w.clicks),
		},
	}
	if analysis.ShouldIntervene {
		analysis.Message = interventionMessage(patterns)
		analysis.Priority = domain.PrioritySoon
		if score >= d.thresholds.ImmediateScore {
			analysis.Priority = domain.PriorityImmediate
		}
	}

	if len(patterns) > 0 {
		d.logger.Debug("[NAVIGATION] Patterns detected",
			"patterns", analysis.PatternTypes(),
			"score", score,
			"should_intervene", analysis.ShouldIntervene,
			"window_events", len(recent),
		)
	}
	return analysis
}

// interventionMessage picks the template of the most severe pattern,
// keeping detection order among equals.
func interventionMessage(patterns []Pattern) string {
	if len(patterns) == 0 {
		return ""
	}
	sorted := make([]Pattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	return messages[sorted[0].Type]
}
