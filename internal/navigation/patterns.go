package navigation

import (
	"fmt"
	"time"

	"github.com/ashureev/shsh-signals/internal/domain"
)

// PatternType names one navigation-level signal.
type PatternType string

const (
	PatternInactivity       PatternType = "inactivity"
	PatternRepetitiveCycles PatternType = "repetitive_cycles"
	PatternFailedAttempts   PatternType = "failed_attempts"
	PatternExcessiveScroll  PatternType = "excessive_scroll"
	PatternFrequentDeletion PatternType = "frequent_deletion"
	PatternErroneousClicks  PatternType = "erroneous_clicks"
)

// Pattern is one detected signal.
type Pattern struct {
	Type        PatternType     `json:"type"`
	Severity    domain.Severity `json:"severity"`
	Description string          `json:"description"`
	Timestamp   int64           `json:"timestamp"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

var (
	backTargets   = []string{"back", "prev", "anterior"}
	submitTargets = []string{"submit", "enviar", "verify"}
)

// window is the classified view of one analysis pass.
type window struct {
	now          int64
	sessionStart int64
	events       []domain.RawEvent
	interactions []domain.Interaction
	clicks       []domain.Interaction
	realCount    int
}

func newWindow(events []domain.RawEvent, now, sessionStart int64) *window {
	w := &window{
		now:          now,
		sessionStart: sessionStart,
		events:       events,
		interactions: domain.ClassifyAll(events),
	}
	for _, in := range w.interactions {
		if in.IsReal() {
			w.realCount++
		}
		if in.Kind == domain.InteractionClick {
			w.clicks = append(w.clicks, in)
		}
	}
	return w
}

type patternFunc func(w *window, th Thresholds) *Pattern

// detectors run in this order; it is also the tie-break order for messages.
var detectors = []patternFunc{
	detectInactivity,
	detectRepetitiveCycles,
	detectFailedAttempts,
	detectExcessiveScroll,
	detectFrequentDeletion,
	detectErroneousClicks,
}

func detectInactivity(w *window, th Thresholds) *Pattern {
	last := int64(-1)
	for _, in := range w.interactions {
		if in.IsReal() && in.Timestamp > last {
			last = in.Timestamp
		}
	}

	reason := "long_time_since_last_interaction"
	if last < 0 {
		// Nothing real in the window: idle since the session began.
		reason = "no_interaction_in_window"
		last = w.sessionStart
	}

	idle := time.Duration(w.now-last) * time.Millisecond
	if idle <= th.Inactivity {
		return nil
	}

	severity := domain.SeverityMedium
	if idle > th.InactivityEscalation {
		severity = domain.SeverityHigh
	}
	minutes := int(idle / time.Minute)
	seconds := int((idle % time.Minute) / time.Second)
	return &Pattern{
		Type:        PatternInactivity,
		Severity:    severity,
		Description: fmt.Sprintf("Learner inactive for %dm%02ds", minutes, seconds),
		Timestamp:   w.now,
		Metadata: map[string]any{
			"idleMs":            idle.Milliseconds(),
			"interactionEvents": w.realCount,
			"reason":            reason,
		},
	}
}

func detectRepetitiveCycles(w *window, th Thresholds) *Pattern {
	back := 0
	for _, c := range w.clicks {
		if c.TargetMatches(backTargets...) {
			back++
		}
	}

	alternations := 0
	if len(w.clicks) >= th.MinClicks {
		unique := make(map[string]struct{}, len(w.clicks))
		for _, c := range w.clicks {
			unique[c.Target] = struct{}{}
		}
		if len(unique) >= 3 && len(unique) <= 15 {
			for i := 1; i < len(w.clicks); i++ {
				if w.clicks[i].Target != w.clicks[i-1].Target {
					alternations++
				}
			}
		}
	}

	total := back + alternations
	if total < th.RepetitiveCycles {
		return nil
	}
	severity := domain.SeverityMedium
	if total >= th.RepetitiveCycles+2 {
		severity = domain.SeverityHigh
	}
	return &Pattern{
		Type:        PatternRepetitiveCycles,
		Severity:    severity,
		Description: fmt.Sprintf("Learner switched between sections %d times", total),
		Timestamp:   w.now,
		Metadata: map[string]any{
			"navigationCount":     total,
			"backNavigationCount": back,
			"tabChanges":          alternations,
		},
	}
}

func detectFailedAttempts(w *window, th Thresholds) *Pattern {
	submits := 0
	lastSubmit := int64(0)
	for _, c := range w.clicks {
		if c.TargetMatches(submitTargets...) {
			submits++
			lastSubmit = c.Timestamp
		}
	}
	if submits < th.FailedAttempts {
		return nil
	}

	after := 0
	for _, e := range w.events {
		if e.Timestamp > lastSubmit {
			after++
		}
	}
	if after >= th.FailedAttemptsTrailing {
		return nil
	}
	return &Pattern{
		Type:        PatternFailedAttempts,
		Severity:    domain.SeverityHigh,
		Description: fmt.Sprintf("%d failed submission attempts", submits),
		Timestamp:   w.now,
		Metadata: map[string]any{
			"attemptCount":    submits,
			"eventsAfterLast": after,
		},
	}
}

// detectExcessiveScroll infers scroll bursts from incremental event density
// per second. The density threshold is tuned to the capture library's
// sampling rate.
func detectExcessiveScroll(w *window, th Thresholds) *Pattern {
	if w.realCount < th.ScrollMinInteractions {
		return nil
	}

	buckets := make(map[int64]int)
	var order []int64
	for _, e := range w.events {
		if e.Type != domain.EventIncremental {
			continue
		}
		sec := e.Timestamp / 1000
		if _, seen := buckets[sec]; !seen {
			order = append(order, sec)
		}
		buckets[sec]++
	}

	var active []int64
	for _, sec := range order {
		if buckets[sec] >= th.ScrollEventsPerSecond {
			active = append(active, sec)
		}
	}
	if len(active) == 0 {
		return nil
	}

	directionChanges := 0
	for i := 1; i < len(active); i++ {
		if active[i]-active[i-1] > 2 {
			directionChanges++
		}
	}

	if directionChanges < th.ScrollDirectionChanges && len(active) < th.ScrollActiveSeconds {
		return nil
	}
	return &Pattern{
		Type:        PatternExcessiveScroll,
		Severity:    domain.SeverityMedium,
		Description: fmt.Sprintf("Repetitive scrolling detected (%d direction changes, %d active seconds)", directionChanges, len(active)),
		Timestamp:   w.now,
		Metadata: map[string]any{
			"directionChanges": directionChanges,
			"activeSeconds":    len(active),
		},
	}
}

func detectFrequentDeletion(w *window, th Thresholds) *Pattern {
	deletes := 0
	for _, in := range w.interactions {
		if in.Kind == domain.InteractionTextInput && (in.Key == "Backspace" || in.Key == "Delete") {
			deletes++
		}
	}
	if deletes < th.DeleteKeys {
		return nil
	}
	return &Pattern{
		Type:        PatternFrequentDeletion,
		Severity:    domain.SeverityMedium,
		Description: fmt.Sprintf("Learner deleted content %d times", deletes),
		Timestamp:   w.now,
		Metadata:    map[string]any{"deleteCount": deletes},
	}
}

func detectErroneousClicks(w *window, th Thresholds) *Pattern {
	if len(w.clicks) < th.MinClicks {
		return nil
	}

	counts := make(map[string]int)
	for _, c := range w.clicks {
		if c.HasPosition {
			counts[c.PositionKey()]++
		}
	}
	repeated := 0
	for _, n := range counts {
		if n > 1 {
			repeated += n
		}
	}
	if repeated < th.ErroneousClicks {
		return nil
	}
	return &Pattern{
		Type:        PatternErroneousClicks,
		Severity:    domain.SeverityLow,
		Description: fmt.Sprintf("%d clicks repeated on the same position", repeated),
		Timestamp:   w.now,
		Metadata:    map[string]any{"repeatedClickCount": repeated},
	}
}
