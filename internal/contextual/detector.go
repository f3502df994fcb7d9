// Package contextual tracks per-question attempt history and derives
// content-level error patterns from it.
package contextual

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/shsh-signals/internal/domain"
)

// ErrMissingQuestionID is returned when an attempt or skip has no question id.
var ErrMissingQuestionID = errors.New("question id is required")

// AttemptInput carries the caller-supplied fields of an attempt.
type AttemptInput struct {
	QuestionID     string `json:"questionId"`
	QuestionText   string `json:"questionText,omitempty"`
	QuestionType   string `json:"questionType,omitempty"`
	SelectedAnswer string `json:"selectedAnswer"`
	CorrectAnswer  string `json:"correctAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
	Topic          string `json:"topic,omitempty"`
	Difficulty     string `json:"difficulty,omitempty"`
}

// SkipInput carries the caller-supplied fields of a skip.
type SkipInput struct {
	QuestionID   string `json:"questionId"`
	QuestionText string `json:"questionText,omitempty"`
	QuestionType string `json:"questionType,omitempty"`
	SkipReason   string `json:"skipReason,omitempty"`
	Topic        string `json:"topic,omitempty"`
}

// Stats are the session-wide counters computed on each analysis.
type Stats struct {
	TotalQuestions     int                `json:"totalQuestions"`
	AttemptedQuestions int                `json:"attemptedQuestions"`
	SkippedQuestions   int                `json:"skippedQuestions"`
	MultipleAttempts   int                `json:"questionsWithMultipleAttempts"`
	AverageAttempts    float64            `json:"averageAttemptsPerQuestion"`
	TopicsDifficulty   map[string]float64 `json:"topicsDifficulty"`
}

// Analysis is the result of one Analyze call.
type Analysis struct {
	OverallScore     float64                  `json:"overallScore"`
	Patterns         []ErrorPattern           `json:"patterns"`
	ShouldIntervene  bool                     `json:"shouldIntervene"`
	Priority         domain.Priority          `json:"priority"`
	Message          string                   `json:"message"`
	SuggestedActions []domain.SuggestedAction `json:"suggestedActions"`
	DetectedAt       int64                    `json:"detectedAt"`
	Stats            Stats                    `json:"stats"`
}

// PatternTypes lists "<questionId>:<errorType>" for each pattern.
func (a Analysis) PatternTypes() []string {
	out := make([]string, len(a.Patterns))
	for i, p := range a.Patterns {
		out[i] = p.QuestionID + ":" + string(p.ErrorType)
	}
	return out
}

// History is a copy of everything recorded for one question.
type History struct {
	Attempts []domain.QuestionAttempt   `json:"attempts"`
	Skips    []domain.QuestionSkipEvent `json:"skips"`
	Started  bool                       `json:"started"`
}

// Detector holds the attempt and skip history of one activity session.
// All methods are safe for concurrent use.
type Detector struct {
	thresholds Thresholds
	logger     *slog.Logger

	mu       sync.Mutex
	now      func() time.Time
	order    []string
	seen     map[string]struct{}
	attempts map[string][]domain.QuestionAttempt
	skips    map[string][]domain.QuestionSkipEvent
	started  map[string]int64
}

// NewDetector creates an empty detector.
func NewDetector(th Thresholds, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		thresholds: th.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
	d.resetLocked()
	return d
}

// SetClock replaces the time source.
func (d *Detector) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Thresholds returns the effective thresholds.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// StartQuestion starts the clock for a question. The first call wins until
// the question is answered correctly or skipped.
func (d *Detector) StartQuestion(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.started[id]; ok {
		return
	}
	d.started[id] = domain.Millis(d.now())
}

// RecordAttempt appends an attempt, numbering it after the existing ones.
func (d *Detector) RecordAttempt(in AttemptInput) (domain.QuestionAttempt, error) {
	if in.QuestionID == "" {
		return domain.QuestionAttempt{}, ErrMissingQuestionID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := domain.Millis(d.now())
	existing := d.attempts[in.QuestionID]
	attempt := domain.QuestionAttempt{
		QuestionID:     in.QuestionID,
		QuestionText:   in.QuestionText,
		QuestionType:   in.QuestionType,
		AttemptNumber:  len(existing) + 1,
		SelectedAnswer: in.SelectedAnswer,
		CorrectAnswer:  in.CorrectAnswer,
		IsCorrect:      in.IsCorrect,
		Timestamp:      now,
		TimeSpentMs:    d.elapsedLocked(in.QuestionID, now),
		Topic:          in.Topic,
		Difficulty:     in.Difficulty,
	}
	d.touchLocked(in.QuestionID)
	d.attempts[in.QuestionID] = append(existing, attempt)
	if attempt.IsCorrect {
		delete(d.started, in.QuestionID)
	}

	d.logger.Debug("[CONTEXTUAL] Attempt recorded",
		"question_id", in.QuestionID,
		"attempt", attempt.AttemptNumber,
		"correct", attempt.IsCorrect,
	)
	return attempt, nil
}

// RecordSkip appends a skip and clears the question clock.
func (d *Detector) RecordSkip(in SkipInput) (domain.QuestionSkipEvent, error) {
	if in.QuestionID == "" {
		return domain.QuestionSkipEvent{}, ErrMissingQuestionID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := domain.Millis(d.now())
	skip := domain.QuestionSkipEvent{
		QuestionID:     in.QuestionID,
		QuestionText:   in.QuestionText,
		QuestionType:   in.QuestionType,
		SkipReason:     in.SkipReason,
		AttemptsBefore: len(d.attempts[in.QuestionID]),
		Timestamp:      now,
		TimeSpentMs:    d.elapsedLocked(in.QuestionID, now),
		Topic:          in.Topic,
	}
	d.touchLocked(in.QuestionID)
	d.skips[in.QuestionID] = append(d.skips[in.QuestionID], skip)
	delete(d.started, in.QuestionID)

	d.logger.Debug("[CONTEXTUAL] Skip recorded",
		"question_id", in.QuestionID,
		"attempts_before", skip.AttemptsBefore,
		"time_spent_ms", skip.TimeSpentMs,
	)
	return skip, nil
}

// QuestionHistory returns a copy of one question's history.
func (d *Detector) QuestionHistory(id string) History {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, started := d.started[id]
	return History{
		Attempts: append([]domain.QuestionAttempt{}, d.attempts[id]...),
		Skips:    append([]domain.QuestionSkipEvent{}, d.skips[id]...),
		Started:  started,
	}
}

// Reset forgets every question.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Analyze classifies every touched question and scores the session.
// It never mutates the recorded history.
func (d *Detector) Analyze() Analysis {
	d.mu.Lock()
	nowMs := domain.Millis(d.now())
	histories := make([]questionHistory, 0, len(d.order))
	for _, id := range d.order {
		histories = append(histories, questionHistory{
			id:       id,
			attempts: append([]domain.QuestionAttempt{}, d.attempts[id]...),
			skips:    append([]domain.QuestionSkipEvent{}, d.skips[id]...),
			now:      nowMs,
		})
	}
	d.mu.Unlock()

	patterns := make([]ErrorPattern, 0)
	for _, h := range histories {
		for _, classify := range classifiers {
			if p := classify(h, d.thresholds); p != nil {
				patterns = append(patterns, *p)
			}
		}
	}

	stats := computeStats(histories)
	analysis := Analysis{
		OverallScore:     overallScore(patterns, stats),
		Patterns:         patterns,
		Priority:         domain.PriorityMonitor,
		SuggestedActions: []domain.SuggestedAction{},
		DetectedAt:       nowMs,
		Stats:            stats,
	}
	analysis.ShouldIntervene, analysis.Priority = d.gate(patterns, stats)

	if analysis.ShouldIntervene {
		top := topPattern(patterns)
		analysis.Message = interventionMessage(top)
		analysis.SuggestedActions = d.suggestedActions(top, len(patterns), stats)
	}

	if len(patterns) > 0 {
		d.logger.Debug("[CONTEXTUAL] Patterns detected",
			"patterns", analysis.PatternTypes(),
			"score", analysis.OverallScore,
			"should_intervene", analysis.ShouldIntervene,
			"priority", analysis.Priority,
		)
	}
	return analysis
}

func (d *Detector) resetLocked() {
	d.order = nil
	d.seen = make(map[string]struct{})
	d.attempts = make(map[string][]domain.QuestionAttempt)
	d.skips = make(map[string][]domain.QuestionSkipEvent)
	d.started = make(map[string]int64)
}

func (d *Detector) touchLocked(id string) {
	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
}

func (d *Detector) elapsedLocked(id string, now int64) int64 {
	start, ok := d.started[id]
	if !ok || now < start {
		return 0
	}
	return now - start
}

func (d *Detector) gate(patterns []ErrorPattern, stats Stats) (bool, domain.Priority) {
	if stats.TotalQuestions < d.thresholds.MinimumQuestionsForAnalysis {
		return false, domain.PriorityMonitor
	}
	high := 0
	for _, p := range patterns {
		if p.Severity == domain.SeverityCritical {
			return true, domain.PriorityImmediate
		}
		if p.Severity == domain.SeverityHigh {
			high++
		}
	}
	switch {
	case high >= 2:
		return true, domain.PrioritySoon
	case stats.SkippedQuestions >= d.thresholds.SkipThreshold:
		return true, domain.PrioritySoon
	case stats.AverageAttempts >= d.thresholds.MaxAttemptsBeforeIntervention:
		return true, domain.PriorityMonitor
	}
	return false, domain.PriorityMonitor
}

func computeStats(histories []questionHistory) Stats {
	stats := Stats{
		TotalQuestions:   len(histories),
		TopicsDifficulty: make(map[string]float64),
	}
	totalAttempts := 0
	for _, h := range histories {
		if len(h.skips) > 0 {
			stats.SkippedQuestions++
		}
		if len(h.attempts) == 0 {
			continue
		}
		stats.AttemptedQuestions++
		totalAttempts += len(h.attempts)
		if len(h.attempts) > 1 {
			stats.MultipleAttempts++
		}
		if topic := h.attempts[0].Topic; topic != "" {
			wrong := len(h.incorrect())
			stats.TopicsDifficulty[topic] += float64(wrong) / float64(len(h.attempts))
		}
	}
	if stats.AttemptedQuestions > 0 {
		stats.AverageAttempts = float64(totalAttempts) / float64(stats.AttemptedQuestions)
	}
	return stats
}

func overallScore(patterns []ErrorPattern, stats Stats) float64 {
	if len(patterns) == 0 {
		return 0
	}
	severities := make([]domain.Severity, len(patterns))
	for i, p := range patterns {
		severities[i] = p.Severity
	}
	patternScore := domain.MeanWeight(severities)

	var skipRatio, multiRatio float64
	if stats.TotalQuestions > 0 {
		skipRatio = float64(stats.SkippedQuestions) / float64(stats.TotalQuestions)
	}
	if stats.AttemptedQuestions > 0 {
		multiRatio = float64(stats.MultipleAttempts) / float64(stats.AttemptedQuestions)
	}
	statsScore := 0.4*skipRatio + 0.6*multiRatio

	score := 0.7*patternScore + 0.3*statsScore
	if score > 1 {
		score = 1
	}
	return score
}

// topPattern returns the most severe pattern, first detected among equals.
func topPattern(patterns []ErrorPattern) *ErrorPattern {
	if len(patterns) == 0 {
		return nil
	}
	sorted := make([]ErrorPattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	return &sorted[0]
}

const fallbackMessage = "It looks like this activity is getting tough. Would you like some help?"

func interventionMessage(p *ErrorPattern) string {
	if p == nil {
		return fallbackMessage
	}
	switch p.ErrorType {
	case ErrorRepeatedMistake:
		msg := fmt.Sprintf("You have tried this question %d times. %s", p.Context.TotalAttempts, p.Context.SuggestedHelp)
		if len(p.Context.RelatedConcepts) > 0 {
			msg += fmt.Sprintf(" Shall we review %q together?", p.Context.RelatedConcepts[0])
		}
		return msg
	case ErrorSkipAfterAttempts:
		return "You tried this question several times and then skipped it. That can be frustrating. Want to go through it step by step?"
	case ErrorImmediateSkip:
		return "This question looks a little intimidating. Want me to simplify it and give you a few hints?"
	}
	return fallbackMessage
}

func (d *Detector) suggestedActions(p *ErrorPattern, patternCount int, stats Stats) []domain.SuggestedAction {
	actions := []domain.SuggestedAction{}
	if p != nil {
		switch p.ErrorType {
		case ErrorRepeatedMistake:
			if p.Context.CommonMistake != "" {
				actions = append(actions, domain.SuggestedAction{
					Type:        "show_hint",
					Description: fmt.Sprintf("Explain why answer %s is incorrect", p.Context.CommonMistake),
					Priority:    domain.SeverityHigh,
					Data:        map[string]string{"questionId": p.QuestionID, "wrongAnswer": p.Context.CommonMistake},
				})
			}
			concept := ""
			if len(p.Context.RelatedConcepts) > 0 {
				concept = p.Context.RelatedConcepts[0]
			}
			actions = append(actions, domain.SuggestedAction{
				Type:        "review_concept",
				Description: "Review concept: " + concept,
				Priority:    domain.SeverityHigh,
				Data:        map[string]string{"concept": concept},
			})
		case ErrorSkipAfterAttempts:
			actions = append(actions,
				domain.SuggestedAction{
					Type:        "show_example",
					Description: "Show a similar worked example step by step",
					Priority:    domain.SeverityHigh,
					Data:        map[string]string{"questionId": p.QuestionID},
				},
				domain.SuggestedAction{
					Type:        "simplify_question",
					Description: "Simplify the question or split it into parts",
					Priority:    domain.SeverityMedium,
					Data:        map[string]string{"questionId": p.QuestionID},
				},
			)
		case ErrorImmediateSkip:
			actions = append(actions, domain.SuggestedAction{
				Type:        "show_hint",
				Description: "Give a first hint to approach the question",
				Priority:    domain.SeverityMedium,
				Data:        map[string]string{"questionId": p.QuestionID},
			})
		}
	}

	if patternCount >= d.thresholds.ContactInstructorPatterns || stats.SkippedQuestions >= d.thresholds.ContactInstructorSkips {
		actions = append(actions, domain.SuggestedAction{
			Type:        "contact_instructor",
			Description: "Consider contacting the instructor for personal help",
			Priority:    domain.SeverityMedium,
			Data: map[string]string{
				"patterns": fmt.Sprint(patternCount),
				"skipped":  fmt.Sprint(stats.SkippedQuestions),
			},
		})
	}
	return actions
}
