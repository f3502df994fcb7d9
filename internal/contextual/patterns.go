package contextual

import (
	"fmt"

	"github.com/ashureev/shsh-signals/internal/domain"
)

// ErrorType names one per-question signal.
type ErrorType string

const (
	ErrorRepeatedMistake   ErrorType = "repeated_mistake"
	ErrorSkipAfterAttempts ErrorType = "skip_after_attempts"
	ErrorImmediateSkip     ErrorType = "immediate_skip"
)

// PatternContext explains a pattern for the learner-facing message.
type PatternContext struct {
	TotalAttempts      int      `json:"totalAttempts"`
	UniqueWrongAnswers int      `json:"uniqueWrongAnswers"`
	Description        string   `json:"patternDescription"`
	SuggestedHelp      string   `json:"suggestedHelp"`
	RelatedConcepts    []string `json:"relatedConcepts"`
	CommonMistake      string   `json:"commonMistake,omitempty"`
}

// ErrorPattern is derived from one question's history on each analysis.
type ErrorPattern struct {
	QuestionID   string                     `json:"questionId"`
	QuestionText string                     `json:"questionText,omitempty"`
	ErrorType    ErrorType                  `json:"errorType"`
	Severity     domain.Severity            `json:"severity"`
	Attempts     []domain.QuestionAttempt   `json:"attempts"`
	Skips        []domain.QuestionSkipEvent `json:"skips"`
	DetectedAt   int64                      `json:"detectedAt"`
	Context      PatternContext             `json:"context"`
}

type questionHistory struct {
	id       string
	attempts []domain.QuestionAttempt
	skips    []domain.QuestionSkipEvent
	now      int64
}

func (h questionHistory) incorrect() []domain.QuestionAttempt {
	var out []domain.QuestionAttempt
	for _, a := range h.attempts {
		if !a.IsCorrect {
			out = append(out, a)
		}
	}
	return out
}

func uniqueAnswers(attempts []domain.QuestionAttempt) int {
	seen := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		seen[a.SelectedAnswer] = struct{}{}
	}
	return len(seen)
}

func concepts(topic string) []string {
	if topic == "" {
		return []string{}
	}
	return []string{topic}
}

func detectRepeatedMistake(h questionHistory, th Thresholds) *ErrorPattern {
	wrong := h.incorrect()
	if len(wrong) < th.RepeatedMistake {
		return nil
	}

	first := h.attempts[0]
	unique := uniqueAnswers(wrong)
	same := unique == 1 && len(wrong) > 1

	p := &ErrorPattern{
		QuestionID:   h.id,
		QuestionText: first.QuestionText,
		ErrorType:    ErrorRepeatedMistake,
		Severity:     domain.SeverityMedium,
		Attempts:     h.attempts,
		Skips:        h.skips,
		DetectedAt:   h.now,
		Context: PatternContext{
			TotalAttempts:      len(h.attempts),
			UniqueWrongAnswers: unique,
			RelatedConcepts:    concepts(first.Topic),
		},
	}

	switch {
	case same:
		p.Severity = domain.SeverityHigh
		p.Context.Description = fmt.Sprintf("Chose the same wrong answer %d times", len(wrong))
		p.Context.SuggestedHelp = "This looks like a misconception; the underlying concept needs review."
		p.Context.CommonMistake = wrong[0].SelectedAnswer
	case len(wrong) >= 4:
		p.Severity = domain.SeverityCritical
		p.Context.Description = fmt.Sprintf("Tried %d times with %d different answers", len(wrong), unique)
		p.Context.SuggestedHelp = "The learner seems lost and needs a step by step explanation."
	default:
		p.Context.Description = fmt.Sprintf("%d incorrect attempts", len(wrong))
		p.Context.SuggestedHelp = "A hint or an example should help with the concept."
	}
	return p
}

func detectSkipAfterAttempts(h questionHistory, _ Thresholds) *ErrorPattern {
	if len(h.skips) == 0 || len(h.attempts) == 0 {
		return nil
	}
	wrong := h.incorrect()
	if len(wrong) == 0 {
		return nil
	}

	severity := domain.SeverityHigh
	if len(wrong) >= 3 {
		severity = domain.SeverityCritical
	}
	return &ErrorPattern{
		QuestionID:   h.id,
		QuestionText: h.attempts[0].QuestionText,
		ErrorType:    ErrorSkipAfterAttempts,
		Severity:     severity,
		Attempts:     h.attempts,
		Skips:        h.skips,
		DetectedAt:   h.now,
		Context: PatternContext{
			TotalAttempts:      len(h.attempts),
			UniqueWrongAnswers: uniqueAnswers(wrong),
			Description:        fmt.Sprintf("Tried %d times and abandoned the question", len(wrong)),
			SuggestedHelp:      "The learner is frustrated and needs a clear explanation now.",
			RelatedConcepts:    concepts(h.attempts[0].Topic),
		},
	}
}

func detectImmediateSkip(h questionHistory, th Thresholds) *ErrorPattern {
	if len(h.skips) == 0 || len(h.attempts) > 0 {
		return nil
	}
	last := h.skips[len(h.skips)-1]
	if last.TimeSpentMs >= th.TimeThreshold.Milliseconds() {
		return nil
	}
	return &ErrorPattern{
		QuestionID:   h.id,
		QuestionText: last.QuestionText,
		ErrorType:    ErrorImmediateSkip,
		Severity:     domain.SeverityMedium,
		Attempts:     []domain.QuestionAttempt{},
		Skips:        h.skips,
		DetectedAt:   h.now,
		Context: PatternContext{
			Description:     fmt.Sprintf("Skipped the question after %.1fs", float64(last.TimeSpentMs)/1000),
			SuggestedHelp:   "The question looks intimidating or unclear; simplify it or add context.",
			RelatedConcepts: concepts(last.Topic),
		},
	}
}

var classifiers = []func(questionHistory, Thresholds) *ErrorPattern{
	detectRepeatedMistake,
	detectSkipAfterAttempts,
	detectImmediateSkip,
}
