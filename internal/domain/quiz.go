package domain

// QuestionAttempt is one recorded answer to a question. Immutable once recorded.
type QuestionAttempt struct {
	QuestionID     string `json:"questionId"`
	QuestionText   string `json:"questionText,omitempty"`
	QuestionType   string `json:"questionType,omitempty"`
	AttemptNumber  int    `json:"attemptNumber"`
	SelectedAnswer string `json:"selectedAnswer"`
	CorrectAnswer  string `json:"correctAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
	Timestamp      int64  `json:"timestamp"`
	TimeSpentMs    int64  `json:"timeSpentMs"`
	Topic          string `json:"topic,omitempty"`
	Difficulty     string `json:"difficulty,omitempty"`
}

// QuestionSkipEvent records the learner leaving a question unanswered.
type QuestionSkipEvent struct {
	QuestionID     string `json:"questionId"`
	QuestionText   string `json:"questionText,omitempty"`
	QuestionType   string `json:"questionType,omitempty"`
	SkipReason     string `json:"skipReason,omitempty"`
	AttemptsBefore int    `json:"attemptsBefore"`
	Timestamp      int64  `json:"timestamp"`
	TimeSpentMs    int64  `json:"timeSpentMs"`
	Topic          string `json:"topic,omitempty"`
}
