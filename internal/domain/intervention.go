package domain

import "time"

// InterventionSource names the detector that raised an intervention.
type InterventionSource string

const (
	SourceNavigation InterventionSource = "navigation"
	SourceContextual InterventionSource = "contextual"
)

// SuggestedAction is one ranked follow-up offered to the learner.
type SuggestedAction struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Priority    Severity          `json:"priority"`
	Data        map[string]string `json:"data,omitempty"`
}

// Intervention is an accepted detector signal on its way to the learner.
type Intervention struct {
	ID               int64              `json:"id,omitempty"`
	UserID           string             `json:"user_id"`
	SessionID        string             `json:"session_id"`
	Source           InterventionSource `json:"source"`
	Priority         Priority           `json:"priority"`
	Score            float64            `json:"score"`
	Message          string             `json:"message"`
	Patterns         []string           `json:"patterns"`
	SuggestedActions []SuggestedAction  `json:"suggested_actions,omitempty"`
	Diagnostics      string             `json:"diagnostics,omitempty"`
	RecordingID      string             `json:"recording_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Recording is the persisted metadata and payload of a compressed session.
type Recording struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	Reason         string    `json:"reason"`
	Codec          string    `json:"codec"`
	Payload        string    `json:"payload,omitempty"`
	OriginalSize   int       `json:"original_size"`
	CompressedSize int       `json:"compressed_size"`
	EventCount     int       `json:"event_count"`
	Trimmed        bool      `json:"trimmed"`
	CreatedAt      time.Time `json:"created_at"`
}
