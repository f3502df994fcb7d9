package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/interceptor"
)

// ActivityHandler handles the capture and detection endpoints of the
// caller's activity session.
type ActivityHandler struct {
	*Handler
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(base *Handler) *ActivityHandler {
	return &ActivityHandler{Handler: base}
}

// EventBatch is the body of POST /api/events.
type EventBatch struct {
	Events []domain.RawEvent `json:"events"`
}

// ErrorReport is the body of POST /api/diagnostics/errors.
type ErrorReport struct {
	Kind    interceptor.Kind `json:"kind"`
	Message string           `json:"message"`
	Stack   string           `json:"stack,omitempty"`
	Source  string           `json:"source,omitempty"`
}

// MarkerRequest is the body of POST /api/diagnostics/markers.
type MarkerRequest struct {
	Marker string `json:"marker"`
}

// RegisterRoutes registers activity routes.
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/activity", h.GetActivity)
	r.Post("/api/activity/start", h.Start)
	r.Post("/api/activity/stop", h.Stop)
	r.Post("/api/activity/reset", h.Reset)

	r.Post("/api/events", h.PostEvents)

	r.Get("/api/questions/{id}", h.GetQuestion)
	r.Post("/api/questions/{id}/start", h.StartQuestion)
	r.Post("/api/questions/{id}/attempts", h.PostAttempt)
	r.Post("/api/questions/{id}/skips", h.PostSkip)

	r.Get("/api/analysis/navigation", h.AnalyzeNavigation)
	r.Get("/api/analysis/contextual", h.AnalyzeContextual)

	r.Get("/api/diagnostics", h.GetDiagnostics)
	r.Post("/api/diagnostics/errors", h.PostError)
	r.Post("/api/diagnostics/markers", h.PostMarker)
}

// open returns the caller's session, starting it on first use.
func (h *ActivityHandler) open(r *http.Request) (*coach.Session, error) {
	userID, sessionID := ids(r)
	return h.coach.Open(userID, sessionID)
}

// running returns the caller's session only if it was already started.
func (h *ActivityHandler) running(r *http.Request) (*coach.Session, error) {
	userID, sessionID := ids(r)
	return h.coach.Get(userID, sessionID)
}

// GetActivity returns the counters of the caller's session.
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	s, err := h.running(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s.Stats())
}

// Start opens the caller's session. Starting a running session is a no-op.
func (h *ActivityHandler) Start(w http.ResponseWriter, r *http.Request) {
	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s.Stats())
}

// Stop closes the caller's session and persists its final recording.
func (h *ActivityHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	if err := h.coach.Close(r.Context(), userID, sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Activity stopped", "user_id", userID, "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// Reset clears history, buffer and cooldowns for a new activity.
func (h *ActivityHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	if err := h.coach.Reset(userID, sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// PostEvents feeds a batch of captured events into the session.
func (h *ActivityHandler) PostEvents(w http.ResponseWriter, r *http.Request) {
	var batch EventBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Emit(batch.Events...)
	JSON(w, http.StatusAccepted, map[string]int{"accepted": len(batch.Events)})
}

// GetQuestion returns the recorded history of one question.
func (h *ActivityHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.running(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s.QuestionHistory(chi.URLParam(r, "id")))
}

// StartQuestion starts the clock of a question.
func (h *ActivityHandler) StartQuestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.StartQuestion(chi.URLParam(r, "id"))
	JSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// PostAttempt records an answer to a question.
func (h *ActivityHandler) PostAttempt(w http.ResponseWriter, r *http.Request) {
	var in contextual.AttemptInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.QuestionID = chi.URLParam(r, "id")

	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attempt, err := s.RecordAttempt(in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, attempt)
}

// PostSkip records a skipped question.
func (h *ActivityHandler) PostSkip(w http.ResponseWriter, r *http.Request) {
	var in contextual.SkipInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.QuestionID = chi.URLParam(r, "id")

	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	skip, err := s.RecordSkip(in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, skip)
}

// AnalyzeNavigation runs the navigation detector on demand.
func (h *ActivityHandler) AnalyzeNavigation(w http.ResponseWriter, r *http.Request) {
	s, err := h.running(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s.AnalyzeNavigation())
}

// AnalyzeContextual runs the contextual detector on demand.
func (h *ActivityHandler) AnalyzeContextual(w http.ResponseWriter, r *http.Request) {
	s, err := h.running(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s.AnalyzeContextual())
}

// GetDiagnostics returns captured errors, markers and the rendered summary.
func (h *ActivityHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	s, err := h.running(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	diag := s.Interceptor()
	JSON(w, http.StatusOK, map[string]interface{}{
		"errors":  diag.Errors(),
		"markers": diag.Markers(),
		"summary": diag.Summary(),
	})
}

// PostError records a client-side error report.
func (h *ActivityHandler) PostError(w http.ResponseWriter, r *http.Request) {
	var report ErrorReport
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, r, err)
		return
	}
	if report.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Interceptor().CaptureKind(report.Kind, report.Message, report.Stack, report.Source)
	JSON(w, http.StatusAccepted, map[string]string{"status": "captured"})
}

// PostMarker appends a context marker.
func (h *ActivityHandler) PostMarker(w http.ResponseWriter, r *http.Request) {
	var req MarkerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Marker == "" {
		Error(w, http.StatusBadRequest, "marker is required")
		return
	}
	s, err := h.open(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.AddMarker(req.Marker)
	JSON(w, http.StatusAccepted, map[string]string{"status": "captured"})
}
