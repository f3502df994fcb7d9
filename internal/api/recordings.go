package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/store"
)

// maxListLimit caps the limit query parameter.
const maxListLimit = 500

// RecordingHandler serves persisted recordings and interventions of the caller.
type RecordingHandler struct {
	*Handler
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(base *Handler) *RecordingHandler {
	return &RecordingHandler{Handler: base}
}

// RegisterRoutes registers recording routes.
func (h *RecordingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/recordings", h.List)
	r.Post("/api/recordings", h.Save)
	r.Get("/api/recordings/{id}", h.Get)
	r.Get("/api/recordings/{id}/session", h.Session)
	r.Get("/api/interventions", h.ListInterventions)
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer: %w", errdefs.ErrInvalidArgument)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// List returns recording metadata of the caller, newest first. With
// scope=all it spans every activity session of the device.
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, sessionID := ids(r)
	filter := store.RecordingFilter{UserID: userID, SessionID: sessionID, Limit: limit}
	if r.URL.Query().Get("scope") == "all" {
		filter.SessionID = ""
	}

	recs, err := h.repo.ListRecordings(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"recordings": recs})
}

// Save persists the live buffer of the caller's session on demand.
func (h *RecordingHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := ids(r)
	s, err := h.coach.Get(userID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.SaveSnapshot(r.Context(), coach.ReasonManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Recording saved on request", "user_id", userID, "recording_id", rec.ID, "events", rec.EventCount)
	rec.Payload = ""
	JSON(w, http.StatusCreated, rec)
}

// owned loads a recording and hides recordings of other users.
func (h *RecordingHandler) owned(r *http.Request) (*domain.Recording, error) {
	id := chi.URLParam(r, "id")
	rec, err := h.repo.GetRecording(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if userID, _ := ids(r); rec.UserID != userID {
		return nil, fmt.Errorf("recording %s: %w", id, errdefs.ErrNotFound)
	}
	return rec, nil
}

// Get returns one recording including its encoded payload.
func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.owned(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, rec)
}

// Session decodes a recording back into its replayable event session.
func (h *RecordingHandler) Session(w http.ResponseWriter, r *http.Request) {
	rec, err := h.owned(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.coach.Compressor().Decode(rec.Payload)
	if err != nil {
		slog.Warn("Stored recording could not be decoded", "recording_id", rec.ID, "error", err)
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// ListInterventions returns the interventions raised for the caller's session.
func (h *RecordingHandler) ListInterventions(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, sessionID := ids(r)
	ivs, err := h.repo.ListInterventions(r.Context(), userID, sessionID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"interventions": ivs})
}
