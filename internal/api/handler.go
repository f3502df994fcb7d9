// Package api provides HTTP handlers for the telemetry API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/codec"
	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/identity"
	"github.com/ashureev/shsh-signals/internal/store"
)

// maxBodyBytes bounds request bodies; event batches are the largest.
const maxBodyBytes = 8 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo  store.Repository
	coach *coach.Manager
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, mgr *coach.Manager) *Handler {
	return &Handler{repo: repo, coach: mgr}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err), errors.Is(err, contextual.ErrMissingQuestionID):
		return http.StatusBadRequest
	case errdefs.IsAlreadyExists(err), errors.Is(err, coach.ErrNothingRecorded):
		return http.StatusConflict
	case errors.Is(err, codec.ErrCorrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coach.ErrManagerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes err with its mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"path", r.URL.Path,
			"user_id", identity.UserIDFromContext(r.Context()),
			"error", err,
		)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return nil
}

// ids returns the caller's user and activity session ids.
func ids(r *http.Request) (string, string) {
	return identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context())
}
