// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-signals/internal/domain"
)

// RecordingFilter narrows ListRecordings. Empty fields match everything.
type RecordingFilter struct {
	UserID    string
	SessionID string
	Limit     int
}

// Repository defines the interface for persisting recordings and interventions.
type Repository interface {
	// SaveRecording stores a compressed session. An empty ID is assigned.
	SaveRecording(ctx context.Context, rec *domain.Recording) error

	// GetRecording retrieves a recording with its payload.
	// A missing recording yields an errdefs.ErrNotFound class error.
	GetRecording(ctx context.Context, id string) (*domain.Recording, error)

	// ListRecordings returns recording metadata, newest first, without payloads.
	ListRecordings(ctx context.Context, filter RecordingFilter) ([]*domain.Recording, error)

	// DeleteRecordingsBefore removes recordings created before cutoff.
	DeleteRecordingsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// SaveIntervention stores an accepted intervention and sets its ID.
	SaveIntervention(ctx context.Context, iv *domain.Intervention) error

	// ListInterventions returns the interventions of one session, newest first.
	ListInterventions(ctx context.Context, userID, sessionID string, limit int) ([]*domain.Intervention, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
