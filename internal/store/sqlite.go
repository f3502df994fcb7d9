package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/ashureev/shsh-signals/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 100

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		codec TEXT NOT NULL,
		payload TEXT NOT NULL,
		original_size INTEGER NOT NULL,
		compressed_size INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		trimmed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_session ON recordings(user_id, session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);

	CREATE TABLE IF NOT EXISTS interventions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		source TEXT NOT NULL,
		priority TEXT NOT NULL,
		score REAL NOT NULL,
		message TEXT NOT NULL,
		patterns_json TEXT NOT NULL,
		actions_json TEXT,
		diagnostics TEXT,
		recording_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interventions_session ON interventions(user_id, session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveRecording stores a compressed session.
func (s *SQLiteStore) SaveRecording(ctx context.Context, rec *domain.Recording) error {
	if rec == nil || rec.Payload == "" {
		return fmt.Errorf("save recording: empty payload: %w", errdefs.ErrInvalidArgument)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO recordings (
		id, user_id, session_id, reason, codec, payload,
		original_size, compressed_size, event_count, trimmed, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := withRetry(ctx, "save recording", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.UserID, rec.SessionID, rec.Reason, rec.Codec, rec.Payload,
			rec.OriginalSize, rec.CompressedSize, rec.EventCount, rec.Trimmed,
			rec.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("recording %s: %w", rec.ID, errdefs.ErrAlreadyExists)
		}
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// GetRecording retrieves a recording with its payload.
func (s *SQLiteStore) GetRecording(ctx context.Context, id string) (*domain.Recording, error) {
	query := `
		SELECT id, user_id, session_id, reason, codec, payload,
		       original_size, compressed_size, event_count, trimmed, created_at
		FROM recordings WHERE id = ?`

	var rec domain.Recording
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.Reason, &rec.Codec, &rec.Payload,
		&rec.OriginalSize, &rec.CompressedSize, &rec.EventCount, &rec.Trimmed, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %s: %w", id, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan recording row: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	return &rec, nil
}

// ListRecordings returns recording metadata, newest first.
func (s *SQLiteStore) ListRecordings(ctx context.Context, filter RecordingFilter) ([]*domain.Recording, error) {
	query := `
		SELECT id, user_id, session_id, reason, codec,
		       original_size, compressed_size, event_count, trimmed, created_at
		FROM recordings WHERE 1 = 1`
	var args []interface{}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recording rows", "error", closeErr)
		}
	}()

	recs := []*domain.Recording{}
	for rows.Next() {
		var rec domain.Recording
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.SessionID, &rec.Reason, &rec.Codec,
			&rec.OriginalSize, &rec.CompressedSize, &rec.EventCount, &rec.Trimmed, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan recording row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return recs, nil
}

// DeleteRecordingsBefore removes recordings created before cutoff.
func (s *SQLiteStore) DeleteRecordingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "delete recordings", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup recordings: %w", err)
	}
	return deleted, nil
}

// SaveIntervention stores an accepted intervention.
func (s *SQLiteStore) SaveIntervention(ctx context.Context, iv *domain.Intervention) error {
	if iv == nil {
		return fmt.Errorf("save intervention: %w", errdefs.ErrInvalidArgument)
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now()
	}
	patterns := iv.Patterns
	if patterns == nil {
		patterns = []string{}
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	var actionsJSON interface{}
	if len(iv.SuggestedActions) > 0 {
		b, err := json.Marshal(iv.SuggestedActions)
		if err != nil {
			return fmt.Errorf("marshal suggested actions: %w", err)
		}
		actionsJSON = string(b)
	}

	var recordingID interface{}
	if iv.RecordingID != "" {
		recordingID = iv.RecordingID
	}

	query := `
	INSERT INTO interventions (
		user_id, session_id, source, priority, score, message,
		patterns_json, actions_json, diagnostics, recording_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "save intervention", func() error {
		result, err := s.db.ExecContext(ctx, query,
			iv.UserID, iv.SessionID, string(iv.Source), string(iv.Priority), iv.Score, iv.Message,
			string(patternsJSON), actionsJSON, iv.Diagnostics, recordingID, iv.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert intervention: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get intervention id: %w", err)
		}
		iv.ID = id
		return nil
	})
}

// ListInterventions returns the interventions of one session, newest first.
func (s *SQLiteStore) ListInterventions(ctx context.Context, userID, sessionID string, limit int) ([]*domain.Intervention, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, user_id, session_id, source, priority, score, message,
		       patterns_json, actions_json, diagnostics, recording_id, created_at
		FROM interventions WHERE user_id = ? AND session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close intervention rows", "error", closeErr)
		}
	}()

	out := []*domain.Intervention{}
	for rows.Next() {
		var iv domain.Intervention
		var source, priority, patternsJSON string
		var actionsJSON, diagnostics, recordingID sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&iv.ID, &iv.UserID, &iv.SessionID, &source, &priority, &iv.Score, &iv.Message,
			&patternsJSON, &actionsJSON, &diagnostics, &recordingID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan intervention row: %w", err)
		}
		iv.Source = domain.InterventionSource(source)
		iv.Priority = domain.Priority(priority)
		iv.Diagnostics = diagnostics.String
		iv.RecordingID = recordingID.String
		iv.CreatedAt = time.UnixMilli(createdAt)
		if err := json.Unmarshal([]byte(patternsJSON), &iv.Patterns); err != nil {
			return nil, fmt.Errorf("decode patterns of intervention %d: %w", iv.ID, err)
		}
		if actionsJSON.Valid {
			if err := json.Unmarshal([]byte(actionsJSON.String), &iv.SuggestedActions); err != nil {
				return nil, fmt.Errorf("decode actions of intervention %d: %w", iv.ID, err)
			}
		}
		out = append(out, &iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interventions: %w", err)
	}
	return out, nil
}
