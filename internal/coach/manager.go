// Package coach wires capture, detection and delivery for each learner
// activity session.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/shsh-signals/internal/codec"
	"github.com/ashureev/shsh-signals/internal/compose"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/store"
)

const jobTimeout = 30 * time.Second

// ErrManagerStopped is returned by Open after Stop.
var ErrManagerStopped = errors.New("coach manager stopped")

// Composer rewrites an intervention message.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (string, error)
}

// ManagerStats summarizes the manager for the health endpoint.
type ManagerStats struct {
	ActiveSessions int   `json:"active_sessions"`
	QueuedJobs     int   `json:"queued_jobs"`
	ProcessedJobs  int64 `json:"processed_jobs"`
	DroppedJobs    int64 `json:"dropped_jobs"`
	ComposerErrors int64 `json:"composer_errors"`
}

// interventionJob represents an accepted intervention awaiting delivery.
type interventionJob struct {
	session      *Session
	intervention domain.Intervention
	snapshot     *domain.RecordingSession
}

// Manager keys sessions by user and activity session and runs the
// intervention worker pool shared by all of them.
type Manager struct {
	cfg        Config
	repo       store.Repository
	composer   Composer
	compressor *codec.Compressor
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  bool

	jobChan        chan interventionJob
	workerWg       sync.WaitGroup
	workerPoolSize int

	processed      atomic.Int64
	dropped        atomic.Int64
	composerErrors atomic.Int64
}

// NewManager creates a manager and starts its worker pool. composer may be nil.
func NewManager(cfg Config, repo store.Repository, composer Composer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:            cfg,
		repo:           repo,
		composer:       composer,
		compressor:     codec.NewCompressor(cfg.MaxEncodedSize, logger),
		logger:         logger,
		now:            time.Now,
		sessions:       make(map[string]*Session),
		jobChan:        make(chan interventionJob, cfg.JobQueueSize),
		workerPoolSize: cfg.WorkerPoolSize,
	}

	for i := 0; i < m.workerPoolSize; i++ {
		m.workerWg.Add(1)
		go m.interventionWorker()
	}
	return m
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Compressor returns the codec used for persisted recordings.
func (m *Manager) Compressor() *codec.Compressor {
	return m.compressor
}

// Open returns the session for userID and sessionID, starting it if needed.
func (m *Manager) Open(userID, sessionID string) (*Session, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("open session: user and session id required: %w", errdefs.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrManagerStopped
	}

	key := sessionKey(userID, sessionID)
	if s, ok := m.sessions[key]; ok {
		s.touch()
		return s, nil
	}

	s := newSession(m, userID, sessionID)
	m.sessions[key] = s
	s.start()
	return s, nil
}

// Get returns a running session.
func (m *Manager) Get(userID, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionKey(userID, sessionID), errdefs.ErrNotFound)
	}
	return s, nil
}

// Reset clears a running session for a new activity.
func (m *Manager) Reset(userID, sessionID string) error {
	s, err := m.Get(userID, sessionID)
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Close stops a session and persists its final recording.
func (m *Manager) Close(ctx context.Context, userID, sessionID string) error {
	key := sessionKey(userID, sessionID)
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", key, errdefs.ErrNotFound)
	}
	s.close(ctx)
	return nil
}

// Stats returns manager-wide counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	active := len(m.sessions)
	m.mu.RUnlock()
	return ManagerStats{
		ActiveSessions: active,
		QueuedJobs:     len(m.jobChan),
		ProcessedJobs:  m.processed.Load(),
		DroppedJobs:    m.dropped.Load(),
		ComposerErrors: m.composerErrors.Load(),
	}
}

// Stop closes every session and gracefully shuts down the worker pool.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	sessions := make([]*Session, 0, len(m.sessions))
	for key, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close(ctx)
	}

	m.mu.Lock()
	close(m.jobChan)
	m.mu.Unlock()
	m.workerWg.Wait()

	m.logger.Info("[COACH] Manager stopped", "closed_sessions", len(sessions))
}

// enqueue hands a job to the worker pool, dropping it when the queue is full.
func (m *Manager) enqueue(job interventionJob) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		m.dropped.Add(1)
		return
	}

	select {
	case m.jobChan <- job:
		m.logger.Info("[COACH] Intervention job enqueued",
			"user_id", job.session.UserID,
			"source", job.intervention.Source,
			"priority", job.intervention.Priority,
		)
	default:
		m.dropped.Add(1)
		m.logger.Warn("[COACH] Intervention queue full, dropping job",
			"user_id", job.session.UserID,
			"source", job.intervention.Source,
		)
	}
}

// interventionWorker processes intervention jobs asynchronously.
func (m *Manager) interventionWorker() {
	defer m.workerWg.Done()

	for job := range m.jobChan {
		m.processJob(job)
	}
}

func (m *Manager) processJob(job interventionJob) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	defer m.processed.Add(1)

	iv := job.intervention
	logger := job.session.logger.With("source", iv.Source)

	if m.composer != nil {
		actions := make([]string, len(iv.SuggestedActions))
		for i, a := range iv.SuggestedActions {
			actions[i] = a.Type
		}
		msg, err := m.composer.Compose(ctx, compose.Request{
			UserID:      iv.UserID,
			SessionID:   iv.SessionID,
			Source:      string(iv.Source),
			Priority:    string(iv.Priority),
			Score:       iv.Score,
			Patterns:    iv.Patterns,
			Actions:     actions,
			Template:    iv.Message,
			Diagnostics: iv.Diagnostics,
		})
		if err != nil {
			m.composerErrors.Add(1)
			logger.Warn("[COACH] Composer failed, using template message", "error", err)
		} else {
			iv.Message = msg
		}
	}

	if job.snapshot != nil && len(job.snapshot.Events) > 0 {
		rec, err := m.saveRecording(ctx, job.session, ReasonIntervention, job.snapshot)
		if err != nil {
			logger.Warn("[COACH] Failed to save intervention recording", "error", err)
		} else {
			iv.RecordingID = rec.ID
		}
	}

	if m.repo != nil {
		if err := m.repo.SaveIntervention(ctx, &iv); err != nil {
			logger.Error("[COACH] Failed to persist intervention", "error", err)
		}
	}

	if job.session.deliver(iv) {
		logger.Info("[COACH] Intervention delivered",
			"priority", iv.Priority,
			"score", iv.Score,
			"patterns", iv.Patterns,
		)
	}
}

// saveRecording encodes snap and stores it for the session.
func (m *Manager) saveRecording(ctx context.Context, s *Session, reason string, snap *domain.RecordingSession) (*domain.Recording, error) {
	res, err := m.compressor.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	rec := &domain.Recording{
		UserID:         s.UserID,
		SessionID:      s.SessionID,
		Reason:         reason,
		Codec:          res.Codec,
		Payload:        res.Payload,
		OriginalSize:   res.OriginalSize,
		CompressedSize: res.CompressedSize,
		EventCount:     res.EventCount,
		Trimmed:        res.Trimmed,
		CreatedAt:      m.now(),
	}
	if m.repo == nil {
		return rec, nil
	}
	if err := m.repo.SaveRecording(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Debug("[COACH] Recording saved",
		"recording_id", rec.ID,
		"reason", reason,
		"codec", rec.Codec,
		"events", rec.EventCount,
		"trimmed", rec.Trimmed,
	)
	return rec, nil
}
