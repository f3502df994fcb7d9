package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/interceptor"
	"github.com/ashureev/shsh-signals/internal/navigation"
	"github.com/ashureev/shsh-signals/internal/recorder"
	"github.com/ashureev/shsh-signals/internal/schedule"
	"github.com/ashureev/shsh-signals/internal/watchdog"
)

// ErrNothingRecorded is returned when a save is requested with no buffered events.
var ErrNothingRecorded = errors.New("no events recorded")

const (
	ReasonAutosave     = "autosave"
	ReasonSegment      = "segment"
	ReasonIntervention = "intervention"
	ReasonSessionEnd   = "session_end"
	ReasonManual       = "manual"
)

// SessionStats are the per-session counters exposed by the API.
type SessionStats struct {
	UserID             string    `json:"user_id"`
	SessionID          string    `json:"session_id"`
	Recording          bool      `json:"recording"`
	BufferedEvents     int       `json:"buffered_events"`
	EvictedEvents      int       `json:"evicted_events"`
	LearnerActive      bool      `json:"learner_active"`
	LastActivity       time.Time `json:"last_activity"`
	NavigationRuns     int       `json:"navigation_runs"`
	ContextualRuns     int       `json:"contextual_runs"`
	Interventions      int       `json:"interventions"`
	SuppressedCooldown int       `json:"suppressed_by_cooldown"`
	Autosaves          int       `json:"autosaves"`
	CapturedErrors     int       `json:"captured_errors"`
}

// Session owns the capture and detection state of one learner activity.
type Session struct {
	UserID    string
	SessionID string
	key       string

	m      *Manager
	cfg    Config
	logger *slog.Logger

	recorder *recorder.Recorder
	nav      *navigation.Detector
	quiz     *contextual.Detector
	watchdog *watchdog.Watchdog
	diag     *interceptor.Interceptor

	navCooldown  *Cooldown
	quizCooldown *Cooldown
	tasks        schedule.Group
	stopWatchdog context.CancelFunc

	// lifecycle serializes recorder restarts against close.
	lifecycle sync.Mutex

	mu           sync.Mutex
	closed       bool
	lastActivity time.Time
	reanalysis   *schedule.Handle
	out          chan domain.Intervention
	stats        SessionStats
}

func newSession(m *Manager, userID, sessionID string) *Session {
	cfg := m.cfg
	logger := m.logger.With("user_id", userID, "session_id", sessionID)
	s := &Session{
		UserID:       userID,
		SessionID:    sessionID,
		key:          sessionKey(userID, sessionID),
		m:            m,
		cfg:          cfg,
		logger:       logger,
		recorder:     recorder.New(cfg.RecordingMaxEvents, logger),
		nav:          navigation.NewDetector(cfg.Navigation, logger),
		quiz:         contextual.NewDetector(cfg.Contextual, logger),
		watchdog:     watchdog.New(cfg.WatchdogPoll, cfg.IdleThreshold, logger),
		diag:         interceptor.New(cfg.MaxErrors, cfg.MaxMarkers, logger),
		navCooldown:  NewCooldown(cfg.NavigationCooldown, m.now),
		quizCooldown: NewCooldown(cfg.ContextualCooldown, m.now),
		lastActivity: m.now(),
		out:          make(chan domain.Intervention, cfg.OutboundBuffer),
	}
	s.stats.UserID = userID
	s.stats.SessionID = sessionID
	return s
}

func (s *Session) start() {
	s.recorder.OnAutoStop(s.onSegment)
	if err := s.recorder.Start(s.cfg.RecordingSegment); err != nil {
		s.logger.Warn("[COACH] Failed to start recorder", "error", err)
	}

	s.watchdog.OnIdle(func() {
		s.diag.AddMarker("learner_idle")
		s.logger.Info("[COACH] Learner idle, pausing autosave")
	})
	s.watchdog.OnActive(func() {
		s.diag.AddMarker("learner_active")
		s.logger.Info("[COACH] Learner active, resuming autosave")
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWatchdog = cancel
	s.diag.Go(func() { s.watchdog.Run(ctx) })

	s.tasks.Add(schedule.Every(s.cfg.NavigationInterval, 0, s.runNavigation))
	s.tasks.Add(schedule.Every(s.cfg.ContextualInterval, s.cfg.ContextualInitialDelay, s.runContextual))
	s.tasks.Add(schedule.Every(s.cfg.AutosaveInterval, 0, s.autosave))

	s.diag.AddMarker("activity_started")
	s.logger.Info("[COACH] Session started",
		"navigation_interval", s.cfg.NavigationInterval,
		"contextual_interval", s.cfg.ContextualInterval,
	)
}

// Emit feeds captured events into the recorder and the idle watchdog.
func (s *Session) Emit(events ...domain.RawEvent) {
	interacted := false
	for _, e := range events {
		s.recorder.Emit(e)
		if !interacted && domain.Classify(e).IsReal() {
			interacted = true
		}
	}
	if interacted {
		s.watchdog.Touch()
	}
	s.touch()
}

// StartQuestion starts the clock of a question.
func (s *Session) StartQuestion(id string) {
	s.quiz.StartQuestion(id)
	s.diag.AddMarker(fmt.Sprintf("question_%s_started", id))
	s.touch()
}

// RecordAttempt records an answer. A wrong answer triggers a prompt re-analysis.
func (s *Session) RecordAttempt(in contextual.AttemptInput) (domain.QuestionAttempt, error) {
	attempt, err := s.quiz.RecordAttempt(in)
	if err != nil {
		return attempt, err
	}
	s.touch()
	s.watchdog.Touch()
	outcome := "correct"
	if !attempt.IsCorrect {
		outcome = "incorrect"
		s.scheduleReanalysis()
	}
	s.diag.AddMarker(fmt.Sprintf("question_%s_attempt_%d_%s", in.QuestionID, attempt.AttemptNumber, outcome))
	return attempt, nil
}

// RecordSkip records a skip and triggers a prompt re-analysis.
func (s *Session) RecordSkip(in contextual.SkipInput) (domain.QuestionSkipEvent, error) {
	skip, err := s.quiz.RecordSkip(in)
	if err != nil {
		return skip, err
	}
	s.touch()
	s.watchdog.Touch()
	s.diag.AddMarker(fmt.Sprintf("question_%s_skipped", in.QuestionID))
	s.scheduleReanalysis()
	return skip, nil
}

// AddMarker appends a context marker to the diagnostic timeline.
func (s *Session) AddMarker(marker string) {
	s.diag.AddMarker(marker)
}

// Interceptor exposes the diagnostic capture of the session.
func (s *Session) Interceptor() *interceptor.Interceptor {
	return s.diag
}

// QuestionHistory returns the recorded history of one question.
func (s *Session) QuestionHistory(id string) contextual.History {
	return s.quiz.QuestionHistory(id)
}

// AnalyzeNavigation runs the navigation detector on the live buffer
// without applying the intervention gate.
func (s *Session) AnalyzeNavigation() navigation.Analysis {
	return s.nav.Detect(s.liveEvents())
}

// AnalyzeContextual runs the contextual detector without applying the gate.
func (s *Session) AnalyzeContextual() contextual.Analysis {
	return s.quiz.Analyze()
}

// Outbound delivers accepted interventions. It is closed by Close.
func (s *Session) Outbound() <-chan domain.Intervention {
	return s.out
}

// LastActivity returns when the session last received input.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	stats := s.stats
	stats.LastActivity = s.lastActivity
	s.mu.Unlock()

	stats.Recording = s.recorder.IsActive()
	stats.BufferedEvents = s.recorder.Len()
	stats.EvictedEvents = s.recorder.Evicted()
	stats.LearnerActive = s.watchdog.Active()
	stats.CapturedErrors = len(s.diag.Errors())
	return stats
}

// SaveSnapshot encodes and persists the live buffer without stopping capture.
func (s *Session) SaveSnapshot(ctx context.Context, reason string) (*domain.Recording, error) {
	snap := s.recorder.Snapshot()
	if snap == nil || len(snap.Events) == 0 {
		return nil, ErrNothingRecorded
	}
	return s.m.saveRecording(ctx, s, reason, snap)
}

// Reset starts a new activity inside the same session: history, buffer,
// diagnostics and cooldowns are cleared.
func (s *Session) Reset() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.reanalysis.Cancel()
	s.reanalysis = nil
	s.mu.Unlock()

	s.recorder.Reset()
	if err := s.recorder.Start(s.cfg.RecordingSegment); err != nil {
		s.logger.Warn("[COACH] Failed to restart recorder", "error", err)
	}
	s.nav.Reset()
	s.quiz.Reset()
	s.diag.Reset()
	s.navCooldown.Reset()
	s.quizCooldown.Reset()
	s.diag.AddMarker("activity_reset")
	s.touch()

	s.logger.Info("[COACH] Session reset")
}

// close stops every task, persists the final buffer and closes Outbound.
func (s *Session) close(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reanalysis.Cancel()
	s.reanalysis = nil
	s.mu.Unlock()

	s.tasks.CancelAll()
	if s.stopWatchdog != nil {
		s.stopWatchdog()
	}

	if final := s.recorder.Stop(); final != nil && len(final.Events) > 0 {
		if _, err := s.m.saveRecording(ctx, s, ReasonSessionEnd, final); err != nil {
			s.logger.Warn("[COACH] Failed to save final recording", "error", err)
		}
	}

	s.mu.Lock()
	close(s.out)
	s.mu.Unlock()

	s.logger.Info("[COACH] Session closed")
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.m.now()
}

func (s *Session) liveEvents() []domain.RawEvent {
	if snap := s.recorder.Snapshot(); snap != nil {
		return snap.Events
	}
	return nil
}

func (s *Session) scheduleReanalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.reanalysis.Cancel()
	s.reanalysis = schedule.After(s.cfg.ReanalysisDelay, s.runContextual)
}

func (s *Session) runNavigation() {
	if s.isClosed() {
		return
	}
	snap := s.recorder.Snapshot()
	var events []domain.RawEvent
	if snap != nil {
		events = snap.Events
	}
	a := s.nav.Detect(events)

	s.mu.Lock()
	s.stats.NavigationRuns++
	s.mu.Unlock()

	if !a.ShouldIntervene {
		return
	}
	if !s.navCooldown.Allow() {
		s.countSuppressed("navigation", a.PatternTypes())
		return
	}
	s.submit(domain.Intervention{
		Source:   domain.SourceNavigation,
		Priority: a.Priority,
		Score:    a.OverallScore,
		Message:  a.Message,
		Patterns: a.PatternTypes(),
	}, snap)
}

func (s *Session) runContextual() {
	if s.isClosed() {
		return
	}
	a := s.quiz.Analyze()

	s.mu.Lock()
	s.stats.ContextualRuns++
	s.mu.Unlock()

	if !a.ShouldIntervene {
		return
	}
	if !s.quizCooldown.Allow() {
		s.countSuppressed("contextual", a.PatternTypes())
		return
	}
	s.submit(domain.Intervention{
		Source:           domain.SourceContextual,
		Priority:         a.Priority,
		Score:            a.OverallScore,
		Message:          a.Message,
		Patterns:         a.PatternTypes(),
		SuggestedActions: a.SuggestedActions,
	}, s.recorder.Snapshot())
}

func (s *Session) countSuppressed(source string, patterns []string) {
	s.mu.Lock()
	s.stats.SuppressedCooldown++
	s.mu.Unlock()
	s.logger.Debug("[COACH] Intervention suppressed by cooldown", "source", source, "patterns", patterns)
}

func (s *Session) autosave() {
	if s.isClosed() {
		return
	}
	if !s.watchdog.Active() {
		s.logger.Debug("[COACH] Autosave skipped while idle")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.SaveSnapshot(ctx, ReasonAutosave); err != nil {
		if !errors.Is(err, ErrNothingRecorded) {
			s.logger.Warn("[COACH] Autosave failed", "error", err)
		}
		return
	}
	s.mu.Lock()
	s.stats.Autosaves++
	s.mu.Unlock()
}

// onSegment persists a recording closed by its duration cap and starts the
// next one, seeded with the tail the navigation detector still looks at.
func (s *Session) onSegment(segment *domain.RecordingSession) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.isClosed() {
		return
	}
	if len(segment.Events) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		if _, err := s.m.saveRecording(ctx, s, ReasonSegment, segment); err != nil {
			s.logger.Warn("[COACH] Failed to save recording segment", "error", err)
		}
		cancel()
	}
	if s.recorder.IsActive() {
		// Reset already started the next activity.
		return
	}
	seed := segmentTail(segment, s.nav.Thresholds().AnalysisWindow)
	if err := s.recorder.StartWith(s.cfg.RecordingSegment, seed); err != nil {
		s.logger.Warn("[COACH] Failed to restart recorder", "error", err)
	}
}

// segmentTail returns the events of segment inside the trailing window,
// led by the latest full snapshot so the next segment stays replayable.
func segmentTail(segment *domain.RecordingSession, window time.Duration) []domain.RawEvent {
	if len(segment.Events) == 0 {
		return nil
	}
	end := segment.Events[len(segment.Events)-1].Timestamp
	if segment.EndTime != nil && *segment.EndTime > end {
		end = *segment.EndTime
	}
	cutoff := end - window.Milliseconds()

	full := -1
	for i := len(segment.Events) - 1; i >= 0; i-- {
		if segment.Events[i].IsFullSnapshot() {
			full = i
			break
		}
	}

	tail := make([]domain.RawEvent, 0, len(segment.Events))
	if full >= 0 && segment.Events[full].Timestamp < cutoff {
		tail = append(tail, segment.Events[full])
	}
	for _, e := range segment.Events {
		if e.Timestamp >= cutoff {
			tail = append(tail, e)
		}
	}
	return tail
}

func (s *Session) submit(iv domain.Intervention, snap *domain.RecordingSession) {
	iv.UserID = s.UserID
	iv.SessionID = s.SessionID
	iv.CreatedAt = s.m.now()
	iv.Diagnostics = s.diag.Summary()
	s.m.enqueue(interventionJob{session: s, intervention: iv, snapshot: snap})
}

// deliver hands an intervention to the outbound channel without blocking.
func (s *Session) deliver(iv domain.Intervention) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- iv:
		s.stats.Interventions++
		return true
	default:
		s.logger.Warn("[COACH] Outbound channel full, intervention dropped",
			"source", iv.Source,
			"channel_len", len(s.out),
		)
		return false
	}
}
