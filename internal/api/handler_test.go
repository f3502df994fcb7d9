//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/codec"
	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/identity"
	"github.com/ashureev/shsh-signals/internal/store"
)

const (
	testUser  = "anon_0123456789abcdef0123456789abcdef"
	otherUser = "anon_fedcba9876543210fedcba9876543210"
)

type testServer struct {
	router http.Handler
	repo   *store.SQLiteStore
	mgr    *coach.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	cfg := coach.DefaultConfig()
	cfg.NavigationInterval = time.Hour
	cfg.ContextualInterval = time.Hour
	cfg.ContextualInitialDelay = time.Hour
	cfg.AutosaveInterval = time.Hour
	cfg.ReanalysisDelay = time.Hour
	mgr := coach.NewManager(cfg, repo, nil, nil)
	t.Cleanup(func() {
		mgr.Stop(context.Background())
		_ = repo.Close()
	})

	base := NewHandler(repo, mgr)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHealthHandler(repo, mgr, time.Second).RegisterHealth(r)
	NewActivityHandler(base).RegisterRoutes(r)
	NewRecordingHandler(base).RegisterRoutes(r)
	return &testServer{router: r, repo: repo, mgr: mgr}
}

func (s *testServer) do(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: user})
	r.Header.Set(identity.SessionHeaderName, "lesson-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func click(ts int64) domain.RawEvent {
	return domain.RawEvent{
		Type:      domain.EventIncremental,
		Timestamp: ts,
		Data:      json.RawMessage(`{"source":2,"type":2,"id":3}`),
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", errdefs.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", errdefs.ErrInvalidArgument), http.StatusBadRequest},
		{contextual.ErrMissingQuestionID, http.StatusBadRequest},
		{fmt.Errorf("x: %w", errdefs.ErrAlreadyExists), http.StatusConflict},
		{coach.ErrNothingRecorded, http.StatusConflict},
		{&codec.DecodeError{Reason: "bad"}, http.StatusUnprocessableEntity},
		{coach.ErrManagerStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestActivityAndRecordingLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	expectStatus(t, s.do(t, testUser, http.MethodGet, "/api/activity", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/activity/start", nil), http.StatusOK)

	var stats coach.SessionStats
	w := s.do(t, testUser, http.MethodGet, "/api/activity", nil)
	expectStatus(t, w, http.StatusOK)
	decode(t, w, &stats)
	if stats.UserID != testUser || stats.SessionID != "lesson-1" || !stats.Recording {
		t.Fatalf("stats = %+v", stats)
	}

	now := time.Now().UnixMilli()
	w = s.do(t, testUser, http.MethodPost, "/api/events", EventBatch{Events: []domain.RawEvent{click(now), click(now + 20)}})
	expectStatus(t, w, http.StatusAccepted)

	w = s.do(t, testUser, http.MethodPost, "/api/recordings", nil)
	expectStatus(t, w, http.StatusCreated)
	var rec domain.Recording
	decode(t, w, &rec)
	if rec.ID == "" || rec.EventCount != 2 || rec.Reason != coach.ReasonManual || rec.Payload != "" {
		t.Fatalf("saved recording = %+v", rec)
	}

	w = s.do(t, testUser, http.MethodGet, "/api/recordings", nil)
	expectStatus(t, w, http.StatusOK)
	var list struct {
		Recordings []domain.Recording `json:"recordings"`
	}
	decode(t, w, &list)
	if len(list.Recordings) != 1 || list.Recordings[0].ID != rec.ID {
		t.Fatalf("list = %+v", list)
	}

	w = s.do(t, testUser, http.MethodGet, "/api/recordings/"+rec.ID+"/session", nil)
	expectStatus(t, w, http.StatusOK)
	var session domain.RecordingSession
	decode(t, w, &session)
	if len(session.Events) != 2 || session.Events[1].Timestamp != now+20 {
		t.Fatalf("decoded session = %+v", session)
	}

	expectStatus(t, s.do(t, otherUser, http.MethodGet, "/api/recordings/"+rec.ID, nil), http.StatusNotFound)

	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/activity/stop", nil), http.StatusOK)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/activity/stop", nil), http.StatusNotFound)

	recs, err := s.repo.ListRecordings(context.Background(), store.RecordingFilter{UserID: testUser})
	if err != nil {
		t.Fatalf("ListRecordings: %v", err)
	}
	if len(recs) != 2 || recs[0].Reason != coach.ReasonSessionEnd {
		t.Fatalf("stored recordings after stop = %+v", recs)
	}
}

func TestSaveWithEmptyBufferConflicts(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/recordings", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/activity/start", nil), http.StatusOK)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/recordings", nil), http.StatusConflict)
}

func TestQuestionEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/questions/q1/start", nil), http.StatusOK)

	w := s.do(t, testUser, http.MethodPost, "/api/questions/q1/attempts", contextual.AttemptInput{
		SelectedAnswer: "a",
		CorrectAnswer:  "b",
		Topic:          "loops",
	})
	expectStatus(t, w, http.StatusCreated)
	var attempt domain.QuestionAttempt
	decode(t, w, &attempt)
	if attempt.QuestionID != "q1" || attempt.AttemptNumber != 1 || attempt.IsCorrect {
		t.Fatalf("attempt = %+v", attempt)
	}

	w = s.do(t, testUser, http.MethodPost, "/api/questions/q1/skips", contextual.SkipInput{SkipReason: "stuck"})
	expectStatus(t, w, http.StatusCreated)
	var skip domain.QuestionSkipEvent
	decode(t, w, &skip)
	if skip.AttemptsBefore != 1 {
		t.Fatalf("skip = %+v", skip)
	}

	w = s.do(t, testUser, http.MethodGet, "/api/questions/q1", nil)
	expectStatus(t, w, http.StatusOK)
	var history contextual.History
	decode(t, w, &history)
	if len(history.Attempts) != 1 || len(history.Skips) != 1 {
		t.Fatalf("history = %+v", history)
	}

	w = s.do(t, testUser, http.MethodGet, "/api/analysis/contextual", nil)
	expectStatus(t, w, http.StatusOK)
	var analysis contextual.Analysis
	decode(t, w, &analysis)
	if analysis.Stats.TotalQuestions != 1 || analysis.ShouldIntervene {
		t.Fatalf("analysis = %+v", analysis)
	}

	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/questions/q2/attempts", "{not json"), http.StatusBadRequest)
}

func TestAnalysisRequiresRunningSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, path := range []string{"/api/analysis/navigation", "/api/analysis/contextual", "/api/diagnostics"} {
		expectStatus(t, s.do(t, testUser, http.MethodGet, path, nil), http.StatusNotFound)
	}
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/activity/reset", nil), http.StatusNotFound)
}

func TestNavigationAnalysisWarmsUp(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/activity/start", nil), http.StatusOK)

	w := s.do(t, testUser, http.MethodGet, "/api/analysis/navigation", nil)
	expectStatus(t, w, http.StatusOK)
	var analysis struct {
		ShouldIntervene bool `json:"shouldIntervene"`
		WarmingUp       bool `json:"warmingUp"`
	}
	decode(t, w, &analysis)
	if analysis.ShouldIntervene || !analysis.WarmingUp {
		t.Fatalf("analysis right after start = %+v", analysis)
	}
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, testUser, http.MethodPost, "/api/diagnostics/errors", ErrorReport{
		Message: "TypeError: x is undefined",
		Stack:   "at render (app.js:10)",
		Source:  "app.js",
	})
	expectStatus(t, w, http.StatusAccepted)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/diagnostics/markers", MarkerRequest{Marker: "opened_hint"}), http.StatusAccepted)
	expectStatus(t, s.do(t, testUser, http.MethodPost, "/api/diagnostics/errors", ErrorReport{}), http.StatusBadRequest)

	w = s.do(t, testUser, http.MethodGet, "/api/diagnostics", nil)
	expectStatus(t, w, http.StatusOK)
	var diag struct {
		Errors  []map[string]interface{} `json:"errors"`
		Markers []string                 `json:"markers"`
		Summary string                   `json:"summary"`
	}
	decode(t, w, &diag)
	if len(diag.Errors) != 1 || diag.Errors[0]["source"] != "app.js" {
		t.Fatalf("errors = %+v", diag.Errors)
	}
	if len(diag.Markers) != 2 {
		t.Fatalf("markers = %v, want activity_started and opened_hint", diag.Markers)
	}
	if diag.Summary == "" {
		t.Fatal("summary should not be empty")
	}
}

func TestCorruptRecordingIsUnprocessable(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := &domain.Recording{
		UserID:    testUser,
		SessionID: "lesson-1",
		Reason:    coach.ReasonAutosave,
		Codec:     codec.TagGzip,
		Payload:   "gzip:!!!not-base64",
	}
	if err := s.repo.SaveRecording(context.Background(), rec); err != nil {
		t.Fatalf("SaveRecording: %v", err)
	}
	expectStatus(t, s.do(t, testUser, http.MethodGet, "/api/recordings/"+rec.ID+"/session", nil), http.StatusUnprocessableEntity)
}

func TestListLimitValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	expectStatus(t, s.do(t, testUser, http.MethodGet, "/api/recordings?limit=-1", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, testUser, http.MethodGet, "/api/interventions?limit=abc", nil), http.StatusBadRequest)

	w := s.do(t, testUser, http.MethodGet, "/api/interventions", nil)
	expectStatus(t, w, http.StatusOK)
	var body struct {
		Interventions []domain.Intervention `json:"interventions"`
	}
	decode(t, w, &body)
	if len(body.Interventions) != 0 {
		t.Fatalf("interventions = %+v", body.Interventions)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, testUser, http.MethodGet, "/health", nil)
	expectStatus(t, w, http.StatusOK)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, w, &body)
	if body.Status != "healthy" || body.Checks["database"] != "ok" {
		t.Fatalf("health = %+v", body)
	}
}
