package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/identity"
	"github.com/ashureev/shsh-signals/internal/store"
)

const testUser = "anon_0123456789abcdef0123456789abcdef"

func newTestStream(t *testing.T) (*httptest.Server, *coach.Manager, *Registry) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "stream.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	cfg := coach.DefaultConfig()
	cfg.NavigationInterval = time.Hour
	cfg.ContextualInterval = time.Hour
	cfg.ContextualInitialDelay = time.Hour
	cfg.AutosaveInterval = time.Hour
	cfg.ReanalysisDelay = 10 * time.Millisecond
	mgr := coach.NewManager(cfg, repo, nil, nil)

	registry := NewRegistry()
	h := NewHandler(mgr, registry, []string{"*"}, true)
	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(func() {
		srv.Close()
		mgr.Stop(context.Background())
		_ = repo.Close()
	})
	return srv, mgr, registry
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Cookie", identity.AnonCookieName+"="+testUser)
	header.Set(identity.SessionHeaderName, sessionID)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Inbound) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// next reads messages until one of type want arrives.
func next(t *testing.T, conn *websocket.Conn, want string) Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read waiting for %q: %v", want, err)
		}
		var msg Outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestPingPongAndRejection(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestStream(t)
	conn := dial(t, srv, "tab-1")

	send(t, conn, Inbound{Type: TypePing})
	next(t, conn, TypePong)

	send(t, conn, Inbound{Type: "teleport"})
	msg := next(t, conn, TypeRejected)
	if !strings.Contains(msg.Error, "teleport") {
		t.Fatalf("rejection = %q", msg.Error)
	}

	send(t, conn, Inbound{Type: TypeAttempt})
	next(t, conn, TypeRejected)
}

func TestEventsReachSession(t *testing.T) {
	t.Parallel()
	srv, mgr, registry := newTestStream(t)
	conn := dial(t, srv, "tab-1")

	now := time.Now().UnixMilli()
	send(t, conn, Inbound{Type: TypeEvents, Events: []domain.RawEvent{
		{Type: domain.EventMeta, Timestamp: now},
		{Type: domain.EventIncremental, Timestamp: now + 5, Data: json.RawMessage(`{"source":3,"id":1}`)},
	}})
	send(t, conn, Inbound{Type: TypeMarker, Marker: "hint_opened"})
	send(t, conn, Inbound{Type: TypeError, Error: &ErrorReport{Message: "ReferenceError: y"}})
	// Messages are handled in order, so the pong means everything above was applied.
	send(t, conn, Inbound{Type: TypePing})
	next(t, conn, TypePong)

	s, err := mgr.Get(testUser, "tab-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stats := s.Stats()
	if stats.BufferedEvents != 2 || stats.CapturedErrors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if registry.Len() != 1 || registry.Get(testUser, "tab-1") == nil {
		t.Fatal("connection should be registered")
	}
}

func TestAttemptsProduceIntervention(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestStream(t)
	conn := dial(t, srv, "quiz")

	answer := func(qid, selected string, correct bool) {
		send(t, conn, Inbound{Type: TypeAttempt, Attempt: &contextual.AttemptInput{
			QuestionID:     qid,
			SelectedAnswer: selected,
			CorrectAnswer:  "right",
			IsCorrect:      correct,
		}})
		msg := next(t, conn, TypeAttemptResult)
		if msg.Attempt == nil || msg.Attempt.QuestionID != qid {
			t.Fatalf("attempt reply = %+v", msg)
		}
	}

	answer("q2", "right", true)
	answer("q3", "right", true)
	for _, selected := range []string{"a", "b", "c", "d"} {
		answer("q1", selected, false)
	}

	msg := next(t, conn, TypeIntervention)
	if msg.Intervention == nil || msg.Intervention.Source != domain.SourceContextual {
		t.Fatalf("intervention = %+v", msg.Intervention)
	}
	if msg.Intervention.Priority != domain.PriorityImmediate {
		t.Fatalf("priority = %q", msg.Intervention.Priority)
	}
}

func TestSessionCloseIsAnnounced(t *testing.T) {
	t.Parallel()
	srv, mgr, _ := newTestStream(t)
	conn := dial(t, srv, "tab-1")

	send(t, conn, Inbound{Type: TypePing})
	next(t, conn, TypePong)

	if err := mgr.Close(context.Background(), testUser, "tab-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	next(t, conn, TypeSessionClosed)
}

func TestRegistryUnregisterStale(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	r.Register("u1", "tab-1", conn1)
	r.Register("u1", "tab-2", conn2)
	r.Unregister("u1", "tab-1", conn2)

	if r.Get("u1", "tab-1") != conn1 {
		t.Fatal("unregistering a different conn must not remove the live one")
	}
	r.Unregister("u1", "tab-1", conn1)
	if r.Get("u1", "tab-1") != nil || r.Get("u1", "tab-2") != conn2 {
		t.Fatal("only tab-1 should be removed")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}
