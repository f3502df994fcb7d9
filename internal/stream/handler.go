package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/contextual"
	"github.com/ashureev/shsh-signals/internal/domain"
	"github.com/ashureev/shsh-signals/internal/identity"
	"github.com/ashureev/shsh-signals/internal/interceptor"
)

const (
	writeTimeout = 5 * time.Second
	// readLimit bounds one inbound frame; event batches are the largest.
	readLimit = 8 << 20
)

// Message types exchanged on the socket.
const (
	TypeEvents        = "events"
	TypeStartQuestion = "start_question"
	TypeAttempt       = "attempt"
	TypeSkip          = "skip"
	TypeMarker        = "marker"
	TypeError         = "error"
	TypePing          = "ping"

	TypePong          = "pong"
	TypeAttemptResult = "attempt_recorded"
	TypeSkipResult    = "skip_recorded"
	TypeIntervention  = "intervention"
	TypeSessionClosed = "session_closed"
	TypeRejected      = "rejected"
)

// Inbound is one message from the client.
type Inbound struct {
	Type       string                   `json:"type"`
	Events     []domain.RawEvent        `json:"events,omitempty"`
	QuestionID string                   `json:"questionId,omitempty"`
	Attempt    *contextual.AttemptInput `json:"attempt,omitempty"`
	Skip       *contextual.SkipInput    `json:"skip,omitempty"`
	Marker     string                   `json:"marker,omitempty"`
	Error      *ErrorReport             `json:"error,omitempty"`
}

// ErrorReport is a client-side error carried by an "error" message.
type ErrorReport struct {
	Kind    interceptor.Kind `json:"kind"`
	Message string           `json:"message"`
	Stack   string           `json:"stack,omitempty"`
	Source  string           `json:"source,omitempty"`
}

// Outbound is one message to the client.
type Outbound struct {
	Type         string                    `json:"type"`
	Intervention *domain.Intervention      `json:"intervention,omitempty"`
	Attempt      *domain.QuestionAttempt   `json:"attempt,omitempty"`
	Skip         *domain.QuestionSkipEvent `json:"skip,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// Handler serves /ws/telemetry.
type Handler struct {
	coach          *coach.Manager
	registry       *Registry
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(mgr *coach.Manager, registry *Registry, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		coach:          mgr,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	userID, sessionID := id.UserID, id.SessionID
	slog.Info("[STREAM] Connection request",
		"user_id", userID,
		"session_id", sessionID,
		"new_device", id.Fresh,
		"ip", identity.IPFromRequest(r),
	)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	session, err := h.coach.Open(userID, sessionID)
	if err != nil {
		slog.Warn("[STREAM] Failed to open session", "user_id", userID, "error", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("[STREAM] Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("[STREAM] Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, sessionID, ws)
	defer h.registry.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: client -> session.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, session)
	}()

	// Output loop: session interventions -> client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, session)
	}()

	wg.Wait()
	slog.Info("[STREAM] Connection ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("[STREAM] Origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, s *coach.Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("[STREAM] WebSocket closed", "user_id", s.UserID)
			} else {
				slog.Warn("[STREAM] WebSocket read error", "error", err, "user_id", s.UserID)
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reject(ctx, ws, "invalid message: "+err.Error())
			continue
		}
		if reply := h.dispatch(s, msg); reply != nil {
			if err := writeJSON(ctx, ws, reply); err != nil {
				slog.Debug("[STREAM] Failed to send reply", "type", reply.Type, "error", err)
				return
			}
		}
	}
}

// dispatch applies one inbound message and returns the reply, if any.
func (h *Handler) dispatch(s *coach.Session, msg Inbound) *Outbound {
	switch msg.Type {
	case TypeEvents:
		s.Emit(msg.Events...)
	case TypeStartQuestion:
		if msg.QuestionID == "" {
			return &Outbound{Type: TypeRejected, Error: contextual.ErrMissingQuestionID.Error()}
		}
		s.StartQuestion(msg.QuestionID)
	case TypeAttempt:
		if msg.Attempt == nil {
			return &Outbound{Type: TypeRejected, Error: "attempt is required"}
		}
		attempt, err := s.RecordAttempt(*msg.Attempt)
		if err != nil {
			return &Outbound{Type: TypeRejected, Error: err.Error()}
		}
		return &Outbound{Type: TypeAttemptResult, Attempt: &attempt}
	case TypeSkip:
		if msg.Skip == nil {
			return &Outbound{Type: TypeRejected, Error: "skip is required"}
		}
		skip, err := s.RecordSkip(*msg.Skip)
		if err != nil {
			return &Outbound{Type: TypeRejected, Error: err.Error()}
		}
		return &Outbound{Type: TypeSkipResult, Skip: &skip}
	case TypeMarker:
		s.AddMarker(msg.Marker)
	case TypeError:
		if msg.Error != nil && msg.Error.Message != "" {
			s.Interceptor().CaptureKind(msg.Error.Kind, msg.Error.Message, msg.Error.Stack, msg.Error.Source)
		}
	case TypePing:
		return &Outbound{Type: TypePong}
	default:
		return &Outbound{Type: TypeRejected, Error: "unknown message type: " + msg.Type}
	}
	return nil
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, s *coach.Session) {
	out := s.Outbound()
	for {
		select {
		case <-ctx.Done():
			return
		case iv, ok := <-out:
			if !ok {
				if err := writeJSON(ctx, ws, &Outbound{Type: TypeSessionClosed}); err != nil {
					slog.Debug("[STREAM] Failed to send session_closed", "error", err)
				}
				return
			}
			if err := writeJSON(ctx, ws, &Outbound{Type: TypeIntervention, Intervention: &iv}); err != nil {
				slog.Warn("[STREAM] Failed to deliver intervention", "user_id", s.UserID, "error", err)
				return
			}
		}
	}
}

func (h *Handler) reject(ctx context.Context, ws *websocket.Conn, reason string) {
	if err := writeJSON(ctx, ws, &Outbound{Type: TypeRejected, Error: reason}); err != nil {
		slog.Debug("[STREAM] Failed to send rejection", "error", err)
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
