// Package identity resolves who is being observed: an anonymous device id
// kept in a cookie, and the activity session the telemetry belongs to.
package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AnonCookieName        = "signals_anon_id"
	SessionHeaderName     = "X-Activity-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
	anonPrefix            = "anon_"
)

// Identity is the learner and activity a request reports on.
type Identity struct {
	UserID    string
	SessionID string
	// Fresh is set when the device id was issued by this request.
	Fresh bool
}

type contextKey struct{}

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// FromContext returns the identity stored by Middleware or WithIdentity.
// A context without one yields an empty user and the default session.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Identity{SessionID: DefaultSessionIDValue}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	return FromContext(ctx).UserID
}

// SessionIDFromContext extracts the activity session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	return FromContext(ctx).SessionID
}

// WithIdentity returns ctx carrying userID and sessionID. An invalid
// session id is replaced by the default one.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		UserID:    userID,
		SessionID: sanitizeSessionID(sessionID),
	})
}

// newAnonID derives a device id from a random UUID.
func newAnonID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return anonPrefix + hex.EncodeToString(u[:]), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// deviceID returns the cookie's id, or a new one when it is missing or malformed.
func deviceID(r *http.Request) (id string, fresh bool, err error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		return c.Value, false, nil
	}
	id, err = newAnonID()
	return id, true, err
}

// activitySessionID prefers the header; WebSocket clients that cannot set
// headers pass the query parameter instead.
func activitySessionID(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sanitizeSessionID(sid)
	}
	return sanitizeSessionID(r.URL.Query().Get(SessionQueryParam))
}

// Resolve reads the identity of r without touching the response.
func Resolve(r *http.Request) (Identity, error) {
	userID, fresh, err := deviceID(r)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, SessionID: activitySessionID(r), Fresh: fresh}, nil
}

// Middleware resolves the identity of every request and refreshes the
// device cookie so active learners keep the same id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Resolve(r)
			if err != nil {
				slog.Error("[IDENTITY] Failed to issue device id", "error", err)
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			if id.Fresh {
				slog.Debug("[IDENTITY] Issued device id", "user_id", id.UserID, "ip", IPFromRequest(r))
			}

			http.SetCookie(w, &http.Cookie{
				Name:     AnonCookieName,
				Value:    id.UserID,
				Path:     "/",
				MaxAge:   int(anonCookieMaxAge.Seconds()),
				Expires:  time.Now().Add(anonCookieMaxAge),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   !isDev,
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
		})
	}
}

// IPFromRequest returns the remote host of r, without the port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
