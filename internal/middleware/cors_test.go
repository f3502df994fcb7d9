package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		wantCreds   string
		wantHeaders string
	}{
		{"explicit", []string{"http://app.test"}, "http://app.test", "http://app.test", "true", "Content-Type, X-Activity-Session-ID"},
		{"wildcard", []string{"*"}, "http://other.test", "http://other.test", "", "Content-Type, X-Activity-Session-ID"},
		{"rejected", []string{"http://app.test"}, "http://evil.test", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := CORS(tt.allowed, "X-Activity-Session-ID")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			r := httptest.NewRequest(http.MethodGet, "/api/recordings", nil)
			r.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); got != tt.wantHeaders {
				t.Errorf("Allow-Headers = %q, want %q", got, tt.wantHeaders)
			}
			if w.Code != http.StatusNoContent {
				t.Errorf("status = %d, want 204", w.Code)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	called := false
	h := CORS([]string{"*"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	r := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	r.Header.Set("Origin", "http://app.test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK || called {
		t.Fatalf("preflight status = %d, handler called = %v", w.Code, called)
	}
}
