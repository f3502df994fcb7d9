// Package interceptor keeps the recent errors and context markers of an
// activity session so they can be attached to an intervention.
package interceptor

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-signals/internal/ring"
)

const (
	DefaultMaxErrors  = 50
	DefaultMaxMarkers = 20

	summaryErrors     = 5
	summaryStackLines = 3
)

// Kind tells where a captured error came from.
type Kind string

const (
	KindError     Kind = "error"
	KindRejection Kind = "rejection"
	KindConsole   Kind = "console"
	KindNetwork   Kind = "network"
)

// CapturedError is one entry of the error ring.
type CapturedError struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Source    string    `json:"source,omitempty"`
	Status    int       `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Interceptor never lets a capture failure reach the caller.
type Interceptor struct {
	errors  *ring.Buffer[CapturedError]
	markers *ring.Buffer[string]
	logger  *slog.Logger

	mu       sync.RWMutex
	now      func() time.Time
	suppress []string
}

// New creates an interceptor. Non-positive sizes take the defaults.
func New(maxErrors, maxMarkers int, logger *slog.Logger) *Interceptor {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	if maxMarkers <= 0 {
		maxMarkers = DefaultMaxMarkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		errors:  ring.New[CapturedError](maxErrors),
		markers: ring.New[string](maxMarkers),
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (i *Interceptor) SetClock(now func() time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.now = now
}

// Suppress drops future errors whose message contains any of substrs.
func (i *Interceptor) Suppress(substrs ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.suppress = append(i.suppress, substrs...)
}

// CaptureError records an error raised by the activity.
func (i *Interceptor) CaptureError(message, stack, source string) {
	i.capture(CapturedError{Kind: KindError, Message: message, Stack: stack, Source: source})
}

// CaptureRejection records a failure that nothing handled.
func (i *Interceptor) CaptureRejection(reason any, stack string) {
	i.capture(CapturedError{Kind: KindRejection, Message: fmt.Sprint(reason), Stack: stack})
}

// CaptureConsole records an error-level console message.
func (i *Interceptor) CaptureConsole(args ...any) {
	parts := make([]string, len(args))
	for n, a := range args {
		parts[n] = fmt.Sprint(a)
	}
	i.capture(CapturedError{Kind: KindConsole, Message: strings.Join(parts, " ")})
}

// CaptureKind records a report whose origin is only known by kind, as
// sent by remote clients. Unknown kinds are recorded as errors.
func (i *Interceptor) CaptureKind(kind Kind, message, stack, source string) {
	switch kind {
	case KindRejection, KindConsole, KindNetwork:
	default:
		kind = KindError
	}
	i.capture(CapturedError{Kind: kind, Message: message, Stack: stack, Source: source})
}

// AddMarker appends a context marker such as "question_3_started".
func (i *Interceptor) AddMarker(marker string) {
	if marker == "" {
		return
	}
	i.mu.RLock()
	now := i.now()
	i.mu.RUnlock()
	i.markers.Push(now.UTC().Format(time.RFC3339) + ": " + marker)
}

// Go runs fn in a goroutine and records a panic as a rejection.
func (i *Interceptor) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.CaptureRejection(r, string(debug.Stack()))
				i.logger.Error("[INTERCEPTOR] Recovered panic in background task", "panic", r)
			}
		}()
		fn()
	}()
}

// Errors returns the captured errors, oldest first.
func (i *Interceptor) Errors() []CapturedError {
	return i.errors.Items()
}

// Markers returns the rendered markers, oldest first.
func (i *Interceptor) Markers() []string {
	return i.markers.Items()
}

// Reset clears both rings.
func (i *Interceptor) Reset() {
	i.errors.Reset()
	i.markers.Reset()
}

// Summary renders the recent errors and markers for a diagnostic prompt.
// It is empty when nothing was captured.
func (i *Interceptor) Summary() string {
	errs := i.errors.Last(summaryErrors)
	markers := i.markers.Items()
	if len(errs) == 0 && len(markers) == 0 {
		return ""
	}

	var b strings.Builder
	if len(errs) > 0 {
		b.WriteString("Recent errors:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- [%s] %s", e.Kind, e.Message)
			if e.Status != 0 {
				fmt.Fprintf(&b, " (status %d)", e.Status)
			}
			if e.Source != "" {
				fmt.Fprintf(&b, " at %s", e.Source)
			}
			b.WriteByte('\n')
			for _, line := range stackHead(e.Stack, summaryStackLines) {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	if len(markers) > 0 {
		b.WriteString("Context markers:\n")
		for _, m := range markers {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Transport wraps next so failed requests and 4xx/5xx responses are
// recorded. A nil next uses http.DefaultTransport.
func (i *Interceptor) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripper{next: next, in: i}
}

type roundTripper struct {
	next http.RoundTripper
	in   *Interceptor
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.next.RoundTrip(req)
	source := req.Method + " " + req.URL.String()
	if err != nil {
		rt.in.capture(CapturedError{Kind: KindNetwork, Message: err.Error(), Source: source})
		return resp, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		rt.in.capture(CapturedError{
			Kind:    KindNetwork,
			Message: resp.Status,
			Source:  source,
			Status:  resp.StatusCode,
		})
	}
	return resp, nil
}

func (i *Interceptor) capture(e CapturedError) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Warn("[INTERCEPTOR] Capture failed", "panic", r)
		}
	}()

	i.mu.RLock()
	now := i.now()
	suppressed := false
	for _, s := range i.suppress {
		if s != "" && strings.Contains(e.Message, s) {
			suppressed = true
			break
		}
	}
	i.mu.RUnlock()
	if suppressed {
		return
	}

	e.Timestamp = now
	i.errors.Push(e)
	i.logger.Debug("[INTERCEPTOR] Error captured", "kind", e.Kind, "message", e.Message)
}

func stackHead(stack string, n int) []string {
	if stack == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
