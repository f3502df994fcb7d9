package interceptor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestErrorRingIsBounded(t *testing.T) {
	t.Parallel()
	in := New(3, 0, nil)

	for n := 0; n < 5; n++ {
		in.CaptureError(fmt.Sprintf("boom %d", n), "", "")
	}
	errs := in.Errors()
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(errs))
	}
	if errs[0].Message != "boom 2" || errs[2].Message != "boom 4" {
		t.Fatalf("expected the newest errors, got %+v", errs)
	}
}

func TestMarkersAreTimestamped(t *testing.T) {
	t.Parallel()
	in := New(0, 2, nil)
	in.SetClock(fixedClock())

	in.AddMarker("")
	in.AddMarker("activity_started")
	in.AddMarker("question_1_started")
	in.AddMarker("question_1_skipped")

	got := in.Markers()
	want := []string{
		"2026-03-01T12:00:00Z: question_1_started",
		"2026-03-01T12:00:00Z: question_1_skipped",
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGoRecordsPanic(t *testing.T) {
	t.Parallel()
	in := New(0, 0, nil)

	done := make(chan struct{})
	in.Go(func() {
		defer close(done)
		panic("background failure")
	})
	<-done

	deadline := time.Now().Add(time.Second)
	for len(in.Errors()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	errs := in.Errors()
	if len(errs) != 1 || errs[0].Kind != KindRejection || errs[0].Message != "background failure" {
		t.Fatalf("unexpected captured errors %+v", errs)
	}
	if errs[0].Stack == "" {
		t.Fatal("expected a stack trace")
	}
}

func TestTransportCapturesFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	in := New(0, 0, nil)
	client := &http.Client{Transport: in.Transport(nil)}

	for _, path := range []string{"/ok", "/down"} {
		resp, err := client.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
	}
	if _, err := client.Get("http://127.0.0.1:0/unreachable"); err == nil {
		t.Fatal("expected a dial error")
	}

	errs := in.Errors()
	if len(errs) != 2 {
		t.Fatalf("expected 2 network errors, got %+v", errs)
	}
	if errs[0].Status != http.StatusServiceUnavailable || !strings.HasSuffix(errs[0].Source, "/down") {
		t.Fatalf("unexpected status capture %+v", errs[0])
	}
	if errs[1].Kind != KindNetwork || errs[1].Status != 0 {
		t.Fatalf("unexpected dial capture %+v", errs[1])
	}
}

func TestSuppress(t *testing.T) {
	t.Parallel()
	in := New(0, 0, nil)
	in.Suppress("ResizeObserver loop")

	in.CaptureConsole("ResizeObserver loop limit exceeded")
	in.CaptureConsole("render failed:", 42)

	errs := in.Errors()
	if len(errs) != 1 || errs[0].Message != "render failed: 42" {
		t.Fatalf("unexpected errors %+v", errs)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	in := New(0, 0, nil)
	in.SetClock(fixedClock())

	if in.Summary() != "" {
		t.Fatal("expected an empty summary")
	}

	for n := 0; n < 7; n++ {
		in.CaptureError(fmt.Sprintf("err %d", n), "line1\nline2\n\nline3\nline4", "quiz.js")
	}
	in.AddMarker("question_2_started")

	s := in.Summary()
	if strings.Contains(s, "err 1 at") || !strings.Contains(s, "err 2") || !strings.Contains(s, "err 6") {
		t.Fatalf("expected the five newest errors:\n%s", s)
	}
	if strings.Contains(s, "line4") || !strings.Contains(s, "line3") {
		t.Fatalf("expected three stack lines per error:\n%s", s)
	}
	if !strings.Contains(s, "2026-03-01T12:00:00Z: question_2_started") {
		t.Fatalf("expected markers in summary:\n%s", s)
	}

	in.Reset()
	if in.Summary() != "" || len(in.Markers()) != 0 {
		t.Fatal("expected reset to clear both rings")
	}
}

func TestCaptureKind(t *testing.T) {
	t.Parallel()
	in := New(0, 0, nil)

	in.CaptureKind(KindRejection, "promise rejected", "", "")
	in.CaptureKind("bogus", "plain error", "at main.js:1", "main.js")

	errs := in.Errors()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs[0].Kind != KindRejection {
		t.Errorf("first kind = %q, want rejection", errs[0].Kind)
	}
	if errs[1].Kind != KindError || errs[1].Source != "main.js" {
		t.Errorf("unknown kind should be recorded as error, got %+v", errs[1])
	}
}
