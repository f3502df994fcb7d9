package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/ashureev/shsh-signals/internal/domain"
)

func sampleSession(n int) *domain.RecordingSession {
	end := int64(10_000 + n)
	s := &domain.RecordingSession{StartTime: 10_000, EndTime: &end}
	s.Events = append(s.Events, domain.RawEvent{
		Type:      domain.EventFullSnapshot,
		Timestamp: 10_000,
		Data:      json.RawMessage(`{"node":{"type":0,"childNodes":[]},"initialOffset":{"left":0,"top":0}}`),
	})
	for i := 1; i < n; i++ {
		s.Events = append(s.Events, domain.RawEvent{
			Type:      domain.EventIncremental,
			Timestamp: int64(10_000 + i),
			Data:      json.RawMessage(fmt.Sprintf(`{"source":2,"type":2,"id":%d,"x":%d,"y":%d}`, i, i*3, i*7)),
		})
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewCompressor(0, nil)
	in := sampleSession(50)

	res, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if res.Codec != TagGzip || !strings.HasPrefix(res.Payload, "gzip:") {
		t.Fatalf("expected gzip payload, got codec %q", res.Codec)
	}
	if res.Trimmed {
		t.Fatal("small session must not be trimmed")
	}
	if res.Ratio <= 0 {
		t.Fatalf("expected positive ratio, got %f", res.Ratio)
	}

	out, err := c.Decode(res.Payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestOriginalSizeMatchesJSON(t *testing.T) {
	t.Parallel()

	in := sampleSession(20)
	want, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := CanonicalSize(in)
	if err != nil {
		t.Fatalf("CanonicalSize: %v", err)
	}
	if got != len(want) {
		t.Fatalf("expected canonical size %d, got %d", len(want), got)
	}
}

type unavailableStrategy struct{}

func (unavailableStrategy) Tag() string { return "zstd" }
func (unavailableStrategy) Encode([]byte) ([]byte, error) { return nil, ErrUnavailable }
func (unavailableStrategy) Decode([]byte) ([]byte, error) { return nil, ErrUnavailable }

type failingStrategy struct{}

func (failingStrategy) Tag() string { return "broken" }
func (failingStrategy) Encode([]byte) ([]byte, error) { return nil, errors.New("boom") }
func (failingStrategy) Decode([]byte) ([]byte, error) { return nil, errors.New("boom") }

func TestFallbackChain(t *testing.T) {
	t.Parallel()

	c := NewCompressor(0, nil, unavailableStrategy{}, failingStrategy{}, RawStrategy{})
	in := sampleSession(5)

	res, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if res.Codec != TagRaw || !strings.HasPrefix(res.Payload, "raw:") {
		t.Fatalf("expected raw fallback, got %q", res.Codec)
	}

	out, err := c.Decode(res.Payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatal("raw round trip mismatch")
	}
}

func TestEncodeFailsWhenNoStrategySucceeds(t *testing.T) {
	t.Parallel()

	c := NewCompressor(0, nil, failingStrategy{})
	if _, err := c.Encode(sampleSession(3)); err == nil {
		t.Fatal("expected error when every strategy fails")
	}
}

func TestTrimKeepsFullSnapshotAndFitsBudget(t *testing.T) {
	t.Parallel()

	in := sampleSession(500)
	full, err := CanonicalSize(in)
	if err != nil {
		t.Fatalf("CanonicalSize: %v", err)
	}
	budget := full / 4

	c := NewCompressor(budget, nil)
	res, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !res.Trimmed {
		t.Fatal("expected trimming for oversized session")
	}
	if res.EncodedSize > budget || res.OverBudget {
		t.Fatalf("trimmed size %d exceeds budget %d", res.EncodedSize, budget)
	}

	out, err := c.Decode(res.Payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	size, err := CanonicalSize(out)
	if err != nil {
		t.Fatalf("CanonicalSize: %v", err)
	}
	if size > budget {
		t.Fatalf("decoded session is %d bytes, budget %d", size, budget)
	}

	snapshots := 0
	for _, e := range out.Events {
		if e.IsFullSnapshot() {
			snapshots++
		}
	}
	if snapshots != 1 {
		t.Fatalf("expected the full snapshot to survive, found %d", snapshots)
	}
	if !out.Events[0].IsFullSnapshot() {
		t.Fatal("expected events re-sorted by timestamp with snapshot first")
	}
	if last := out.Events[len(out.Events)-1].Timestamp; last != in.Events[len(in.Events)-1].Timestamp {
		t.Fatalf("expected newest event kept, got %d", last)
	}
	for i := 1; i < len(out.Events); i++ {
		if out.Events[i].Timestamp < out.Events[i-1].Timestamp {
			t.Fatal("trimmed events are not time ordered")
		}
	}
	if len(out.Events) >= len(in.Events) {
		t.Fatal("expected events to be dropped")
	}
}

func TestTrimKeepsMidStreamSnapshot(t *testing.T) {
	t.Parallel()

	in := sampleSession(300)
	// Move the snapshot to the middle so newest-first retention alone would lose it.
	snap := in.Events[0]
	in.Events = in.Events[1:]
	snap.Timestamp = in.Events[40].Timestamp
	in.Events = append(in.Events[:41], append([]domain.RawEvent{snap}, in.Events[41:]...)...)

	full, _ := CanonicalSize(in)
	c := NewCompressor(full/10, nil)
	res, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := c.Decode(res.Payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !out.Events[0].IsFullSnapshot() {
		t.Fatal("expected snapshot kept and ordered first")
	}
}

func TestOversizedSnapshotIsFlagged(t *testing.T) {
	t.Parallel()

	c := NewCompressor(20, nil)
	res, err := c.Encode(sampleSession(5))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !res.Trimmed || !res.OverBudget {
		t.Fatalf("expected trimmed and over budget, got %+v", res)
	}
	if res.EventCount != 1 || res.EncodedSize <= 20 {
		t.Fatalf("expected only the snapshot kept, got %d events in %d bytes", res.EventCount, res.EncodedSize)
	}

	out, err := c.Decode(res.Payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out.Events) != 1 || !out.Events[0].IsFullSnapshot() {
		t.Fatalf("expected the full snapshot alone, got %+v", out.Events)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	c := NewCompressor(0, nil)
	tests := []struct {
		name    string
		payload string
	}{
		{"no separator", "gzipAAAA"},
		{"empty tag", ":AAAA"},
		{"unknown tag", "lz:AAAA"},
		{"bad base64", "gzip:@@@"},
		{"bad gzip", "gzip:" + base64.StdEncoding.EncodeToString([]byte("not gzip"))},
		{"bad json", "raw:" + base64.StdEncoding.EncodeToString([]byte("{"))},
		{"no events", "raw:" + base64.StdEncoding.EncodeToString([]byte(`{"startTime":1}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := c.Decode(tt.payload)
			if err == nil {
				t.Fatal("expected decode error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if !errors.Is(err, ErrCorrupt) {
				t.Fatal("expected errors.Is(err, ErrCorrupt)")
			}
		})
	}
}

func TestEncodeSkipsInvalidEventData(t *testing.T) {
	t.Parallel()

	in := sampleSession(3)
	in.Events = append(in.Events, domain.RawEvent{
		Type:      domain.EventIncremental,
		Timestamp: 20_000,
		Data:      json.RawMessage(`{broken`),
	})

	c := NewCompressor(0, nil)
	res, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if res.EventCount != 3 || res.Dropped != 1 {
		t.Fatalf("expected 3 kept and 1 dropped, got %d/%d", res.EventCount, res.Dropped)
	}
}
