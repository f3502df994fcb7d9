// Package domain contains core domain types for the telemetry engine.
package domain

import (
	"encoding/json"
	"time"
)

// EventType mirrors the numeric event kinds emitted by the capture library.
type EventType int

const (
	EventDomContentLoaded EventType = iota
	EventLoad
	EventFullSnapshot
	EventIncremental
	EventMeta
	EventCustom
	EventPlugin
)

// IncrementalSource identifies what produced an incremental event.
type IncrementalSource int

const (
	SourceMutation IncrementalSource = iota
	SourceMouseMove
	SourceMouseInteraction
	SourceScroll
	SourceViewportResize
	SourceInput
	SourceTouchMove
	SourceMediaInteraction
)

// RawEvent is one timestamped event from the capture stream.
// Data is kept verbatim so that sessions replay exactly as captured.
type RawEvent struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IsFullSnapshot reports whether the event carries complete UI state.
func (e RawEvent) IsFullSnapshot() bool {
	return e.Type == EventFullSnapshot
}

// RecordingSession is a captured, time-ordered slice of the event stream.
type RecordingSession struct {
	Events    []RawEvent `json:"events"`
	StartTime int64      `json:"startTime"`
	EndTime   *int64     `json:"endTime,omitempty"`
}

// Duration returns the wall span covered by the session, or zero while open.
func (s *RecordingSession) Duration() time.Duration {
	if s == nil || s.EndTime == nil {
		return 0
	}
	return time.Duration(*s.EndTime-s.StartTime) * time.Millisecond
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
