// Package codec serializes recording sessions into tagged, size-bounded payloads.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ashureev/shsh-signals/internal/domain"
)

// DefaultMaxSize is the byte budget for a canonical session encoding.
const DefaultMaxSize = 4 << 20

// Result describes one encoded session.
type Result struct {
	Payload        string  `json:"payload"`
	Codec          string  `json:"codec"`
	OriginalSize   int     `json:"originalSize"`
	EncodedSize    int     `json:"encodedSize"`
	CompressedSize int     `json:"compressedSize"`
	Ratio          float64 `json:"ratio"`
	EventCount     int     `json:"eventCount"`
	Trimmed        bool    `json:"trimmed"`
	// OverBudget is set when the kept full snapshot alone exceeds the budget.
	OverBudget bool `json:"overBudget,omitempty"`
	Dropped    int  `json:"dropped"`
}

// Compressor encodes sessions through an ordered list of strategies.
type Compressor struct {
	maxSize    int
	strategies []Strategy
	logger     *slog.Logger
}

// NewCompressor creates a compressor. With no strategies, DefaultStrategies is used.
func NewCompressor(maxSize int, logger *slog.Logger, strategies ...Strategy) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Compressor{
		maxSize:    maxSize,
		strategies: strategies,
		logger:     logger,
	}
}

// MaxSize returns the byte budget.
func (c *Compressor) MaxSize() int {
	return c.maxSize
}

// Encode serializes session, trims it to the byte budget if needed, and
// encodes it with the first strategy that succeeds.
func (c *Compressor) Encode(session *domain.RecordingSession) (*Result, error) {
	if session == nil {
		return nil, errors.New("encode session: nil session")
	}

	layout, err := newSessionLayout(session)
	if err != nil {
		return nil, err
	}
	if len(layout.skipped) > 0 {
		c.logger.Warn("[CODEC] Dropped events with unencodable data", "count", len(layout.skipped))
	}

	originalSize := layout.size(layout.allIndexes())
	keep := layout.allIndexes()
	trimmed := false
	if originalSize > c.maxSize {
		keep = layout.trim(c.maxSize)
		trimmed = true
		c.logger.Info("[CODEC] Session trimmed to budget",
			"original_size", originalSize,
			"budget", c.maxSize,
			"kept_events", len(keep),
			"total_events", len(layout.events),
		)
	}

	canonical := layout.render(keep)
	overBudget := trimmed && len(canonical) > c.maxSize
	if overBudget {
		c.logger.Warn("[CODEC] Full snapshot exceeds budget, payload left over budget",
			"size", len(canonical),
			"budget", c.maxSize,
		)
	}

	for _, s := range c.strategies {
		encoded, err := s.Encode(canonical)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				c.logger.Debug("[CODEC] Strategy unavailable", "tag", s.Tag(), "error", err)
			} else {
				c.logger.Warn("[CODEC] Strategy failed, trying next", "tag", s.Tag(), "error", err)
			}
			continue
		}

		payload := s.Tag() + ":" + base64.StdEncoding.EncodeToString(encoded)
		ratio := 0.0
		if originalSize > 0 {
			ratio = float64(len(payload)) / float64(originalSize)
		}
		return &Result{
			Payload:        payload,
			Codec:          s.Tag(),
			OriginalSize:   originalSize,
			EncodedSize:    len(canonical),
			CompressedSize: len(payload),
			Ratio:          ratio,
			EventCount:     len(keep),
			Trimmed:        trimmed,
			OverBudget:     overBudget,
			Dropped:        len(session.Events) - len(keep),
		}, nil
	}
	return nil, errors.New("encode session: no codec strategy succeeded")
}

// Decode parses a payload produced by Encode. Any failure is a *DecodeError.
func (c *Compressor) Decode(payload string) (*domain.RecordingSession, error) {
	tag, body, ok := strings.Cut(payload, ":")
	if !ok || tag == "" {
		return nil, &DecodeError{Reason: "missing codec tag"}
	}

	var strategy Strategy
	for _, s := range c.strategies {
		if s.Tag() == tag {
			strategy = s
			break
		}
	}
	if strategy == nil {
		return nil, &DecodeError{Tag: tag, Reason: "unknown codec tag"}
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, &DecodeError{Tag: tag, Reason: "invalid base64", Err: err}
	}
	data, err := strategy.Decode(raw)
	if err != nil {
		return nil, &DecodeError{Tag: tag, Reason: "decompress", Err: err}
	}

	var session domain.RecordingSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &DecodeError{Tag: tag, Reason: "invalid session json", Err: err}
	}
	if session.Events == nil {
		return nil, &DecodeError{Tag: tag, Reason: "missing events"}
	}
	return &session, nil
}

// CanonicalSize returns the byte length of the canonical encoding of session.
func CanonicalSize(session *domain.RecordingSession) (int, error) {
	layout, err := newSessionLayout(session)
	if err != nil {
		return 0, err
	}
	return layout.size(layout.allIndexes()), nil
}

// sessionLayout holds the session envelope and each event pre-encoded, so
// sizes of any subset can be computed without re-marshaling.
type sessionLayout struct {
	prefix  []byte // everything up to and including the events '['
	suffix  []byte // everything from the closing ']'
	events  []domain.RawEvent
	encoded [][]byte
	skipped []int
}

func newSessionLayout(session *domain.RecordingSession) (*sessionLayout, error) {
	envelope := domain.RecordingSession{
		Events:    []domain.RawEvent{},
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
	}
	head, err := marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode session envelope: %w", err)
	}
	marker := []byte(`"events":[]`)
	idx := bytes.Index(head, marker)
	if idx < 0 {
		return nil, errors.New("encode session envelope: events field not found")
	}
	split := idx + len(marker) - 1

	layout := &sessionLayout{
		prefix: head[:split],
		suffix: head[split:],
	}
	for i, e := range session.Events {
		b, err := marshal(e)
		if err != nil {
			layout.skipped = append(layout.skipped, i)
			continue
		}
		layout.events = append(layout.events, e)
		layout.encoded = append(layout.encoded, b)
	}
	return layout, nil
}

func (l *sessionLayout) allIndexes() []int {
	idx := make([]int, len(l.events))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func (l *sessionLayout) size(keep []int) int {
	n := len(l.prefix) + len(l.suffix)
	for _, i := range keep {
		n += len(l.encoded[i])
	}
	if len(keep) > 1 {
		n += len(keep) - 1
	}
	return n
}

// trim keeps the last full snapshot, then adds events newest first until
// the next one would exceed budget. The result is ordered by timestamp.
func (l *sessionLayout) trim(budget int) []int {
	keep := make([]int, 0, len(l.events))
	used := len(l.prefix) + len(l.suffix)

	full := -1
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].IsFullSnapshot() {
			full = i
			break
		}
	}
	if full >= 0 {
		keep = append(keep, full)
		used += len(l.encoded[full])
	}

	for i := len(l.events) - 1; i >= 0; i-- {
		if i == full {
			continue
		}
		cost := len(l.encoded[i])
		if len(keep) > 0 {
			cost++
		}
		if used+cost > budget {
			break
		}
		keep = append(keep, i)
		used += cost
	}

	sort.Ints(keep)
	sort.SliceStable(keep, func(a, b int) bool {
		return l.events[keep[a]].Timestamp < l.events[keep[b]].Timestamp
	})
	return keep
}

func (l *sessionLayout) render(keep []int) []byte {
	out := make([]byte, 0, l.size(keep))
	out = append(out, l.prefix...)
	for n, i := range keep {
		if n > 0 {
			out = append(out, ',')
		}
		out = append(out, l.encoded[i]...)
	}
	return append(out, l.suffix...)
}

// marshal encodes v as compact JSON without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
