package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// InteractionKind is the recognized sub-kind of a raw event.
type InteractionKind int

const (
	// Unclassified events are skipped by every pattern matcher.
	Unclassified InteractionKind = iota
	InteractionFullSnapshot
	InteractionMutation
	InteractionClick
	// InteractionPointer covers mouse interactions other than clicks (focus, mousedown, touch).
	InteractionPointer
	InteractionScroll
	InteractionTextInput
	InteractionViewportResize
)

var interactionKindNames = map[InteractionKind]string{
	Unclassified:              "unclassified",
	InteractionFullSnapshot:   "full_snapshot",
	InteractionMutation:       "mutation",
	InteractionClick:          "click",
	InteractionPointer:        "pointer",
	InteractionScroll:         "scroll",
	InteractionTextInput:      "text_input",
	InteractionViewportResize: "viewport_resize",
}

func (k InteractionKind) String() string {
	if name, ok := interactionKindNames[k]; ok {
		return name
	}
	return "unclassified"
}

// Mouse interaction sub-types that count as a click.
const (
	mouseClick    = 2
	mouseDblClick = 4
)

// Interaction is the classified view of a RawEvent.
// Only the fields relevant to Kind are populated.
type Interaction struct {
	Kind        InteractionKind
	Timestamp   int64
	Target      string
	X, Y        float64
	HasPosition bool
	Key         string
	Text        string
}

// IsReal reports whether the interaction was produced by the learner
// rather than by the page mutating itself.
func (i Interaction) IsReal() bool {
	switch i.Kind {
	case InteractionClick, InteractionPointer, InteractionScroll, InteractionTextInput:
		return true
	default:
		return false
	}
}

// PositionKey returns a stable key for the click coordinates.
func (i Interaction) PositionKey() string {
	return strconv.FormatFloat(i.X, 'f', -1, 64) + "," + strconv.FormatFloat(i.Y, 'f', -1, 64)
}

// TargetMatches reports whether the lowercased target contains any of the needles.
func (i Interaction) TargetMatches(needles ...string) bool {
	if i.Target == "" {
		return false
	}
	target := strings.ToLower(i.Target)
	for _, n := range needles {
		if strings.Contains(target, n) {
			return true
		}
	}
	return false
}

type incrementalData struct {
	Source *IncrementalSource `json:"source"`
	Type   *int               `json:"type"`
	ID     json.RawMessage    `json:"id"`
	X      *float64           `json:"x"`
	Y      *float64           `json:"y"`
	Key    string             `json:"key"`
	Text   string             `json:"text"`
}

// Classify maps a raw event onto the small set of recognized interaction kinds.
// Malformed or unknown payloads yield Unclassified; it never fails.
func Classify(e RawEvent) Interaction {
	in := Interaction{Kind: Unclassified, Timestamp: e.Timestamp}

	switch e.Type {
	case EventFullSnapshot:
		in.Kind = InteractionFullSnapshot
		return in
	case EventIncremental:
	default:
		return in
	}

	if len(e.Data) == 0 {
		return in
	}
	var data incrementalData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Source == nil {
		return in
	}

	in.Target = targetString(data.ID)
	if data.X != nil && data.Y != nil {
		in.X, in.Y = *data.X, *data.Y
		in.HasPosition = true
	}

	switch *data.Source {
	case SourceMutation:
		in.Kind = InteractionMutation
	case SourceMouseInteraction:
		in.Kind = InteractionPointer
		if data.Type == nil || *data.Type == mouseClick || *data.Type == mouseDblClick {
			in.Kind = InteractionClick
		}
	case SourceScroll:
		in.Kind = InteractionScroll
	case SourceInput:
		in.Kind = InteractionTextInput
		in.Key = data.Key
		in.Text = data.Text
	case SourceViewportResize:
		in.Kind = InteractionViewportResize
	}
	return in
}

// ClassifyAll classifies every event, preserving order.
func ClassifyAll(events []RawEvent) []Interaction {
	out := make([]Interaction, len(events))
	for i, e := range events {
		out[i] = Classify(e)
	}
	return out
}

func targetString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}
