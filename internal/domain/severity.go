package domain

// Severity grades a detected pattern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MaxSeverityWeight is the largest value Weight returns.
const MaxSeverityWeight = 1.0

// Weight returns the scoring weight used by both detectors.
// Critical shares the ceiling with high so adding it never lowers a mean score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.3
	case SeverityMedium:
		return 0.6
	case SeverityHigh, SeverityCritical:
		return 1.0
	default:
		return 0
	}
}

// Rank orders severities for sorting; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Priority tells consumers how urgently an intervention should be shown.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PrioritySoon      Priority = "soon"
	PriorityMonitor   Priority = "monitor"
)

// MeanWeight averages severity weights normalized by MaxSeverityWeight.
// An empty set scores zero.
func MeanWeight(severities []Severity) float64 {
	if len(severities) == 0 {
		return 0
	}
	var total float64
	for _, s := range severities {
		total += s.Weight()
	}
	return total / (float64(len(severities)) * MaxSeverityWeight)
}
