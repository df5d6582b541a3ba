// Package findings contains the normalized security-finding model produced
// by the result aggregator and owned by the live issue tracker.
package findings

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

func (s Severity) String() string { return string(s) }

// Rank returns an ordering value for sorting, highest severity first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity converts a backend severity string to a Severity. Unknown
// values map to Info.
func ParseSeverity(s string) Severity {
	switch s {
	case "Critical", "CRITICAL":
		return SeverityCritical
	case "High", "HIGH":
		return SeverityHigh
	case "Medium", "MEDIUM":
		return SeverityMedium
	case "Low", "LOW":
		return SeverityLow
	default:
		return SeverityInfo
	}
}
