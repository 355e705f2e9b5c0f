// Package risk classifies a candidate's exposure to a hazard event into a
// marketing priority tier.
package risk

// Tier is a discrete risk classification.
type Tier string

// Risk tiers, highest priority first.
const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Rank orders tiers so that a larger rank means higher risk.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierHigh || t == TierMedium || t == TierLow
}

// Weather severities recognized by SeverityMagnitude.
const (
	SeveritySevere   = "severe"
	SeverityHeavy    = "heavy"
	SeverityModerate = "moderate"
)

// SeverityMagnitude maps a weather severity label onto the earthquake
// magnitude scale so weather events share one classifier.
func SeverityMagnitude(severity string) float64 {
	switch severity {
	case SeveritySevere:
		return 6.0
	case SeverityHeavy:
		return 5.0
	case SeverityModerate:
		return 3.0
	default:
		return 0
	}
}
