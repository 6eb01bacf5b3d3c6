// Package cohort derives the risk-class cut points from the static
// reference population and classifies scores against them.
package cohort

import "fmt"

// RiskClass is one of the four quartile-based risk categories.
type RiskClass string

const (
	RiskLow        RiskClass = "Low"
	RiskMediumLow  RiskClass = "Medium-Low"
	RiskMediumHigh RiskClass = "Medium-High"
	RiskHigh       RiskClass = "High"
)

// Classes returns the risk classes from lowest to highest.
func Classes() []RiskClass {
	return []RiskClass{RiskLow, RiskMediumLow, RiskMediumHigh, RiskHigh}
}

// Thresholds holds the quartile cut points of the reference cohort's
// score distribution.
type Thresholds struct {
	Q25    float64 `json:"q25"`
	Median float64 `json:"median"`
	Q75    float64 `json:"q75"`
}

// Default returns the cut points published for the derivation cohort,
// used when no reference spreadsheet is configured.
func Default() Thresholds {
	return Thresholds{Q25: 0.5557, Median: 0.9485, Q75: 1.7101}
}

// Validate checks that the cut points are finite-ordered.
func (t Thresholds) Validate() error {
	if !(t.Q25 < t.Median && t.Median < t.Q75) {
		return fmt.Errorf("thresholds must be strictly increasing, got %v < %v < %v",
			t.Q25, t.Median, t.Q75)
	}
	return nil
}

// Classify maps a score to its risk class. Each boundary uses a strict
// comparison, so a score exactly on a cut point takes the lower class.
func (t Thresholds) Classify(score float64) RiskClass {
	switch {
	case score > t.Q75:
		return RiskHigh
	case score > t.Median:
		return RiskMediumHigh
	case score > t.Q25:
		return RiskMediumLow
	default:
		return RiskLow
	}
}
