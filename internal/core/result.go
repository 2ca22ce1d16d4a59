package core

import "time"

// RiskLevel summarizes the severity of one rule's outcome.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
	RiskError  RiskLevel = "error"
)

// RuleResult is the structured outcome of one rule evaluation.
// At most one of Deduction and Bonus is non-zero.
type RuleResult struct {
	RuleName  string    `json:"ruleName"`
	Deduction float64   `json:"deduction"`
	Bonus     float64   `json:"bonus"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Findings  []Finding `json:"findings,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Band is the policy classification of a final score.
type Band string

const (
	BandSafe     Band = "Safe"
	BandReview   Band = "Review"
	BandHighRisk Band = "High Risk"
	BandBlock    Band = "Block"
)

// Band cut points are policy constants, not derived from rule weights.
const (
	bandSafeMin     = 90
	bandReviewMin   = 70
	bandHighRiskMin = 50
)

// BandFor maps a final score to its band.
func BandFor(score float64) Band {
	switch {
	case score >= bandSafeMin:
		return BandSafe
	case score >= bandReviewMin:
		return BandReview
	case score >= bandHighRiskMin:
		return BandHighRisk
	default:
		return BandBlock
	}
}

// ScoreResult is the aggregate outcome of scoring one package version.
// It is immutable after CalculateScore returns.
type ScoreResult struct {
	PackageName    string       `json:"packageName"`
	PackageVersion string       `json:"packageVersion"`
	Score          float64      `json:"score"`
	Band           Band         `json:"band"`
	RuleResults    []RuleResult `json:"ruleResults"`
	Timestamp      time.Time    `json:"timestamp"`
}
