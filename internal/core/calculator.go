package core

import (
	"context"
	"fmt"
	"math"
	"time"
)

// CalculatorConfig bounds and seeds the aggregate score.
type CalculatorConfig struct {
	BaseScore float64
	MinScore  float64
	MaxScore  float64
}

// DefaultCalculatorConfig returns the standard 0-100 scale.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{BaseScore: 100, MinScore: 0, MaxScore: 100}
}

// Calculator orchestrates sequential rule evaluation and aggregates
// deductions and bonuses into one clamped score. It performs no I/O of
// its own; all I/O lives inside individual rules.
type Calculator struct {
	cfg   CalculatorConfig
	rules *RuleSet
}

// NewCalculator creates a calculator over an empty rule set.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{cfg: cfg, rules: NewRuleSet()}
}

// RegisterRule adds a rule to the calculator's rule set.
func (c *Calculator) RegisterRule(r Rule) {
	c.rules.Register(r)
}

// Rules returns all registered rules in registration order.
func (c *Calculator) Rules() []Rule {
	return c.rules.Rules()
}

// CalculateScore evaluates every active rule against the snapshot, in
// registration order, and aggregates the results. A nil snapshot is the
// one fatal error. A failing rule is recorded as an error-level result
// with zero impact and never blocks the remaining rules.
func (c *Calculator) CalculateScore(ctx context.Context, snap *PackageSnapshot) (*ScoreResult, error) {
	if snap == nil {
		return nil, &InvalidInputError{Field: "package snapshot"}
	}

	active := c.rules.ActiveRules()
	results := make([]RuleResult, 0, len(active))
	score := c.cfg.BaseScore

	for _, rule := range active {
		res, err := evaluateRule(ctx, rule, snap)
		if err != nil {
			results = append(results, RuleResult{
				RuleName:  rule.Name(),
				RiskLevel: RiskError,
				Err:       err.Error(),
			})
			continue
		}
		if res == nil {
			res = &RuleResult{RiskLevel: RiskNone}
		}
		res.RuleName = rule.Name()
		score -= res.Deduction
		score += res.Bonus
		results = append(results, *res)
	}

	score = clamp(score, c.cfg.MinScore, c.cfg.MaxScore)
	score = round2(score)

	return &ScoreResult{
		PackageName:    snap.Name,
		PackageVersion: snap.Version,
		Score:          score,
		Band:           BandFor(score),
		RuleResults:    results,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// evaluateRule invokes one rule, converting a panic into an error so a
// misbehaving rule never aborts the whole score run.
func evaluateRule(ctx context.Context, rule Rule, snap *PackageSnapshot) (res *RuleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Evaluate(ctx, snap)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
