// Package advisories implements the known-vulnerability rule backed by
// the OSV advisory client.
package advisories

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/git-pkgs/pkgrisk/internal/advisory"
	"github.com/git-pkgs/pkgrisk/internal/core"
)

// RuleName identifies this rule in the rule set.
const RuleName = "known-advisories"

// DefaultWeight is the deduction for a package with a high severity
// advisory against the scored version.
const DefaultWeight = 25

// Provider is the advisory lookup the rule consumes. Satisfied by the
// OSV client.
type Provider interface {
	Query(ctx context.Context, name, version string) ([]advisory.Advisory, error)
}

// Config parameterizes the rule. Zero values fall back to defaults.
type Config struct {
	Weight   float64
	Disabled bool
}

// Rule deducts for published advisories affecting the scored version.
// Deduction only; a clean advisory record earns no bonus.
type Rule struct {
	cfg      Config
	provider Provider
}

// New creates the known-advisories rule.
func New(cfg Config, provider Provider) *Rule {
	if cfg.Weight == 0 {
		cfg.Weight = DefaultWeight
	}
	return &Rule{cfg: cfg, provider: provider}
}

func (r *Rule) Name() string    { return RuleName }
func (r *Rule) Weight() float64 { return r.cfg.Weight }
func (r *Rule) Enabled() bool   { return !r.cfg.Disabled }

// Evaluate queries the advisory database and tiers the deduction by the
// worst severity found. A rate limited advisory backend is a soft miss,
// never a penalty against the package.
func (r *Rule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	if snap.Name == "" {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "package name missing"}, nil
	}

	advisories, err := r.provider.Query(ctx, snap.Name, snap.Version)
	if err != nil {
		var rl *core.RateLimitError
		if errors.As(err, &rl) {
			return &core.RuleResult{
				RiskLevel: core.RiskNone,
				Reason:    "advisory database rate limited, skipping",
			}, nil
		}
		return nil, fmt.Errorf("querying advisories: %w", err)
	}

	if len(advisories) == 0 {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "no known advisories"}, nil
	}

	worst := core.SeverityLow
	findings := make([]core.Finding, 0, len(advisories))
	for _, a := range advisories {
		findings = append(findings, core.Finding{
			Kind:        core.FindingAdvisory,
			Severity:    a.Severity,
			Description: a.Summary,
			AdvisoryID:  a.ID,
			Aliases:     a.Aliases,
		})
		if rank(a.Severity) > rank(worst) {
			worst = a.Severity
		}
	}

	var deduction float64
	var level core.RiskLevel
	switch worst {
	case core.SeverityHigh:
		deduction, level = r.cfg.Weight, core.RiskHigh
	case core.SeverityMedium:
		deduction, level = math.Floor(r.cfg.Weight*0.75), core.RiskMedium
	default:
		deduction, level = math.Floor(r.cfg.Weight*0.5), core.RiskLow
	}

	return &core.RuleResult{
		Deduction: deduction,
		RiskLevel: level,
		Findings:  findings,
	}, nil
}

func rank(s core.Severity) int {
	switch s {
	case core.SeverityHigh:
		return 3
	case core.SeverityMedium:
		return 2
	default:
		return 1
	}
}
