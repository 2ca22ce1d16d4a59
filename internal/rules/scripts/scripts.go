// Package scripts implements the lifecycle-script risk rule: pattern
// based threat scoring over install hooks such as preinstall and
// postinstall.
package scripts

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

// RuleName identifies this rule in the rule set.
const RuleName = "lifecycle-scripts"

// DefaultWeight is the maximum deduction this rule applies.
const DefaultWeight = 30

// Config parameterizes the rule. Zero values fall back to defaults.
type Config struct {
	Weight   float64
	Disabled bool
}

// Rule scores lifecycle scripts for remote-execution, suspicious
// commands, obfuscation, and command chaining.
type Rule struct {
	weight  float64
	enabled bool
}

// New creates the lifecycle-script risk rule.
func New(cfg Config) *Rule {
	weight := cfg.Weight
	if weight == 0 {
		weight = DefaultWeight
	}
	return &Rule{weight: weight, enabled: !cfg.Disabled}
}

func (r *Rule) Name() string    { return RuleName }
func (r *Rule) Weight() float64 { return r.weight }
func (r *Rule) Enabled() bool   { return r.enabled }

// scriptScore is the per-hook outcome.
type scriptScore struct {
	hook       string
	command    string
	risk       int
	isHighRisk bool
	matched    []string
}

// Evaluate scores every non-empty lifecycle script and aggregates the
// per-script risk into a tiered deduction.
func (r *Rule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	if len(snap.Scripts) == 0 {
		return &core.RuleResult{
			RiskLevel: core.RiskNone,
			Reason:    "no scripts found",
		}, nil
	}

	// Hooks are scored in name order so findings are deterministic.
	hooks := make([]string, 0, len(snap.Scripts))
	for hook, command := range snap.Scripts {
		if command != "" {
			hooks = append(hooks, hook)
		}
	}
	sort.Strings(hooks)

	totalRisk := 0
	hasHighRisk := false
	var findings []core.Finding

	for _, hook := range hooks {
		s := scoreScript(hook, snap.Scripts[hook])
		totalRisk += s.risk
		if s.isHighRisk {
			hasHighRisk = true
		}
		if s.risk > 0 {
			findings = append(findings, core.Finding{
				Kind:        core.FindingScriptRisk,
				Description: fmt.Sprintf("%s script matched %d risk signal(s)", hook, len(s.matched)),
				Severity:    severityFor(s),
				Hook:        hook,
				Script:      s.command,
			})
		}
	}

	deduction, level := tieredDeduction(r.weight, totalRisk, hasHighRisk)

	res := &core.RuleResult{
		Deduction: deduction,
		RiskLevel: level,
		Findings:  findings,
	}
	if deduction == 0 {
		res.Reason = "no risky script patterns detected"
	}
	return res, nil
}

// scoreScript applies the four pattern checks to one script.
//
// A high-risk match contributes 3 and short-circuits the per-signal
// suspicious-command category for that script; the obfuscation and
// chaining checks still run.
func scoreScript(hook, command string) scriptScore {
	s := scriptScore{hook: hook, command: command}

	for _, p := range highRiskPatterns {
		if p.MatchString(command) {
			s.risk += 3
			s.isHighRisk = true
			s.matched = append(s.matched, "remote-execute")
			break
		}
	}

	if !s.isHighRisk {
		for _, p := range suspiciousPatterns {
			if p.MatchString(command) {
				s.risk++
				s.matched = append(s.matched, "suspicious-command")
			}
		}
	}

	for _, p := range obfuscationPatterns {
		if p.MatchString(command) {
			s.risk += 2
			s.matched = append(s.matched, "obfuscation")
		}
	}

	if len(chainingPattern.FindAllString(command, -1)) >= chainingThreshold {
		s.risk++
		s.matched = append(s.matched, "command-chaining")
	}

	return s
}

// severityFor maps one script's risk to a finding severity.
func severityFor(s scriptScore) core.Severity {
	switch {
	case s.isHighRisk || s.risk >= 3:
		return core.SeverityHigh
	case s.risk >= 2:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

// tieredDeduction converts aggregate script risk into a deduction.
func tieredDeduction(weight float64, totalRisk int, hasHighRisk bool) (float64, core.RiskLevel) {
	switch {
	case hasHighRisk || totalRisk >= 3:
		return weight, core.RiskHigh
	case totalRisk >= 2:
		return math.Floor(weight * 0.75), core.RiskMedium
	case totalRisk >= 1:
		return math.Floor(weight * 0.5), core.RiskLow
	default:
		return 0, core.RiskNone
	}
}
