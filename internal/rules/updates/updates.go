// Package updates implements the update-behavior rule: it diffs a
// package's recent version history for suspicious size, script,
// dependency, and version-number changes.
package updates

import (
	"context"
	"math"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

// RuleName identifies this rule in the rule set.
const RuleName = "update-behavior"

// Defaults for the rule configuration.
const (
	DefaultWeight        = 10
	DefaultSizeThreshold = 0.5
	DefaultMaxVersions   = 10
	DefaultMajorJump     = 2

	// minorSkipThreshold is fixed: a skip of more than 5 minor versions
	// within one major is flagged.
	minorSkipThreshold = 5

	// fallbackWindow is used when the scored version is absent from the
	// published history.
	fallbackWindow = 5
)

// HistoryProvider supplies the full version history for a package name.
// Satisfied by the npm registry client.
type HistoryProvider interface {
	GetAllVersions(ctx context.Context, name string) (core.VersionHistory, error)
}

// Config parameterizes the rule. Zero values fall back to defaults.
type Config struct {
	Weight                float64
	SizeIncreaseThreshold float64
	MaxVersions           int
	MajorJumpThreshold    uint64
	Disabled              bool
}

// Rule flags suspicious changes between consecutive published versions.
type Rule struct {
	cfg     Config
	history HistoryProvider
}

// New creates the update-behavior rule.
func New(cfg Config, history HistoryProvider) *Rule {
	if cfg.Weight == 0 {
		cfg.Weight = DefaultWeight
	}
	if cfg.SizeIncreaseThreshold == 0 {
		cfg.SizeIncreaseThreshold = DefaultSizeThreshold
	}
	if cfg.MaxVersions == 0 {
		cfg.MaxVersions = DefaultMaxVersions
	}
	if cfg.MajorJumpThreshold == 0 {
		cfg.MajorJumpThreshold = DefaultMajorJump
	}
	return &Rule{cfg: cfg, history: history}
}

func (r *Rule) Name() string    { return RuleName }
func (r *Rule) Weight() float64 { return r.cfg.Weight }
func (r *Rule) Enabled() bool   { return !r.cfg.Disabled }

// versionEntry pairs a raw version string with its parsed form. parsed
// is nil for versions that are not semantic versions; those stay in the
// diffing order but are excluded from jump detection.
type versionEntry struct {
	raw    string
	parsed *semver.Version
	snap   *core.PackageSnapshot
}

// softMiss is the zero-deduction result for absent evidence.
func softMiss(reason string) *core.RuleResult {
	return &core.RuleResult{RiskLevel: core.RiskNone, Reason: reason}
}

// Evaluate fetches the version history and scores the recent diffs.
// Missing history is never an error: absence of evidence is not
// evidence of risk.
func (r *Rule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	if snap.Name == "" {
		return softMiss("package name missing"), nil
	}

	history, err := r.history.GetAllVersions(ctx, snap.Name)
	if err != nil {
		return softMiss("version history unavailable"), nil
	}
	if len(history) < 2 {
		return softMiss("not enough versions to compare"), nil
	}

	ordered := sortHistory(history)
	window := r.analysisWindow(ordered, snap.Version)

	riskScore := 0
	hasHighRisk := false
	var findings []core.Finding

	for i := 1; i < len(window); i++ {
		prev, curr := window[i-1], window[i]

		if f := diffSize(prev, curr, r.cfg.SizeIncreaseThreshold); f != nil {
			if f.Severity == core.SeverityHigh {
				riskScore += 3
				hasHighRisk = true
			} else {
				riskScore++
			}
			findings = append(findings, *f)
		}

		for _, change := range diffScripts(prev, curr) {
			if change.newlySuspicious {
				riskScore += 2
				hasHighRisk = true
			} else {
				riskScore++
			}
			findings = append(findings, change.finding)
		}

		if f := diffDependencies(prev, curr); f != nil {
			riskScore++
			findings = append(findings, *f)
		}
	}

	// Jump detection runs over the whole sorted history, not just the
	// analysis window.
	for _, jump := range detectJumps(ordered, r.cfg.MajorJumpThreshold) {
		riskScore++
		findings = append(findings, jump)
	}

	deduction, level := tieredDeduction(r.cfg.Weight, riskScore, hasHighRisk)

	res := &core.RuleResult{
		Deduction: deduction,
		RiskLevel: level,
		Findings:  findings,
	}
	if deduction == 0 {
		res.Reason = "no suspicious update behavior detected"
	}
	return res, nil
}

// sortHistory orders parseable versions by semantic version ascending,
// then appends unparseable versions ordered by publish time.
func sortHistory(history core.VersionHistory) []versionEntry {
	parseable := make([]versionEntry, 0, len(history))
	var loose []versionEntry

	for raw, snap := range history {
		v, err := semver.NewVersion(raw)
		if err != nil {
			loose = append(loose, versionEntry{raw: raw, snap: snap})
			continue
		}
		parseable = append(parseable, versionEntry{raw: raw, parsed: v, snap: snap})
	}

	sort.Slice(parseable, func(i, j int) bool {
		return parseable[i].parsed.Compare(parseable[j].parsed) < 0
	})
	sort.Slice(loose, func(i, j int) bool {
		if !loose[i].snap.PublishedAt.Equal(loose[j].snap.PublishedAt) {
			return loose[i].snap.PublishedAt.Before(loose[j].snap.PublishedAt)
		}
		return loose[i].raw < loose[j].raw
	})

	return append(parseable, loose...)
}

// analysisWindow selects the trailing slice of versions to diff: up to
// MaxVersions ending at the scored version, or the last fallbackWindow
// versions when the scored version is not in the history.
func (r *Rule) analysisWindow(ordered []versionEntry, current string) []versionEntry {
	end := -1
	for i, e := range ordered {
		if e.raw == current {
			end = i
			break
		}
	}

	if end == -1 {
		start := len(ordered) - fallbackWindow
		if start < 0 {
			start = 0
		}
		return ordered[start:]
	}

	start := end + 1 - r.cfg.MaxVersions
	if start < 0 {
		start = 0
	}
	return ordered[start : end+1]
}

func tieredDeduction(weight float64, riskScore int, hasHighRisk bool) (float64, core.RiskLevel) {
	switch {
	case hasHighRisk || riskScore >= 5:
		return weight, core.RiskHigh
	case riskScore >= 3:
		return math.Floor(weight * 0.75), core.RiskMedium
	case riskScore >= 1:
		return math.Floor(weight * 0.5), core.RiskLow
	default:
		return 0, core.RiskNone
	}
}
