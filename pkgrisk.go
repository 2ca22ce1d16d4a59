// Package pkgrisk assigns a 0-100 security-risk score to npm packages.
//
// A score run fetches the package's registry metadata, evaluates a set
// of independent weighted rules against it (lifecycle scripts, version
// history, tarball contents, advisories, metadata), and aggregates the
// deductions and bonuses into one score with a policy band.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/pkgrisk"
//	)
//
//	registry := pkgrisk.DefaultRegistry()
//	snap, err := registry.GetPackageMetadata(context.Background(), "left-pad", "")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	calc := pkgrisk.DefaultCalculator(registry)
//	result, err := calc.CalculateScore(context.Background(), snap)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.Score, result.Band)
//
// Custom rules implement the Rule interface and are added with
// Calculator.RegisterRule before scoring.
package pkgrisk

import (
	"github.com/git-pkgs/pkgrisk/internal/advisory"
	"github.com/git-pkgs/pkgrisk/internal/core"
	"github.com/git-pkgs/pkgrisk/internal/fetch"
	"github.com/git-pkgs/pkgrisk/internal/npmreg"
	"github.com/git-pkgs/pkgrisk/internal/rules/advisories"
	"github.com/git-pkgs/pkgrisk/internal/rules/meta"
	"github.com/git-pkgs/pkgrisk/internal/rules/scripts"
	"github.com/git-pkgs/pkgrisk/internal/rules/updates"
)

// Re-export types from internal/core
type (
	// PackageSnapshot is an immutable view of one published package version.
	PackageSnapshot = core.PackageSnapshot

	// VersionHistory maps version strings to snapshots.
	VersionHistory = core.VersionHistory

	// Rule is the contract every scoring rule implements.
	Rule = core.Rule

	// RuleResult is the structured outcome of one rule evaluation.
	RuleResult = core.RuleResult

	// Finding is one detected issue produced by a rule.
	Finding = core.Finding

	// ScoreResult is the aggregate outcome of scoring one package version.
	ScoreResult = core.ScoreResult

	// Calculator evaluates registered rules and aggregates the score.
	Calculator = core.Calculator

	// CalculatorConfig sets the score bounds.
	CalculatorConfig = core.CalculatorConfig

	// Band is the policy classification of a final score.
	Band = core.Band

	// RiskLevel summarizes the severity of one rule's outcome.
	RiskLevel = core.RiskLevel

	// Severity classifies a single finding.
	Severity = core.Severity
)

// Re-export constants
const (
	BandSafe     = core.BandSafe
	BandReview   = core.BandReview
	BandHighRisk = core.BandHighRisk
	BandBlock    = core.BandBlock

	RiskNone   = core.RiskNone
	RiskLow    = core.RiskLow
	RiskMedium = core.RiskMedium
	RiskHigh   = core.RiskHigh
	RiskError  = core.RiskError
)

// Re-export errors
var ErrNotFound = core.ErrNotFound

// Error types
type (
	InvalidInputError = core.InvalidInputError
	NotFoundError     = core.NotFoundError
	RateLimitError    = core.RateLimitError
	DownloadError     = core.DownloadError
	ExtractError      = core.ExtractError
)

// Registry fetches package metadata and version history from an npm
// registry.
type Registry = npmreg.Client

// BandFor maps a final score to its band.
func BandFor(score float64) Band {
	return core.BandFor(score)
}

// DefaultRegistry returns a client for the public npm registry with the
// default retrying HTTP stack.
func DefaultRegistry() *Registry {
	return npmreg.New("", nil)
}

// NewCalculator creates an empty calculator with the given score bounds.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return core.NewCalculator(cfg)
}

// DefaultCalculator returns a calculator with the default rule set
// registered: lifecycle scripts, update behavior, known advisories,
// license, maintainers, provenance, and risky namespaces. The registry
// supplies version history; tarball inspection is CLI-only because it
// needs scratch-space configuration.
func DefaultCalculator(registry *Registry) *Calculator {
	calc := core.NewCalculator(core.DefaultCalculatorConfig())
	calc.RegisterRule(scripts.New(scripts.Config{}))
	calc.RegisterRule(updates.New(updates.Config{}, registry))
	calc.RegisterRule(advisories.New(advisories.Config{}, advisory.New("", nil)))
	calc.RegisterRule(meta.NewLicenseRule(meta.Config{}))
	calc.RegisterRule(meta.NewMaintainerRule(meta.Config{}))
	calc.RegisterRule(meta.NewProvenanceRule(meta.Config{}))
	calc.RegisterRule(meta.NewNamespaceRule(meta.Config{}, nil))
	return calc
}

// NewFetcher creates the retrying HTTP client used by the registry and
// advisory clients, for callers that need custom timeouts or auth.
func NewFetcher(opts ...FetchOption) *fetch.Fetcher {
	return fetch.NewFetcher(opts...)
}

// FetchOption configures the HTTP client.
type FetchOption = fetch.Option

// HTTP client options.
var (
	WithTimeout    = fetch.WithTimeout
	WithMaxRetries = fetch.WithMaxRetries
	WithUserAgent  = fetch.WithUserAgent
	WithAuthFunc   = fetch.WithAuthFunc
)
