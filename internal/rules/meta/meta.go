// Package meta implements the metadata threshold rules: license
// validity, maintainer presence, registry provenance, and risky
// publisher namespaces. Each is a small boolean or list check over the
// snapshot; none of them touches the network.
package meta

import (
	"context"
	"fmt"
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

// Rule names.
const (
	LicenseRuleName    = "license"
	MaintainerRuleName = "maintainers"
	ProvenanceRuleName = "provenance"
	NamespaceRuleName  = "risky-namespace"
)

// Default weights.
const (
	DefaultLicenseWeight    = 5
	DefaultMaintainerWeight = 5
	DefaultProvenanceBonus  = 5
	DefaultNamespaceWeight  = 10
)

// Config parameterizes one meta rule. Zero Weight falls back to the
// rule's default.
type Config struct {
	Weight   float64
	Disabled bool
}

func (c Config) weight(def float64) float64 {
	if c.Weight == 0 {
		return def
	}
	return c.Weight
}

// LicenseRule deducts when a package declares no license or declares
// one that is not a valid SPDX expression.
type LicenseRule struct {
	cfg Config
}

func NewLicenseRule(cfg Config) *LicenseRule { return &LicenseRule{cfg: cfg} }

func (r *LicenseRule) Name() string    { return LicenseRuleName }
func (r *LicenseRule) Weight() float64 { return r.cfg.weight(DefaultLicenseWeight) }
func (r *LicenseRule) Enabled() bool   { return !r.cfg.Disabled }

func (r *LicenseRule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	license := strings.TrimSpace(snap.License)
	if license == "" {
		return &core.RuleResult{
			Deduction: r.Weight(),
			RiskLevel: core.RiskLow,
			Findings: []core.Finding{{
				Kind:        core.FindingLicense,
				Severity:    core.SeverityLow,
				Description: "no license declared",
			}},
		}, nil
	}

	if valid, invalid := spdxexp.ValidateLicenses([]string{license}); !valid {
		return &core.RuleResult{
			Deduction: r.Weight(),
			RiskLevel: core.RiskLow,
			Findings: []core.Finding{{
				Kind:        core.FindingLicense,
				Severity:    core.SeverityLow,
				Description: fmt.Sprintf("license %q is not a valid SPDX expression", strings.Join(invalid, ", ")),
			}},
		}, nil
	}

	return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "valid license declared"}, nil
}

// MaintainerRule deducts when the registry lists no maintainers for the
// package. Orphaned packages are a takeover target.
type MaintainerRule struct {
	cfg Config
}

func NewMaintainerRule(cfg Config) *MaintainerRule { return &MaintainerRule{cfg: cfg} }

func (r *MaintainerRule) Name() string    { return MaintainerRuleName }
func (r *MaintainerRule) Weight() float64 { return r.cfg.weight(DefaultMaintainerWeight) }
func (r *MaintainerRule) Enabled() bool   { return !r.cfg.Disabled }

func (r *MaintainerRule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	if len(snap.Maintainers) > 0 {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: fmt.Sprintf("%d maintainers listed", len(snap.Maintainers))}, nil
	}

	res := &core.RuleResult{
		Deduction: r.Weight(),
		RiskLevel: core.RiskMedium,
		Findings: []core.Finding{{
			Kind:        core.FindingMaintainer,
			Severity:    core.SeverityMedium,
			Description: "no maintainers listed in the registry",
		}},
	}
	if snap.Deprecated != "" {
		res.Findings = append(res.Findings, core.Finding{
			Kind:        core.FindingMaintainer,
			Severity:    core.SeverityMedium,
			Description: fmt.Sprintf("package is deprecated: %s", snap.Deprecated),
		})
	}
	return res, nil
}

// ProvenanceRule is the one bonus rule: strong integrity (sha512) plus
// registry signatures or attestations earn points back.
type ProvenanceRule struct {
	cfg Config
}

func NewProvenanceRule(cfg Config) *ProvenanceRule { return &ProvenanceRule{cfg: cfg} }

func (r *ProvenanceRule) Name() string    { return ProvenanceRuleName }
func (r *ProvenanceRule) Weight() float64 { return r.cfg.weight(DefaultProvenanceBonus) }
func (r *ProvenanceRule) Enabled() bool   { return !r.cfg.Disabled }

func (r *ProvenanceRule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	strongIntegrity := strings.HasPrefix(snap.Dist.Integrity, "sha512-")
	if !strongIntegrity || !snap.Dist.Signed {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "no provenance bonus"}, nil
	}

	return &core.RuleResult{
		Bonus:     r.Weight(),
		RiskLevel: core.RiskNone,
		Findings: []core.Finding{{
			Kind:        core.FindingProvenance,
			Severity:    core.SeverityLow,
			Description: "sha512 integrity with registry signatures",
		}},
	}, nil
}

// defaultRiskyScopes lists npm scopes with a public history of
// compromised or hijacked releases. Configurable per deployment.
var defaultRiskyScopes = []string{}

// NamespaceRule deducts when the package is published under a scope on
// the risky list.
type NamespaceRule struct {
	cfg    Config
	scopes map[string]struct{}
}

// NewNamespaceRule creates the rule with the given risky scope list
// (without the leading @); nil uses the built-in default.
func NewNamespaceRule(cfg Config, scopes []string) *NamespaceRule {
	if scopes == nil {
		scopes = defaultRiskyScopes
	}
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[strings.TrimPrefix(strings.ToLower(s), "@")] = struct{}{}
	}
	return &NamespaceRule{cfg: cfg, scopes: set}
}

func (r *NamespaceRule) Name() string    { return NamespaceRuleName }
func (r *NamespaceRule) Weight() float64 { return r.cfg.weight(DefaultNamespaceWeight) }
func (r *NamespaceRule) Enabled() bool   { return !r.cfg.Disabled }

func (r *NamespaceRule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	scope := packageScope(snap.Name)
	if scope == "" {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "unscoped package"}, nil
	}
	if _, risky := r.scopes[scope]; !risky {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "scope not on the watch list"}, nil
	}

	return &core.RuleResult{
		Deduction: r.Weight(),
		RiskLevel: core.RiskMedium,
		Findings: []core.Finding{{
			Kind:        core.FindingRiskyNamespace,
			Severity:    core.SeverityMedium,
			Description: fmt.Sprintf("scope @%s has a history of compromised releases", scope),
		}},
	}, nil
}

// packageScope returns the npm scope of name without the leading @, or
// "" for unscoped packages.
func packageScope(name string) string {
	if !strings.HasPrefix(name, "@") {
		return ""
	}
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[1:idx])
}
