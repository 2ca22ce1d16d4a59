// Package contents implements the tarball-contents rule: it downloads
// and extracts the distribution tarball into scratch space and checks
// what actually ships against what the registry claims.
package contents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/git-pkgs/pkgrisk/internal/archive"
	"github.com/git-pkgs/pkgrisk/internal/core"
)

// RuleName identifies this rule in the rule set.
const RuleName = "tarball-contents"

// DefaultWeight is the deduction when the shipped tarball looks nothing
// like the registry metadata claims.
const DefaultWeight = 15

// sizeMismatchFactor: the extracted tree being more than twice the
// registry-reported unpacked size means the packument is lying.
const sizeMismatchFactor = 2.0

// executableExtensions are file types that have no business inside a
// typical npm package.
var executableExtensions = map[string]struct{}{
	".exe": {},
	".dll": {},
	".bat": {},
	".cmd": {},
	".scr": {},
	".msi": {},
}

// Ingestor is the archive subsystem surface the rule consumes.
type Ingestor interface {
	WithTarball(ctx context.Context, url, packageName string, fn func(*archive.Archive) error) error
}

// Config parameterizes the rule. Zero values fall back to defaults.
type Config struct {
	Weight   float64
	Disabled bool
}

// Rule inspects the extracted tarball tree.
type Rule struct {
	cfg      Config
	ingestor Ingestor
}

// New creates the tarball-contents rule.
func New(cfg Config, ingestor Ingestor) *Rule {
	if cfg.Weight == 0 {
		cfg.Weight = DefaultWeight
	}
	return &Rule{cfg: cfg, ingestor: ingestor}
}

func (r *Rule) Name() string    { return RuleName }
func (r *Rule) Weight() float64 { return r.cfg.Weight }
func (r *Rule) Enabled() bool   { return !r.cfg.Disabled }

// Evaluate extracts the tarball and scores its contents. Download and
// extraction failures are soft misses: an unreachable tarball is the
// registry's problem, not evidence against the package.
func (r *Rule) Evaluate(ctx context.Context, snap *core.PackageSnapshot) (*core.RuleResult, error) {
	if snap.Dist.Tarball == "" {
		return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "no tarball URL in registry metadata"}, nil
	}

	var findings []core.Finding
	riskScore := 0

	err := r.ingestor.WithTarball(ctx, snap.Dist.Tarball, snap.Name, func(a *archive.Archive) error {
		findings, riskScore = inspect(a.Manifest, snap)
		return nil
	})
	if err != nil {
		var dlErr *core.DownloadError
		var exErr *core.ExtractError
		if errors.As(err, &dlErr) {
			return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "tarball download failed, skipping"}, nil
		}
		if errors.As(err, &exErr) {
			// A path-escape attempt is an attack on the extractor. Anything
			// else, like a truncated or corrupt stream, is just a bad tarball.
			if errors.Is(err, archive.ErrPathEscape) {
				return &core.RuleResult{
					Deduction: r.cfg.Weight,
					RiskLevel: core.RiskHigh,
					Findings: []core.Finding{{
						Kind:        core.FindingTarball,
						Severity:    core.SeverityHigh,
						Description: fmt.Sprintf("tarball attempts path traversal: %v", exErr),
					}},
				}, nil
			}
			return &core.RuleResult{RiskLevel: core.RiskNone, Reason: "tarball extraction failed, skipping"}, nil
		}
		return nil, fmt.Errorf("analyzing tarball: %w", err)
	}

	deduction, level := tier(r.cfg.Weight, riskScore)
	res := &core.RuleResult{
		Deduction: deduction,
		RiskLevel: level,
		Findings:  findings,
	}
	if deduction == 0 {
		res.Reason = "tarball contents match registry metadata"
	}
	return res, nil
}

// inspect scores the extracted manifest against the snapshot.
func inspect(m archive.Manifest, snap *core.PackageSnapshot) ([]core.Finding, int) {
	var findings []core.Finding
	risk := 0

	if reported := snap.Dist.UnpackedSize; reported > 0 {
		if ratio := float64(m.TotalBytes) / float64(reported); ratio > sizeMismatchFactor {
			risk++
			findings = append(findings, core.Finding{
				Kind:        core.FindingTarball,
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("extracted tree is %d bytes, registry reported %d", m.TotalBytes, reported),
				BytesBefore: reported,
				BytesAfter:  m.TotalBytes,
			})
		}
	}

	hasManifest := false
	for _, e := range m.Entries {
		if e.Type != archive.TypeFile {
			continue
		}
		rel := strings.TrimPrefix(e.Path, "package/")
		if rel == "package.json" {
			hasManifest = true
		}
		if _, bad := executableExtensions[strings.ToLower(path.Ext(e.Path))]; bad {
			risk++
			findings = append(findings, core.Finding{
				Kind:        core.FindingTarball,
				Severity:    core.SeverityHigh,
				Description: fmt.Sprintf("executable payload %s shipped in tarball", e.Path),
			})
		}
	}

	if !hasManifest {
		risk++
		findings = append(findings, core.Finding{
			Kind:        core.FindingTarball,
			Severity:    core.SeverityMedium,
			Description: "tarball ships no package.json",
		})
	}

	return findings, risk
}

func tier(weight float64, riskScore int) (float64, core.RiskLevel) {
	switch {
	case riskScore >= 3:
		return weight, core.RiskHigh
	case riskScore >= 2:
		return math.Floor(weight * 0.75), core.RiskMedium
	case riskScore >= 1:
		return math.Floor(weight * 0.5), core.RiskLow
	default:
		return 0, core.RiskNone
	}
}
