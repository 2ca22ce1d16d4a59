package updates

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

// Jump type values on version-jump findings.
const (
	JumpMajor = "major-jump"
	JumpMinor = "minor-skip"
)

// suspiciousScriptPatterns is the reduced pattern set used to decide
// whether a changed lifecycle script turned suspicious. The full
// pattern catalog belongs to the lifecycle-scripts rule; here we only
// care about remote fetching and dynamic evaluation appearing where it
// was not before.
var suspiciousScriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(curl|wget)\b`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bfetch\s*\(`),
	regexp.MustCompile(`\bnew\s+Function\s*\(`),
	regexp.MustCompile(`require\s*\(\s*['"](child_process|https?|net|dns)['"]`),
}

func isSuspiciousScript(script string) bool {
	for _, p := range suspiciousScriptPatterns {
		if p.MatchString(script) {
			return true
		}
	}
	return false
}

// diffSize returns a size-change finding when the unpacked size grew by
// more than threshold between prev and curr. Growth above 100% is high
// severity, otherwise medium. Shrinking is never flagged.
func diffSize(prev, curr versionEntry, threshold float64) *core.Finding {
	before := prev.snap.Dist.UnpackedSize
	after := curr.snap.Dist.UnpackedSize
	if before <= 0 || after <= before {
		return nil
	}

	growth := float64(after-before) / float64(before)
	if growth <= threshold {
		return nil
	}

	severity := core.SeverityMedium
	if growth > 1.0 {
		severity = core.SeverityHigh
	}

	return &core.Finding{
		Kind:        core.FindingSizeChange,
		Severity:    severity,
		Description: fmt.Sprintf("unpacked size grew %.0f%% between %s and %s", growth*100, prev.raw, curr.raw),
		FromVersion: prev.raw,
		ToVersion:   curr.raw,
		BytesBefore: before,
		BytesAfter:  after,
	}
}

type scriptChange struct {
	finding         core.Finding
	newlySuspicious bool
}

// diffScripts reports every lifecycle script added, removed, or
// modified between prev and curr. A change is newly suspicious when the
// new script matches a remote-fetch or dynamic-eval pattern and the old
// one did not.
func diffScripts(prev, curr versionEntry) []scriptChange {
	hooks := make(map[string]struct{}, len(prev.snap.Scripts)+len(curr.snap.Scripts))
	for h := range prev.snap.Scripts {
		hooks[h] = struct{}{}
	}
	for h := range curr.snap.Scripts {
		hooks[h] = struct{}{}
	}

	names := make([]string, 0, len(hooks))
	for h := range hooks {
		names = append(names, h)
	}
	sort.Strings(names)

	var changes []scriptChange
	for _, hook := range names {
		oldScript, hadOld := prev.snap.Scripts[hook]
		newScript, hasNew := curr.snap.Scripts[hook]

		var desc string
		switch {
		case hadOld && hasNew && oldScript != newScript:
			desc = fmt.Sprintf("script %q changed between %s and %s", hook, prev.raw, curr.raw)
		case !hadOld && hasNew:
			desc = fmt.Sprintf("script %q added in %s", hook, curr.raw)
		case hadOld && !hasNew:
			desc = fmt.Sprintf("script %q removed in %s", hook, curr.raw)
		default:
			continue
		}

		suspicious := hasNew && isSuspiciousScript(newScript) && !(hadOld && isSuspiciousScript(oldScript))
		severity := core.SeverityLow
		if suspicious {
			severity = core.SeverityHigh
		}

		changes = append(changes, scriptChange{
			finding: core.Finding{
				Kind:        core.FindingScriptChange,
				Severity:    severity,
				Description: desc,
				Hook:        hook,
				OldScript:   oldScript,
				NewScript:   newScript,
				FromVersion: prev.raw,
				ToVersion:   curr.raw,
			},
			newlySuspicious: suspicious,
		})
	}
	return changes
}

// depChurnThreshold is the number of newly added runtime dependencies
// in one release that counts as suspicious churn.
const depChurnThreshold = 10

// diffDependencies flags a release that adds more than
// depChurnThreshold dependencies at once, counted across all four
// dependency kinds.
func diffDependencies(prev, curr versionEntry) *core.Finding {
	added := missingFrom(curr.snap.Deps, prev.snap.Deps)
	if len(added) <= depChurnThreshold {
		return nil
	}
	removed := missingFrom(prev.snap.Deps, curr.snap.Deps)

	return &core.Finding{
		Kind:        core.FindingDepChange,
		Severity:    core.SeverityMedium,
		Description: fmt.Sprintf("%d dependencies added in %s", len(added), curr.raw),
		FromVersion: prev.raw,
		ToVersion:   curr.raw,
		Added:       added,
		Removed:     removed,
	}
}

// missingFrom returns the sorted names declared anywhere in a but
// nowhere in b, deduplicated across dependency kinds.
func missingFrom(a, b core.Dependencies) []string {
	have := make(map[string]struct{})
	for _, m := range b.Kinds() {
		for name := range m {
			have[name] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, m := range a.Kinds() {
		for name := range m {
			if _, ok := have[name]; ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// detectJumps scans consecutive parseable versions for unusual version
// number jumps: a skip of majorJumpThreshold or more majors, or a skip
// of more than minorSkipThreshold minors within one major.
func detectJumps(ordered []versionEntry, majorJumpThreshold uint64) []core.Finding {
	var findings []core.Finding
	var prev *versionEntry

	for i := range ordered {
		curr := &ordered[i]
		if curr.parsed == nil {
			continue
		}
		if prev == nil {
			prev = curr
			continue
		}

		if jumpType, magnitude, unusual := classifyJump(prev, curr, majorJumpThreshold); unusual {
			findings = append(findings, core.Finding{
				Kind:        core.FindingVersionJump,
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("version jumped from %s to %s", prev.raw, curr.raw),
				FromVersion: prev.raw,
				ToVersion:   curr.raw,
				JumpType:    jumpType,
				Magnitude:   magnitude,
			})
		}
		prev = curr
	}
	return findings
}

func classifyJump(prev, curr *versionEntry, majorJumpThreshold uint64) (string, uint64, bool) {
	deltaMajor := curr.parsed.Major() - prev.parsed.Major()
	if curr.parsed.Major() >= prev.parsed.Major() && deltaMajor >= majorJumpThreshold {
		return JumpMajor, deltaMajor, true
	}
	if curr.parsed.Major() == prev.parsed.Major() && curr.parsed.Minor() > prev.parsed.Minor() {
		if delta := curr.parsed.Minor() - prev.parsed.Minor(); delta > minorSkipThreshold {
			return JumpMinor, delta, true
		}
	}
	return "", 0, false
}
