package core

// Severity classifies a single finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Finding is one detected issue produced by a rule. The kind-specific
// fields carry the evidence; consumers only render them, the core never
// re-parses a Finding.
type Finding struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`

	// Script findings.
	Hook      string `json:"hook,omitempty"`
	Script    string `json:"script,omitempty"`
	OldScript string `json:"oldScript,omitempty"`
	NewScript string `json:"newScript,omitempty"`

	// Version-diff findings.
	FromVersion string `json:"fromVersion,omitempty"`
	ToVersion   string `json:"toVersion,omitempty"`
	BytesBefore int64  `json:"bytesBefore,omitempty"`
	BytesAfter  int64  `json:"bytesAfter,omitempty"`
	JumpType    string `json:"jumpType,omitempty"`
	Magnitude   uint64 `json:"magnitude,omitempty"`

	// Dependency-diff findings.
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`

	// Advisory findings.
	AdvisoryID string   `json:"advisoryID,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// Finding kinds used by the built-in rules.
const (
	FindingScriptRisk     = "script-risk"
	FindingScriptChange   = "script-change"
	FindingSizeChange     = "size-change"
	FindingVersionJump    = "version-jump"
	FindingDepChange      = "dependency-change"
	FindingTarball        = "tarball-contents"
	FindingAdvisory       = "advisory"
	FindingLicense        = "license"
	FindingMaintainer     = "maintainer"
	FindingProvenance     = "provenance"
	FindingRiskyNamespace = "risky-namespace"
)
