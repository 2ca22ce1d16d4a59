// Package output renders score results as a colored terminal table,
// JSON, or Markdown.
//
// Table rendering uses ASCII layout with ANSI color codes; color is
// gated on stdout being a TTY and NO_COLOR being unset.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

// ANSI color codes for band and risk display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// bandColor maps a score band to its display color.
func bandColor(band core.Band) string {
	switch band {
	case core.BandSafe:
		return colorGreen
	case core.BandReview:
		return colorYellow
	default:
		return colorRed
	}
}

func riskColor(level core.RiskLevel) string {
	switch level {
	case core.RiskHigh, core.RiskError:
		return colorRed
	case core.RiskMedium:
		return colorYellow
	case core.RiskLow:
		return colorYellow
	default:
		return colorGray
	}
}

// RenderTable renders a score result as a terminal table. Pass
// color=false for plain ASCII (piped output, tests).
func RenderTable(res *core.ScoreResult, color bool) string {
	var sb strings.Builder

	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + colorReset
	}

	sb.WriteString(fmt.Sprintf("%s@%s\n", res.PackageName, res.PackageVersion))
	sb.WriteString(fmt.Sprintf("Score: %s   Band: %s\n",
		paint(bandColor(res.Band), fmt.Sprintf("%.2f", res.Score)),
		paint(bandColor(res.Band), string(res.Band))))
	sb.WriteString(strings.Repeat("─", 66))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("%-22s %-8s %-10s %s\n", "Rule", "Impact", "Risk", "Detail"))
	sb.WriteString(strings.Repeat("─", 66))
	sb.WriteString("\n")

	for _, rr := range res.RuleResults {
		sb.WriteString(fmt.Sprintf("%-22s %-8s %-10s %s\n",
			truncate(rr.RuleName, 22),
			impact(rr),
			paint(riskColor(rr.RiskLevel), padRight(string(rr.RiskLevel), 10)),
			detail(rr)))

		for _, f := range rr.Findings {
			sb.WriteString(fmt.Sprintf("  %s %s\n",
				paint(colorGray, "·"),
				truncate(f.Description, 70)))
		}
	}

	return sb.String()
}

// impact formats a rule's score contribution: deductions negative,
// bonuses positive, zero impact as a dash.
func impact(rr core.RuleResult) string {
	switch {
	case rr.Deduction > 0:
		return fmt.Sprintf("-%g", rr.Deduction)
	case rr.Bonus > 0:
		return fmt.Sprintf("+%g", rr.Bonus)
	default:
		return "·"
	}
}

func detail(rr core.RuleResult) string {
	if rr.Err != "" {
		return "error: " + truncate(rr.Err, 50)
	}
	if rr.Reason != "" {
		return truncate(rr.Reason, 60)
	}
	return fmt.Sprintf("%d findings", len(rr.Findings))
}

// padRight pads s with spaces to width. Color codes wrap the value, so
// the pad is computed on the raw string before painting.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// RenderJSON renders a score result as indented JSON.
func RenderJSON(res *core.ScoreResult) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data) + "\n", nil
}

// RenderMarkdown renders a score result as a Markdown report.
func RenderMarkdown(res *core.ScoreResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s@%s\n\n", res.PackageName, res.PackageVersion))
	sb.WriteString(fmt.Sprintf("**Score:** %.2f (**%s**)\n\n", res.Score, res.Band))

	sb.WriteString("| Rule | Impact | Risk | Detail |\n")
	sb.WriteString("|------|--------|------|--------|\n")
	for _, rr := range res.RuleResults {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			rr.RuleName, impact(rr), rr.RiskLevel, escapePipes(detail(rr))))
	}

	var findings []core.Finding
	for _, rr := range res.RuleResults {
		findings = append(findings, rr.Findings...)
	}
	if len(findings) > 0 {
		sb.WriteString("\n## Findings\n\n")
		for _, f := range findings {
			sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", f.Kind, f.Severity, escapePipes(f.Description)))
		}
	}

	return sb.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
