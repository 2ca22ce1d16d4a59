// Package advisory queries the OSV database for known vulnerabilities
// affecting a package version.
package advisory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/git-pkgs/pkgrisk/internal/core"
	"github.com/git-pkgs/pkgrisk/internal/fetch"
)

// DefaultBaseURL is the public OSV API endpoint.
const DefaultBaseURL = "https://api.osv.dev"

// Advisory is one known vulnerability after alias merging.
type Advisory struct {
	ID       string
	Summary  string
	Aliases  []string
	Severity core.Severity
}

// Client queries OSV for a package ecosystem.
type Client struct {
	baseURL string
	http    fetch.Client
}

// New creates an advisory client. Pass an empty baseURL for the public
// OSV endpoint and a nil httpClient for the default fetcher.
func New(baseURL string, httpClient fetch.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = fetch.NewFetcher()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// OSV query wire format.
type queryRequest struct {
	Version string       `json:"version,omitempty"`
	Package queryPackage `json:"package"`
}

type queryPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type queryResponse struct {
	Vulns []osvVuln `json:"vulns"`
}

type osvVuln struct {
	ID               string         `json:"id"`
	Summary          string         `json:"summary"`
	Details          string         `json:"details"`
	Aliases          []string       `json:"aliases"`
	DatabaseSpecific map[string]any `json:"database_specific"`
}

// Query returns the merged advisories affecting name at version. The
// same vulnerability often appears under multiple IDs (GHSA, CVE); rows
// whose ID or aliases overlap are collapsed into one advisory.
func (c *Client) Query(ctx context.Context, name, version string) ([]Advisory, error) {
	req := queryRequest{
		Version: version,
		Package: queryPackage{Name: name, Ecosystem: "npm"},
	}

	var resp queryResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/v1/query", req, &resp); err != nil {
		if errors.Is(err, fetch.ErrRateLimited) {
			return nil, &core.RateLimitError{RetryAfter: fetch.RetryAfter(err)}
		}
		return nil, err
	}

	return mergeVulns(resp.Vulns), nil
}

// mergeVulns collapses vulns that share an ID or alias. The merged
// advisory keeps the lexically smallest ID, the union of the remaining
// identifiers as aliases, and the highest severity seen.
func mergeVulns(vulns []osvVuln) []Advisory {
	type group struct {
		ids      map[string]struct{}
		summary  string
		severity core.Severity
	}
	var groups []*group

	keyed := make(map[string]*group)
	for _, v := range vulns {
		if v.ID == "" {
			continue
		}
		keys := append([]string{v.ID}, v.Aliases...)

		var g *group
		for _, k := range keys {
			if existing, ok := keyed[k]; ok {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{ids: make(map[string]struct{})}
			groups = append(groups, g)
		}

		for _, k := range keys {
			g.ids[k] = struct{}{}
			keyed[k] = g
		}
		if g.summary == "" {
			g.summary = coalesce(v.Summary, v.Details)
		}
		if sev := vulnSeverity(v); severityRank(sev) > severityRank(g.severity) {
			g.severity = sev
		}
	}

	out := make([]Advisory, 0, len(groups))
	for _, g := range groups {
		ids := make([]string, 0, len(g.ids))
		for id := range g.ids {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		sev := g.severity
		if sev == "" {
			sev = core.SeverityMedium
		}
		out = append(out, Advisory{
			ID:       ids[0],
			Summary:  g.summary,
			Aliases:  ids[1:],
			Severity: sev,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// vulnSeverity maps the database_specific severity string OSV carries
// for GitHub-sourced advisories. Unknown or absent values default to
// medium at render time.
func vulnSeverity(v osvVuln) core.Severity {
	raw, _ := v.DatabaseSpecific["severity"].(string)
	switch strings.ToUpper(raw) {
	case "CRITICAL", "HIGH":
		return core.SeverityHigh
	case "MODERATE", "MEDIUM":
		return core.SeverityMedium
	case "LOW":
		return core.SeverityLow
	default:
		return ""
	}
}

func severityRank(s core.Severity) int {
	switch s {
	case core.SeverityHigh:
		return 3
	case core.SeverityMedium:
		return 2
	case core.SeverityLow:
		return 1
	default:
		return 0
	}
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
