// Package npmreg provides the npm registry client that supplies
// normalized package snapshots and version histories to the scoring
// pipeline.
package npmreg

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/git-pkgs/pkgrisk/internal/core"
	"github.com/git-pkgs/pkgrisk/internal/fetch"
)

// DefaultURL is the public npm registry endpoint.
const DefaultURL = "https://registry.npmjs.org"

// packumentCacheSize bounds the per-client packument cache. One scoring
// run touches a handful of packages; the cache exists so the lifecycle,
// update, and advisory rules share a single packument fetch.
const packumentCacheSize = 64

// Client fetches and normalizes npm packuments.
type Client struct {
	baseURL string
	http    fetch.Client
	cache   *lru.Cache[string, *packument]
}

// New creates an npm registry client. If baseURL is empty the public
// registry is used.
func New(baseURL string, httpClient fetch.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = fetch.NewFetcher()
	}
	cache, _ := lru.New[string, *packument](packumentCacheSize)
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		cache:   cache,
	}
}

type packument struct {
	ID          string                 `json:"_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Repository  interface{}            `json:"repository"`
	Versions    map[string]versionInfo `json:"versions"`
	Time        map[string]string      `json:"time"`
	Maintainers []maintainerInfo       `json:"maintainers"`
	DistTags    map[string]string      `json:"dist-tags"`
}

type versionInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	License      interface{}       `json:"license"`
	Repository   interface{}       `json:"repository"`
	Scripts      map[string]string `json:"scripts"`
	Dependencies map[string]string `json:"dependencies"`
	DevDeps      map[string]string `json:"devDependencies"`
	PeerDeps     map[string]string `json:"peerDependencies"`
	OptionalDeps map[string]string `json:"optionalDependencies"`
	Deprecated   string            `json:"deprecated"`
	Dist         distInfo          `json:"dist"`
	Maintainers  []maintainerInfo  `json:"maintainers"`
}

type distInfo struct {
	Shasum       string        `json:"shasum"`
	Tarball      string        `json:"tarball"`
	Integrity    string        `json:"integrity"`
	UnpackedSize int64         `json:"unpackedSize"`
	Signatures   []interface{} `json:"signatures"`
	Attestations interface{}   `json:"attestations"`
}

type maintainerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (c *Client) fetchPackument(ctx context.Context, name string) (*packument, error) {
	if doc, ok := c.cache.Get(name); ok {
		return doc, nil
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(name))

	var doc packument
	if err := c.http.GetJSON(ctx, reqURL, &doc); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, &core.NotFoundError{Name: name}
		}
		if errors.Is(err, fetch.ErrRateLimited) {
			return nil, &core.RateLimitError{RetryAfter: fetch.RetryAfter(err)}
		}
		return nil, err
	}

	c.cache.Add(name, &doc)
	return &doc, nil
}

// GetPackageMetadata returns the normalized snapshot for one version.
// An empty version resolves the "latest" dist-tag.
func (c *Client) GetPackageMetadata(ctx context.Context, name, version string) (*core.PackageSnapshot, error) {
	if name == "" {
		return nil, &core.InvalidInputError{Field: "package name"}
	}

	doc, err := c.fetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}

	if version == "" {
		version = doc.DistTags["latest"]
	}
	v, ok := doc.Versions[version]
	if !ok {
		return nil, &core.NotFoundError{Name: name, Version: version}
	}

	return c.snapshot(doc, version, v), nil
}

// GetAllVersions returns snapshots for every published version of name.
func (c *Client) GetAllVersions(ctx context.Context, name string) (core.VersionHistory, error) {
	if name == "" {
		return nil, &core.InvalidInputError{Field: "package name"}
	}

	doc, err := c.fetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}

	history := make(core.VersionHistory, len(doc.Versions))
	for num, v := range doc.Versions {
		history[num] = c.snapshot(doc, num, v)
	}
	return history, nil
}

func (c *Client) snapshot(doc *packument, version string, v versionInfo) *core.PackageSnapshot {
	var publishedAt time.Time
	if timeStr, ok := doc.Time[version]; ok {
		publishedAt, _ = time.Parse(time.RFC3339, timeStr)
	}

	maintainers := v.Maintainers
	if len(maintainers) == 0 {
		maintainers = doc.Maintainers
	}
	ms := make([]core.Maintainer, len(maintainers))
	for i, m := range maintainers {
		ms[i] = core.Maintainer{Login: m.Name, Email: m.Email}
	}

	integrity := v.Dist.Integrity
	if integrity == "" && v.Dist.Shasum != "" {
		integrity = "sha1-" + v.Dist.Shasum
	}

	tarball := v.Dist.Tarball
	if tarball == "" {
		tarball = c.TarballURL(coalesceString(doc.ID, doc.Name), version)
	}

	return &core.PackageSnapshot{
		Name:        coalesceString(doc.ID, doc.Name, v.Name),
		Version:     version,
		Description: coalesceString(v.Description, doc.Description),
		Scripts:     v.Scripts,
		Deps: core.Dependencies{
			Runtime:  v.Dependencies,
			Dev:      v.DevDeps,
			Peer:     v.PeerDeps,
			Optional: v.OptionalDeps,
		},
		Dist: core.DistInfo{
			Tarball:      tarball,
			UnpackedSize: v.Dist.UnpackedSize,
			Integrity:    integrity,
			Signed:       len(v.Dist.Signatures) > 0 || v.Dist.Attestations != nil,
		},
		Maintainers: ms,
		Repository:  extractRepoURL(doc.Repository, v.Repository),
		License:     extractLicense(v.License),
		Deprecated:  v.Deprecated,
		PublishedAt: publishedAt,
	}
}

// TarballURL returns the registry download URL for a version, following
// npm's "<name>/-/<short>-<version>.tgz" convention.
func (c *Client) TarballURL(name, version string) string {
	if name == "" || version == "" {
		return ""
	}
	shortName := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		shortName = name[idx+1:]
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", c.baseURL, name, shortName, version)
}

func extractRepoURL(pkgRepo, versionRepo interface{}) string {
	for _, repo := range []interface{}{versionRepo, pkgRepo} {
		switch r := repo.(type) {
		case string:
			return normalizeGitURL(r)
		case map[string]interface{}:
			if url, ok := r["url"].(string); ok {
				return normalizeGitURL(url)
			}
		case []interface{}:
			if len(r) > 0 {
				if m, ok := r[0].(map[string]interface{}); ok {
					if url, ok := m["url"].(string); ok {
						return normalizeGitURL(url)
					}
				}
			}
		}
	}
	return ""
}

func normalizeGitURL(u string) string {
	u = strings.TrimPrefix(u, "git+")
	u = strings.TrimPrefix(u, "git://")
	u = strings.TrimSuffix(u, ".git")
	if strings.HasPrefix(u, "github.com/") {
		u = "https://" + u
	}
	return u
}

func extractLicense(v interface{}) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]interface{}:
		if t, ok := l["type"].(string); ok {
			return t
		}
	case []interface{}:
		var licenses []string
		for _, item := range l {
			switch li := item.(type) {
			case string:
				licenses = append(licenses, li)
			case map[string]interface{}:
				if t, ok := li["type"].(string); ok {
					licenses = append(licenses, t)
				}
			}
		}
		return strings.Join(licenses, ",")
	}
	return ""
}

func coalesceString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
