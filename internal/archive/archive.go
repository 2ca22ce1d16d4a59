// Package archive implements secure tarball ingestion: streaming
// download, containment-checked extraction into a scratch directory, and
// manifest construction for rules that inspect raw package contents.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/pkgrisk/internal/core"
	"github.com/git-pkgs/pkgrisk/internal/fetch"
)

// ErrPathEscape is returned for archive entries or read requests that
// resolve outside the scratch root.
var ErrPathEscape = errors.New("path escapes extraction root")

const (
	// maxEntryBytes caps a single extracted file. npm rejects packages
	// far below this; anything larger is hostile or broken.
	maxEntryBytes = 512 << 20

	// maxTotalBytes caps the whole extracted tree.
	maxTotalBytes = 1 << 30
)

// Ingestor downloads and extracts package tarballs.
type Ingestor struct {
	http    fetch.Client
	baseDir string
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithBaseDir sets the parent directory for scratch directories.
// Defaults to the system temp directory.
func WithBaseDir(dir string) Option {
	return func(i *Ingestor) {
		i.baseDir = dir
	}
}

// NewIngestor creates an Ingestor. If httpClient is nil a default
// fetcher is used.
func NewIngestor(httpClient fetch.Client, opts ...Option) *Ingestor {
	if httpClient == nil {
		httpClient = fetch.NewFetcher()
	}
	i := &Ingestor{http: httpClient}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Archive is a scratch-directory handle plus the extracted file
// manifest. It is exclusively owned by the analysis call that produced
// it; Close must run before that call returns.
type Archive struct {
	scratch  string
	root     string
	Manifest Manifest

	closed bool
}

// Root returns the extraction root directory.
func (a *Archive) Root() string {
	return a.root
}

// ReadFile returns the contents of one extracted file, re-applying the
// containment check on the requested path.
func (a *Archive) ReadFile(relPath string) ([]byte, error) {
	if a.closed {
		return nil, errors.New("archive already closed")
	}
	target, err := containedPath(a.root, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", relPath, err)
	}
	return data, nil
}

// Close removes the scratch directory and everything under it. It is
// idempotent.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return os.RemoveAll(a.scratch)
}

// AnalyzeTarball downloads the tarball at url and extracts it into a
// fresh scratch directory scoped to packageName. On any failure the
// scratch directory is removed before the error is returned; on success
// the caller owns the returned Archive and must Close it.
func (i *Ingestor) AnalyzeTarball(ctx context.Context, url, packageName string) (*Archive, error) {
	if url == "" {
		return nil, &core.InvalidInputError{Field: "tarball url"}
	}

	// MkdirTemp suffixes the name, so concurrent analyses of the same
	// package never share a directory.
	scratch, err := os.MkdirTemp(i.baseDir, sanitizeName(packageName)+"-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	archive, err := i.extractInto(ctx, url, scratch)
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	return archive, nil
}

// WithTarball runs fn against an extracted tarball and guarantees the
// scratch directory is released on every exit path.
func (i *Ingestor) WithTarball(ctx context.Context, url, packageName string, fn func(*Archive) error) error {
	archive, err := i.AnalyzeTarball(ctx, url, packageName)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()
	return fn(archive)
}

func (i *Ingestor) extractInto(ctx context.Context, url, scratch string) (*Archive, error) {
	artifact, err := i.http.Fetch(ctx, url)
	if err != nil {
		return nil, &core.DownloadError{URL: url, Err: err}
	}
	defer func() { _ = artifact.Body.Close() }()

	root := filepath.Join(scratch, "extracted")
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction root: %w", err)
	}

	if err := extractTarGz(artifact.Body, root); err != nil {
		return nil, err
	}

	manifest, err := buildManifest(root)
	if err != nil {
		return nil, err
	}

	return &Archive{scratch: scratch, root: root, Manifest: manifest}, nil
}

// extractTarGz unpacks a gzipped tarball entry-by-entry under root,
// rejecting entries that resolve outside it.
func extractTarGz(r io.Reader, root string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return &core.ExtractError{Err: fmt.Errorf("opening gzip stream: %w", err)}
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &core.ExtractError{Err: err}
		}

		target, err := containedPath(root, hdr.Name)
		if err != nil {
			return &core.ExtractError{Entry: hdr.Name, Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &core.ExtractError{Entry: hdr.Name, Err: err}
			}

		case tar.TypeReg:
			if hdr.Size > maxEntryBytes {
				return &core.ExtractError{Entry: hdr.Name, Err: fmt.Errorf("entry exceeds %d bytes", int64(maxEntryBytes))}
			}
			total += hdr.Size
			if total > maxTotalBytes {
				return &core.ExtractError{Err: fmt.Errorf("archive exceeds %d bytes", int64(maxTotalBytes))}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &core.ExtractError{Entry: hdr.Name, Err: err}
			}
			if err := writeFileFrom(tr, target); err != nil {
				return &core.ExtractError{Entry: hdr.Name, Err: err}
			}

		default:
			// Symlinks, hardlinks, and device entries are skipped: a link
			// target can point outside the root even when the entry path
			// itself is contained.
		}
	}
}

func writeFileFrom(r io.Reader, target string) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxEntryBytes)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// containedPath resolves relPath under root and verifies the result is
// still inside root. The check uses filepath.Rel on cleaned paths, not a
// raw string prefix, so a sibling directory sharing a name prefix (for
// example "root-evil" next to "root") can never pass.
func containedPath(root, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	if filepath.IsAbs(relPath) || filepath.IsAbs(filepath.FromSlash(relPath)) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscape, relPath)
	}

	target := filepath.Join(root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, relPath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, relPath)
	}
	return target, nil
}

// sanitizeName flattens a package name into a directory-safe prefix.
// Scoped names like "@babel/core" contain a separator.
func sanitizeName(name string) string {
	if name == "" {
		return "pkg"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "@", "", ".", "-")
	return replacer.Replace(name)
}
