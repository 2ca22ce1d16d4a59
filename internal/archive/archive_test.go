package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/git-pkgs/pkgrisk/internal/core"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func makeTarGz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if typeflag == tar.TypeDir {
			hdr.Mode = 0o755
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if typeflag == tar.TypeReg && e.body != "" {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("writing tar body: %v", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

func serveTarball(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(body)
	}))
}

// scratchDirs counts entries under dir; after every analysis the scratch
// tree must be gone.
func scratchDirs(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading base dir: %v", err)
	}
	return len(entries)
}

func TestAnalyzeTarball(t *testing.T) {
	tarball := makeTarGz(t, []tarEntry{
		{name: "package/", typeflag: tar.TypeDir},
		{name: "package/package.json", body: `{"name":"demo"}`},
		{name: "package/index.js", body: "module.exports = 1\n"},
		{name: "package/lib/", typeflag: tar.TypeDir},
		{name: "package/lib/util.js", body: "exports.x = 2\n"},
	})
	server := serveTarball(t, tarball)
	defer server.Close()

	base := t.TempDir()
	ing := NewIngestor(nil, WithBaseDir(base))

	archive, err := ing.AnalyzeTarball(context.Background(), server.URL+"/demo-1.0.0.tgz", "demo")
	if err != nil {
		t.Fatalf("AnalyzeTarball failed: %v", err)
	}

	if archive.Manifest.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", archive.Manifest.FileCount)
	}
	wantBytes := int64(len(`{"name":"demo"}`) + len("module.exports = 1\n") + len("exports.x = 2\n"))
	if archive.Manifest.TotalBytes != wantBytes {
		t.Errorf("TotalBytes = %d, want %d", archive.Manifest.TotalBytes, wantBytes)
	}

	data, err := archive.ReadFile("package/package.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"name":"demo"}` {
		t.Errorf("unexpected file contents: %q", data)
	}

	if err := archive.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if scratchDirs(t, base) != 0 {
		t.Error("scratch directory survived Close")
	}
}

func TestAnalyzeTarballLargestFiles(t *testing.T) {
	big := strings.Repeat("x", (1<<20)+1)
	tarball := makeTarGz(t, []tarEntry{
		{name: "package/big.bin", body: big},
		{name: "package/small.js", body: "ok"},
	})
	server := serveTarball(t, tarball)
	defer server.Close()

	ing := NewIngestor(nil, WithBaseDir(t.TempDir()))
	archive, err := ing.AnalyzeTarball(context.Background(), server.URL+"/p.tgz", "p")
	if err != nil {
		t.Fatalf("AnalyzeTarball failed: %v", err)
	}
	defer func() { _ = archive.Close() }()

	if len(archive.Manifest.Largest) != 1 {
		t.Fatalf("expected 1 large file, got %d", len(archive.Manifest.Largest))
	}
	if archive.Manifest.Largest[0].Path != "package/big.bin" {
		t.Errorf("unexpected largest entry: %+v", archive.Manifest.Largest[0])
	}
}

func TestAnalyzeTarballRejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"dotdot", "../evil.sh"},
		{"nested dotdot", "package/../../evil.sh"},
		{"absolute", "/etc/evil.sh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tarball := makeTarGz(t, []tarEntry{
				{name: "package/ok.js", body: "fine"},
				{name: tt.entry, body: "evil"},
			})
			server := serveTarball(t, tarball)
			defer server.Close()

			base := t.TempDir()
			ing := NewIngestor(nil, WithBaseDir(base))

			_, err := ing.AnalyzeTarball(context.Background(), server.URL+"/p.tgz", "p")
			var extractErr *core.ExtractError
			if !errors.As(err, &extractErr) {
				t.Fatalf("expected ExtractError, got %v", err)
			}
			if !errors.Is(err, ErrPathEscape) {
				t.Errorf("expected ErrPathEscape, got %v", err)
			}
			if scratchDirs(t, base) != 0 {
				t.Error("scratch directory survived failed extraction")
			}
		})
	}
}

func TestAnalyzeTarballSkipsSymlinks(t *testing.T) {
	tarball := makeTarGz(t, []tarEntry{
		{name: "package/ok.js", body: "fine"},
		{name: "package/link", typeflag: tar.TypeSymlink, linkname: "../../outside"},
	})
	server := serveTarball(t, tarball)
	defer server.Close()

	ing := NewIngestor(nil, WithBaseDir(t.TempDir()))
	archive, err := ing.AnalyzeTarball(context.Background(), server.URL+"/p.tgz", "p")
	if err != nil {
		t.Fatalf("AnalyzeTarball failed: %v", err)
	}
	defer func() { _ = archive.Close() }()

	if archive.Manifest.FileCount != 1 {
		t.Errorf("symlink entry must not be extracted, FileCount = %d", archive.Manifest.FileCount)
	}
	if _, err := archive.ReadFile("package/link"); err == nil {
		t.Error("expected error reading skipped symlink entry")
	}
}

func TestAnalyzeTarballDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	base := t.TempDir()
	ing := NewIngestor(nil, WithBaseDir(base))

	_, err := ing.AnalyzeTarball(context.Background(), server.URL+"/gone.tgz", "gone")
	var dlErr *core.DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if scratchDirs(t, base) != 0 {
		t.Error("scratch directory survived failed download")
	}
}

func TestAnalyzeTarballCorruptArchive(t *testing.T) {
	server := serveTarball(t, []byte("this is not gzip"))
	defer server.Close()

	base := t.TempDir()
	ing := NewIngestor(nil, WithBaseDir(base))

	_, err := ing.AnalyzeTarball(context.Background(), server.URL+"/p.tgz", "p")
	var extractErr *core.ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractError, got %v", err)
	}
	if scratchDirs(t, base) != 0 {
		t.Error("scratch directory survived corrupt archive")
	}
}

func TestAnalyzeTarballEmptyURL(t *testing.T) {
	ing := NewIngestor(nil, WithBaseDir(t.TempDir()))
	_, err := ing.AnalyzeTarball(context.Background(), "", "p")
	var invalid *core.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidInputError, got %v", err)
	}
}

func TestWithTarballAlwaysCleansUp(t *testing.T) {
	tarball := makeTarGz(t, []tarEntry{
		{name: "package/index.js", body: "ok"},
	})
	server := serveTarball(t, tarball)
	defer server.Close()

	base := t.TempDir()
	ing := NewIngestor(nil, WithBaseDir(base))

	wantErr := errors.New("rule failed")
	err := ing.WithTarball(context.Background(), server.URL+"/p.tgz", "p", func(a *Archive) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if scratchDirs(t, base) != 0 {
		t.Error("scratch directory survived WithTarball error path")
	}
}

func TestReadFileRejectsEscape(t *testing.T) {
	tarball := makeTarGz(t, []tarEntry{
		{name: "package/index.js", body: "ok"},
	})
	server := serveTarball(t, tarball)
	defer server.Close()

	ing := NewIngestor(nil, WithBaseDir(t.TempDir()))
	archive, err := ing.AnalyzeTarball(context.Background(), server.URL+"/p.tgz", "p")
	if err != nil {
		t.Fatalf("AnalyzeTarball failed: %v", err)
	}
	defer func() { _ = archive.Close() }()

	for _, rel := range []string{"../outside", "/etc/passwd", "package/../../x", ""} {
		if _, err := archive.ReadFile(rel); !errors.Is(err, ErrPathEscape) {
			t.Errorf("ReadFile(%q) = %v, want ErrPathEscape", rel, err)
		}
	}
}

func TestContainedPathSiblingPrefix(t *testing.T) {
	// A raw prefix comparison would accept "root-evil" as inside "root".
	root := t.TempDir()
	if _, err := containedPath(root, "../"+"extracted-evil/file"); !errors.Is(err, ErrPathEscape) {
		t.Errorf("sibling prefix escape not rejected: %v", err)
	}
	if _, err := containedPath(root, "nested/ok.txt"); err != nil {
		t.Errorf("contained path rejected: %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"lodash", "lodash"},
		{"@babel/core", "babel_core"},
		{"", "pkg"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.name); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
