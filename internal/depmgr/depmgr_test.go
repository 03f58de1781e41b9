package depmgr

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbuild-dev/cbuild/internal/manifest"
)

func gzipTarFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	content := []byte("hello from the fixture archive")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "hello.txt",
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestVendorDirIsRootedUnderBuildDeps(t *testing.T) {
	got := VendorDir("/proj", "widgets")
	assert.Equal(t, filepath.Join("/proj", "build", "_deps", "widgets"), got)
}

func TestIsGitSourceRecognizesDotGitSuffixAndPrefix(t *testing.T) {
	assert.True(t, isGitSource("https://example.com/widgets.git"))
	assert.True(t, isGitSource("git:ssh://example.com/widgets"))
	assert.False(t, isGitSource("https://example.com/archive.tar.gz"))
}

func TestIsURLRequiresSchemeAndHost(t *testing.T) {
	assert.True(t, isURL("https://example.com/archive.zip"))
	assert.False(t, isURL("/local/path"))
	assert.False(t, isURL("relative/path"))
}

func TestFetchCopiesLocalPath(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "README.md"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "a.c"), []byte("int a;"), 0o644))

	dest := filepath.Join(t.TempDir(), "vendored")
	err := Fetch("widgets", manifest.Dependency{Source: srcDir}, dest)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "README.md"))
	assert.FileExists(t, filepath.Join(dest, "sub", "a.c"))
}

func TestFetchWithoutSourceReturnsDependencyError(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "vendored")
	err := Fetch("widgets", manifest.Dependency{}, dest)
	assert.Error(t, err)
}

func TestFetchWipesExistingDestination(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "new.txt"), []byte("new"), 0o644))

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("stale"), 0o644))

	require.NoError(t, Fetch("widgets", manifest.Dependency{Source: srcDir}, dest))

	_, err := os.Stat(filepath.Join(dest, "stale.txt"))
	assert.True(t, os.IsNotExist(err), "fetch must wipe prior contents for idempotence")
	assert.FileExists(t, filepath.Join(dest, "new.txt"))
}

func TestFetchDownloadsArchiveOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-gzip")
		w.Write(gzipTarFixture(t))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "vendored")
	err := Fetch("widgets", manifest.Dependency{Source: srv.URL + "/archive.tar.gz"}, dest)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "hello.txt"))
}

func TestApplyPatchRewritesFileContent(t *testing.T) {
	dest := t.TempDir()
	target := filepath.Join(dest, "src", "main.c")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	original := "int main() {\n    return 0;\n}\n"
	require.NoError(t, os.WriteFile(target, []byte(original), 0o644))

	updated := "int main() {\n    return 1;\n}\n"
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(original, updated)
	diffText := dmp.PatchToText(patches)

	err := applyPatch(dest, filepath.Join("src", "main.c")+"\n"+diffText)
	require.NoError(t, err)

	got, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, updated, string(got))
}

func TestApplyPatchRejectsPathEscapingVendorDir(t *testing.T) {
	dest := t.TempDir()
	err := applyPatch(dest, "../outside.c\nsomething")
	assert.Error(t, err)
}

func TestApplyPatchMissingTargetFileFails(t *testing.T) {
	dest := t.TempDir()
	err := applyPatch(dest, "missing.c\nsomething")
	assert.Error(t, err)
}

func TestDetectArchiveFormatByMagicBytes(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(zipPath, append([]byte{0x50, 0x4b, 0x03, 0x04}, []byte("rest")...), 0o644))
	format, err := detectArchiveFormat(zipPath, &http.Response{Header: http.Header{}}, "https://example.com/a.zip")
	require.NoError(t, err)
	assert.Equal(t, "zip", format)
}

func TestDetectArchiveFormatFallsBackToURLExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unknown")
	require.NoError(t, os.WriteFile(path, []byte("not a real archive"), 0o644))
	format, err := detectArchiveFormat(path, &http.Response{Header: http.Header{}}, "https://example.com/a.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "tar.gz", format)
}
