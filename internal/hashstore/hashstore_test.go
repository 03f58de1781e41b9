package hashstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbuild-dev/cbuild/internal/sourceset"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectFirstRunTreatsEverythingAsChanged(t *testing.T) {
	buildDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "main.c", "int main(){}")

	sources := sourceset.ResolvedSources{"exe:hello": {src}}
	result, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, result.Changed["exe:hello"])
}

func TestDetectSkipsUnchangedFilesOnIncrementalRerun(t *testing.T) {
	buildDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "main.c", "int main(){}")
	sources := sourceset.ResolvedSources{"exe:hello": {src}}

	first, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	require.NoError(t, first.Finalize(buildDir, nil))

	second, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	assert.Empty(t, second.Changed)
}

func TestDetectNonIncrementalAlwaysReportsChanged(t *testing.T) {
	buildDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "main.c", "int main(){}")
	sources := sourceset.ResolvedSources{"exe:hello": {src}}

	first, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	require.NoError(t, first.Finalize(buildDir, nil))

	second, err := Detect(buildDir, sources, false)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, second.Changed["exe:hello"])
}

func TestFinalizeOmitsFailedFilesFromMemoizedHash(t *testing.T) {
	buildDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "broken.c", "int main(){")
	sources := sourceset.ResolvedSources{"exe:hello": {src}}

	result, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	require.NoError(t, result.Finalize(buildDir, map[string]bool{src: true}))

	persisted, err := Load(buildDir)
	require.NoError(t, err)
	_, exists := persisted[src]
	assert.False(t, exists, "a failed compile must not be memoized as up to date")

	again, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, again.Changed["exe:hello"], "still-broken file must be retried")
}

func TestFinalizeRestoresPreviousHashForFailedFileThatWasPreviouslyClean(t *testing.T) {
	buildDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "main.c", "int main(){}")
	sources := sourceset.ResolvedSources{"exe:hello": {src}}

	first, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	require.NoError(t, first.Finalize(buildDir, nil))

	writeSource(t, srcDir, "main.c", "int main(){ broken")
	second, err := Detect(buildDir, sources, true)
	require.NoError(t, err)
	require.NoError(t, second.Finalize(buildDir, map[string]bool{src: true}))

	persisted, err := Load(buildDir)
	require.NoError(t, err)
	assert.Equal(t, first.New[src], persisted[src])
}

func TestHashFileIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "a.c", "same content")

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestLoadMissingFileReturnsEmptyMap(t *testing.T) {
	dir := t.TempDir()
	hashes, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}
