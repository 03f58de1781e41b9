package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbuild-dev/cbuild/internal/hashstore"
	"github.com/cbuild-dev/cbuild/internal/layout"
)

// stubToolchain writes a fake cc and ar onto a temp PATH entry. The fake cc
// understands --version, -c/-o compilation (touching the object file, or
// failing if the source contains the marker "FAIL"), and link invocations
// (any argument list without -c, touching whatever -o names).
func stubToolchain(t *testing.T) (binDir, cc string) {
	t.Helper()
	binDir = t.TempDir()
	cc = filepath.Join(binDir, "stubcc")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "stubcc 1.0"
  exit 0
fi
compiling=0
out=""
src=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then out="$arg"; fi
  if [ "$prev" = "-c" ] || [ "$arg" = "-c" ]; then compiling=1; fi
  case "$arg" in
    -c) compiling=1 ;;
    *.c|*.cpp) src="$arg" ;;
  esac
  prev="$arg"
done
if [ "$compiling" = "1" ] && [ -n "$src" ] && grep -q FAIL "$src" 2>/dev/null; then
  echo "error: forced failure in $src" >&2
  exit 1
fi
mkdir -p "$(dirname "$out")"
touch "$out"
exit 0
`
	require.NoError(t, os.WriteFile(cc, []byte(script), 0o755))

	ar := filepath.Join(binDir, "ar")
	require.NoError(t, os.WriteFile(ar, []byte("#!/bin/sh\nshift\nout=$1\nshift\ntouch \"$out\"\n"), 0o755))

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return binDir, cc
}

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cbuild.toml"), []byte(body), 0o644))
}

func TestBuildSingleFileExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain is a POSIX shell script")
	}
	_, cc := stubToolchain(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.c"), []byte("int main(){return 0;}"), 0o644))
	writeManifest(t, dir, `
[project]
name = "hello"
version = "1.0.0"

[build]
compiler = "`+cc+`"
c_standard = "c11"

[[targets.executable]]
name = "hello"
sources = ["src/*.c"]
`)

	code := Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true})
	assert.Equal(t, 0, code)

	planner := layout.New(dir, "debug")
	assert.FileExists(t, planner.ExecutablePath("hello"))
}

func TestBuildSecondRunIsNoOpWhenNothingChanged(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain is a POSIX shell script")
	}
	_, cc := stubToolchain(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.c"), []byte("int main(){return 0;}"), 0o644))
	writeManifest(t, dir, `
[project]
name = "hello"
version = "1.0.0"

[build]
compiler = "`+cc+`"
c_standard = "c11"

[[targets.executable]]
name = "hello"
sources = ["src/*.c"]
`)

	require.Equal(t, 0, Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true}))

	planner := layout.New(dir, "debug")
	exe := planner.ExecutablePath("hello")
	require.NoError(t, os.Remove(exe))

	code := Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true})
	assert.Equal(t, 0, code)

	_, err := os.Stat(exe)
	assert.True(t, os.IsNotExist(err), "no-op build must not re-run the linker when nothing recompiled")
}

func TestBuildRecompilesAfterSourceTouch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain is a POSIX shell script")
	}
	_, cc := stubToolchain(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	src := filepath.Join(dir, "src", "main.c")
	require.NoError(t, os.WriteFile(src, []byte("int main(){return 0;}"), 0o644))
	writeManifest(t, dir, `
[project]
name = "hello"
version = "1.0.0"

[build]
compiler = "`+cc+`"
c_standard = "c11"

[[targets.executable]]
name = "hello"
sources = ["src/*.c"]
`)

	require.Equal(t, 0, Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true}))

	planner := layout.New(dir, "debug")
	exe := planner.ExecutablePath("hello")
	require.NoError(t, os.Remove(exe))
	require.NoError(t, os.WriteFile(src, []byte("int main(){return 1;}"), 0o644))

	code := Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true})
	assert.Equal(t, 0, code)
	assert.FileExists(t, exe, "touched source must trigger recompile and relink")
}

func TestBuildAggregatesCompileErrorsAndSkipsLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain is a POSIX shell script")
	}
	_, cc := stubToolchain(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "good.c"), []byte("int good(){return 0;}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "bad.c"), []byte("FAIL"), 0o644))
	writeManifest(t, dir, `
[project]
name = "hello"
version = "1.0.0"

[build]
compiler = "`+cc+`"
c_standard = "c11"

[[targets.executable]]
name = "hello"
sources = ["src/*.c"]
`)

	code := Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true})
	assert.Equal(t, 1, code)

	planner := layout.New(dir, "debug")
	_, err := os.Stat(planner.ExecutablePath("hello"))
	assert.True(t, os.IsNotExist(err), "linker must not run when compilation failed")

	hashes, loadErr := hashstore.Load(planner.BuildDir)
	require.NoError(t, loadErr)
	_, recorded := hashes[filepath.Join(dir, "src", "bad.c")]
	assert.False(t, recorded, "a failed file's hash must not be memoized")
}

func TestBuildStaticLibraryConsumerAutoLinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain is a POSIX shell script")
	}
	_, cc := stubToolchain(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.c"), []byte("int helper(){return 0;}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.c"), []byte("int main(){return 0;}"), 0o644))
	writeManifest(t, dir, `
[project]
name = "hello"
version = "1.0.0"

[build]
compiler = "`+cc+`"
c_standard = "c11"

[[targets.static_lib]]
name = "helper"
sources = ["src/lib.c"]

[[targets.executable]]
name = "hello"
sources = ["src/main.c"]
`)

	code := Build(context.Background(), Options{ProjectDir: dir, Configuration: "debug", Jobs: 2, Incremental: true})
	assert.Equal(t, 0, code)

	planner := layout.New(dir, "debug")
	assert.FileExists(t, planner.StaticLibPath("helper"))
	assert.FileExists(t, planner.ExecutablePath("hello"))
}

func TestCleanRemovesBuildDirectoryAndToleratesMissing(t *testing.T) {
	dir := t.TempDir()
	planner := layout.New(dir, "debug")
	require.NoError(t, os.MkdirAll(planner.ObjDir(), 0o755))

	assert.Equal(t, 0, Clean(Options{ProjectDir: dir, Configuration: "debug"}))
	_, err := os.Stat(planner.BuildDir)
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 0, Clean(Options{ProjectDir: dir, Configuration: "debug"}), "cleaning an already-clean directory is not an error")
}
