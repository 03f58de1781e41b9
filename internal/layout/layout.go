// Package layout derives the on-disk shape of a build directory: where
// object files, archives, shared libraries and executables land, and what
// they're named on each platform. Grounded on the original builder's
// prepare_build_directory/object-file-path logic, generalized from a single
// hard-coded tree into a small reusable planner.
package layout

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cbuild-dev/cbuild/internal/manifest"
)

// Planner computes paths within one configuration's build directory
// (<project_dir>/build/<configuration>).
type Planner struct {
	ProjectDir string
	BuildDir   string
}

// New returns a Planner rooted at <project_dir>/build/<configuration>.
func New(projectDir, configuration string) *Planner {
	return &Planner{
		ProjectDir: projectDir,
		BuildDir:   filepath.Join(projectDir, "build", configuration),
	}
}

// ObjDir, LibDir, BinDir and TestBinDir return the build directory's
// standard subdirectories, all of which are listed by Dirs.
func (p *Planner) ObjDir() string     { return filepath.Join(p.BuildDir, "obj") }
func (p *Planner) LibDir() string     { return filepath.Join(p.BuildDir, "lib") }
func (p *Planner) BinDir() string     { return filepath.Join(p.BuildDir, "bin") }
func (p *Planner) TestBinDir() string { return filepath.Join(p.BuildDir, "bin", "tests") }

// Dirs lists every directory that must exist before a build runs.
func (p *Planner) Dirs() []string {
	return []string{p.BuildDir, p.ObjDir(), p.LibDir(), p.BinDir(), p.TestBinDir()}
}

// ObjectPath returns the object file a source compiles to. Sources inside
// ProjectDir keep their relative layout under obj/; sources outside it (an
// absolute pattern reaching outside the project) are mirrored at obj/ using
// their full path, so two externally-referenced files never collide only by
// base name.
func (p *Planner) ObjectPath(source string) string {
	rel, err := filepath.Rel(p.ProjectDir, source)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = strings.TrimPrefix(filepath.ToSlash(source), "/")
	}
	rel += ".o"
	return filepath.Join(p.ObjDir(), filepath.FromSlash(rel))
}

// StaticLibName returns the platform-correct archive file name (always
// lib<name>.a — archive naming doesn't vary by OS the way shared objects do).
func StaticLibName(name string) string {
	return "lib" + name + ".a"
}

// SharedLibName returns the platform-correct shared-object file name.
func SharedLibName(name string) string {
	switch runtime.GOOS {
	case "windows":
		return name + ".dll"
	case "darwin":
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// ExecutableName returns the platform-correct executable file name.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// StaticLibPath, SharedLibPath, ExecutablePath and TestExecutablePath return
// the full artifact path for a target of the corresponding kind.
func (p *Planner) StaticLibPath(name string) string {
	return filepath.Join(p.LibDir(), StaticLibName(name))
}

func (p *Planner) SharedLibPath(name string) string {
	return filepath.Join(p.LibDir(), SharedLibName(name))
}

func (p *Planner) ExecutablePath(name string) string {
	return filepath.Join(p.BinDir(), ExecutableName(name))
}

func (p *Planner) TestExecutablePath(name string) string {
	return filepath.Join(p.TestBinDir(), ExecutableName(name))
}

// ArtifactPath returns the output artifact path for any target kind.
func (p *Planner) ArtifactPath(t manifest.ResolvedTarget) string {
	switch t.Kind {
	case manifest.KindStatic:
		return p.StaticLibPath(t.Name)
	case manifest.KindShared:
		return p.SharedLibPath(t.Name)
	case manifest.KindTest:
		return p.TestExecutablePath(t.Name)
	default:
		return p.ExecutablePath(t.Name)
	}
}
