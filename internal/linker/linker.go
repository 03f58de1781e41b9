// Package linker runs the four link sub-phases (static libraries, shared
// libraries, executables, tests) against already-compiled object files.
// Grounded on the original builder's link_static_libraries/
// link_shared_libraries/link_executables/link_tests sequence, translated
// from the teacher's archiver/linker process-spawning idiom in
// gen/qobsbuilder.go's runLinkJob.
package linker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
	"github.com/cbuild-dev/cbuild/internal/layout"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
	"github.com/cbuild-dev/cbuild/internal/sourceset"
)

// Options configures one link pass.
type Options struct {
	ProjectDir    string
	Configuration string
	Verbose       bool
}

// Link runs the four sub-phases in order, aborting at the first one that
// fails. sources provides every target's full resolved source list (not
// just the changed subset) so object paths can be recomputed regardless of
// whether this run recompiled them.
func Link(ctx context.Context, m *manifest.Manifest, sources sourceset.ResolvedSources, p *layout.Planner, opts Options) error {
	if err := linkStaticLibs(ctx, m, sources, p, opts); err != nil {
		return err
	}
	if err := linkSharedLibs(ctx, m, sources, p, opts); err != nil {
		return err
	}
	if err := linkExecutables(ctx, m, sources, p, opts); err != nil {
		return err
	}
	if err := linkTests(ctx, m, sources, p, opts); err != nil {
		return err
	}
	return nil
}

func objectsFor(t manifest.ResolvedTarget, sources sourceset.ResolvedSources, p *layout.Planner) []string {
	var objs []string
	for _, src := range sources[t.Key()] {
		obj := p.ObjectPath(src)
		if _, err := os.Stat(obj); err != nil {
			msg.Warn("object file does not exist: %s", obj)
			continue
		}
		objs = append(objs, obj)
	}
	return objs
}

func runLink(ctx context.Context, program string, args []string, verbose bool, artifact string) error {
	if verbose {
		fmt.Printf("%s %v\n", program, args)
	}
	cmd := exec.CommandContext(ctx, program, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &cbuilderr.LinkerError{Artifact: artifact, Stderr: string(out), Cause: err}
	}
	return nil
}

func linkStaticLibs(ctx context.Context, m *manifest.Manifest, sources sourceset.ResolvedSources, p *layout.Planner, opts Options) error {
	for _, t := range m.TargetsByKind(manifest.KindStatic) {
		objs := objectsFor(t, sources, p)
		if len(objs) == 0 {
			msg.Warn("no object files found for static library: %s", t.Name)
			continue
		}

		libPath := p.StaticLibPath(t.Name)
		args := append([]string{"rcs", libPath}, objs...)
		if err := runLink(ctx, "ar", args, opts.Verbose, libPath); err != nil {
			return err
		}
		msg.Info("created static library: %s", libPath)
	}
	return nil
}

func linkSharedLibs(ctx context.Context, m *manifest.Manifest, sources sourceset.ResolvedSources, p *layout.Planner, opts Options) error {
	for _, t := range m.TargetsByKind(manifest.KindShared) {
		objs := objectsFor(t, sources, p)
		if len(objs) == 0 {
			msg.Warn("no object files found for shared library: %s", t.Name)
			continue
		}

		libPath := p.SharedLibPath(t.Name)
		args := []string{"-shared", "-o", libPath}
		args = append(args, objs...)

		if runtime.GOOS == "darwin" {
			args = append(args, "-install_name", "@rpath/"+layout.SharedLibName(t.Name))
		}
		if opts.Configuration == "release" && (runtime.GOOS == "linux" || runtime.GOOS == "darwin") {
			args = append(args, "-s")
		}

		if err := runLink(ctx, m.Build.Compiler, args, opts.Verbose, libPath); err != nil {
			return err
		}
		msg.Info("created shared library: %s", libPath)
	}
	return nil
}

// linkArgs assembles the full argument list of an executable/test link
// command: the output path, the initial objects, user link dirs, auto-linked
// intra-project static archives, the intra-project lib search path, named
// libs, platform rpath and the release-mode strip flag. The two callers
// differ only in output path and rpath depth.
func linkArgs(m *manifest.Manifest, t manifest.ResolvedTarget, objs []string, outPath string, p *layout.Planner, opts Options, rpathDepth string) []string {
	args := []string{"-o", outPath}
	args = append(args, objs...)

	for _, dir := range sourceset.ResolveLinkDirs(t, opts.ProjectDir) {
		args = append(args, "-L", dir)
	}

	for _, lib := range m.TargetsByKind(manifest.KindStatic) {
		libPath := p.StaticLibPath(lib.Name)
		if _, err := os.Stat(libPath); err == nil {
			args = append(args, libPath)
		}
	}

	args = append(args, "-L", p.LibDir())

	for _, lib := range t.Libs {
		args = append(args, "-l"+lib)
	}

	switch runtime.GOOS {
	case "linux":
		args = append(args, "-Wl,-rpath,"+p.LibDir())
	case "darwin":
		args = append(args, "-Wl,-rpath,@executable_path/"+rpathDepth)
	}

	if opts.Configuration == "release" && (runtime.GOOS == "linux" || runtime.GOOS == "darwin") {
		args = append(args, "-s")
	}

	return args
}

func linkExecutables(ctx context.Context, m *manifest.Manifest, sources sourceset.ResolvedSources, p *layout.Planner, opts Options) error {
	for _, t := range m.TargetsByKind(manifest.KindExecutable) {
		objs := objectsFor(t, sources, p)
		if len(objs) == 0 {
			msg.Warn("no object files found for executable: %s", t.Name)
			continue
		}

		exePath := p.ExecutablePath(t.Name)
		args := linkArgs(m, t, objs, exePath, p, opts, "../lib")

		if err := runLink(ctx, m.Build.Compiler, args, opts.Verbose, exePath); err != nil {
			return err
		}
		msg.Info("created executable: %s", exePath)
	}
	return nil
}

func linkTests(ctx context.Context, m *manifest.Manifest, sources sourceset.ResolvedSources, p *layout.Planner, opts Options) error {
	for _, t := range m.TargetsByKind(manifest.KindTest) {
		objs := objectsFor(t, sources, p)
		if len(objs) == 0 {
			msg.Warn("no object files found for test: %s", t.Name)
			continue
		}

		testPath := p.TestExecutablePath(t.Name)
		if err := os.MkdirAll(filepath.Dir(testPath), 0o755); err != nil {
			return &cbuilderr.IOError{Op: "create test bin directory", Cause: err}
		}

		args := linkArgs(m, t, objs, testPath, p, opts, "../../lib")

		if err := runLink(ctx, m.Build.Compiler, args, opts.Verbose, testPath); err != nil {
			return err
		}
		msg.Info("created test executable: %s", testPath)
	}
	return nil
}
