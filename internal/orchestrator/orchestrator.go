// Package orchestrator drives the build phases in the fixed order the
// domain requires: load manifest, check compiler, prepare build directory,
// resolve sources, detect changes, compile, link. Grounded on the original
// builder's Builder.build/Builder.clean, restructured into the teacher's
// phase-returns-typed-error style used throughout internal/builder.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
	"github.com/cbuild-dev/cbuild/internal/compiler"
	"github.com/cbuild-dev/cbuild/internal/hashstore"
	"github.com/cbuild-dev/cbuild/internal/layout"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
	"github.com/cbuild-dev/cbuild/internal/sourceset"

	"github.com/cbuild-dev/cbuild/internal/linker"
)

// Options mirrors the CLI-facing build contract.
type Options struct {
	ProjectDir    string
	Configuration string
	Jobs          int
	Incremental   bool
	Verbose       bool
}

// Build runs the full phase sequence and returns a process exit code: 0 on
// success, 1 on any phase failure. Failures are logged through internal/msg
// before returning so callers don't need to re-print the error.
func Build(ctx context.Context, opts Options) int {
	start := time.Now()

	m, err := manifest.Load(opts.ProjectDir)
	if err != nil {
		return fail(err)
	}

	msg.Info("building %s v%s", m.Project.Name, m.Project.Version)

	if err := checkCompiler(ctx, m.Build.Compiler); err != nil {
		return fail(err)
	}

	planner := layout.New(opts.ProjectDir, opts.Configuration)
	if err := prepareBuildDir(planner); err != nil {
		return fail(err)
	}

	sources, err := sourceset.Resolve(m, opts.ProjectDir)
	if err != nil {
		return fail(err)
	}

	detection, err := hashstore.Detect(planner.BuildDir, sources, opts.Incremental)
	if err != nil {
		return fail(err)
	}

	changed := detection.Changed
	if len(changed) == 0 {
		msg.Info("all files up to date")
		return 0
	}

	totalTasks := 0
	for _, files := range changed {
		totalTasks += len(files)
	}
	msg.Info("compiling (%d task(s), %d worker(s))", totalTasks, effectiveJobs(opts.Jobs))

	progress := &compiler.Progress{}
	failed, compileErr := compiler.Run(ctx, m, changed, planner, compiler.Options{
		ProjectDir:    opts.ProjectDir,
		Configuration: opts.Configuration,
		Jobs:          effectiveJobs(opts.Jobs),
		Verbose:       opts.Verbose,
	}, progress)

	if finalizeErr := detection.Finalize(planner.BuildDir, failed); finalizeErr != nil {
		msg.Warn("failed to persist hash store: %v", finalizeErr)
	}

	if compileErr != nil {
		return fail(compileErr)
	}

	msg.Info("compilation complete")
	msg.Info("linking...")

	if err := linker.Link(ctx, m, sources, planner, linker.Options{
		ProjectDir:    opts.ProjectDir,
		Configuration: opts.Configuration,
		Verbose:       opts.Verbose,
	}); err != nil {
		return fail(err)
	}

	msg.Info("link complete")
	msg.Info("build finished in %.2fs", time.Since(start).Seconds())
	return 0
}

// Clean removes <project_dir>/build/<configuration>. A missing directory is
// not an error.
func Clean(opts Options) int {
	planner := layout.New(opts.ProjectDir, opts.Configuration)
	if _, err := os.Stat(planner.BuildDir); os.IsNotExist(err) {
		msg.Info("already clean: %s", planner.BuildDir)
		return 0
	}
	if err := os.RemoveAll(planner.BuildDir); err != nil {
		return fail(&cbuilderr.IOError{Op: "remove build directory", Cause: err})
	}
	msg.Info("cleaned: %s", planner.BuildDir)
	return 0
}

func checkCompiler(ctx context.Context, compiler string) error {
	out, err := exec.CommandContext(ctx, compiler, "--version").Output()
	if err != nil {
		return &cbuilderr.CompilerNotFoundError{Name: compiler}
	}
	firstLine := strings.SplitN(string(out), "\n", 2)[0]
	msg.Info("compiler: %s (%s)", compiler, firstLine)
	return nil
}

func prepareBuildDir(p *layout.Planner) error {
	for _, dir := range p.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &cbuilderr.IOError{Op: fmt.Sprintf("create %s", dir), Cause: err}
		}
	}
	return nil
}

func effectiveJobs(jobs int) int {
	if jobs > 0 {
		return jobs
	}
	return runtime.NumCPU()
}

func fail(err error) int {
	msg.Error("%v", err)
	return 1
}
