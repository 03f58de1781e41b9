// Package compiler assembles and runs per-source compiler invocations in
// bounded parallelism, grounded on the teacher build tool's
// runJobs/runCompileJob worker-pool pattern (gen/qobsbuilder.go), adapted
// from target-scoped build state to the flat compile-flag assembly this
// domain calls for.
package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
	"github.com/cbuild-dev/cbuild/internal/layout"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
	"github.com/cbuild-dev/cbuild/internal/sourceset"
)

// cxxExtensions are the source extensions that receive the C++ standard
// flag (Build.CppStandard) instead of the C one; see assembleArgs.
var cxxExtensions = map[string]bool{
	".cpp": true, ".cc": true, ".cxx": true, ".c++": true,
}

// task is one (target, source) compile unit.
type task struct {
	targetKey string
	target    manifest.ResolvedTarget
	source    string
	object    string
}

// Options configures one compile pass.
type Options struct {
	ProjectDir    string
	Configuration string // "release" enables -DNDEBUG, anything else -D_DEBUG
	Jobs          int
	Verbose       bool
}

// Progress tracks task completion counts; safe for concurrent use. A nil
// *Progress is valid and simply discards updates.
type Progress struct {
	Global int64
	byTarget sync.Map // target key -> *int64
}

func (p *Progress) inc(targetKey string) {
	if p == nil {
		return
	}
	atomic.AddInt64(&p.Global, 1)
	v, _ := p.byTarget.LoadOrStore(targetKey, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// TargetCount returns how many tasks have completed for targetKey.
func (p *Progress) TargetCount(targetKey string) int64 {
	if p == nil {
		return 0
	}
	v, ok := p.byTarget.Load(targetKey)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// Failed is the set of source paths whose compile task failed, used by the
// hash store to avoid memoizing a broken file as up to date.
type Failed map[string]bool

// Run compiles every source in changed, per target, across a worker pool of
// size opts.Jobs (defaulting to GOMAXPROCS via errgroup.SetLimit(0) semantics
// avoided — zero or negative falls back to runtime.NumCPU by the caller).
// A failing compile does not cancel its peers. On completion with one or
// more failures it prints every aggregated diagnostic and returns
// *cbuilderr.CompilerError; the Failed set identifies exactly which sources
// did not compile.
func Run(ctx context.Context, m *manifest.Manifest, changed sourceset.ResolvedSources, p *layout.Planner, opts Options, progress *Progress) (Failed, error) {
	tasks := buildTasks(m, changed, p)
	if len(tasks) == 0 {
		return nil, nil
	}

	var errMu sync.Mutex
	errs := make(map[string]string)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Jobs)

	for _, t := range tasks {
		t := t
		eg.Go(func() error {
			if err := runOne(egCtx, m, t, opts); err != nil {
				errMu.Lock()
				errs[t.source] = err.Error()
				errMu.Unlock()
			}
			progress.inc(t.targetKey)
			return nil
		})
	}
	_ = eg.Wait() // compile errors are aggregated, never returned through eg

	if len(errs) == 0 {
		return nil, nil
	}

	failed := make(Failed, len(errs))
	paths := make([]string, 0, len(errs))
	for path := range errs {
		failed[path] = true
		paths = append(paths, path)
	}
	sort.Strings(paths)

	msg.Error("compilation failed")
	for _, path := range paths {
		fmt.Printf("%s:\n%s\n", path, errs[path])
	}

	return failed, &cbuilderr.CompilerError{Message: fmt.Sprintf("%d source file(s) failed to compile", len(errs))}
}

func buildTasks(m *manifest.Manifest, changed sourceset.ResolvedSources, p *layout.Planner) []task {
	var tasks []task
	for _, t := range m.Targets {
		key := t.Key()
		sources, ok := changed[key]
		if !ok {
			continue
		}
		for _, src := range sources {
			tasks = append(tasks, task{
				targetKey: key,
				target:    t,
				source:    src,
				object:    p.ObjectPath(src),
			})
		}
	}
	return tasks
}

func runOne(ctx context.Context, m *manifest.Manifest, t task, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(t.object), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	args := assembleArgs(m, t, opts)

	cmd := exec.CommandContext(ctx, m.Build.Compiler, args...)
	if opts.Verbose {
		fmt.Printf("%s %s\n", m.Build.Compiler, strings.Join(args, " "))
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%s", out)
		}
		return err
	}
	return nil
}

// assembleArgs builds the compiler invocation argument list in the fixed
// order this domain requires: -c/-o, standard, optimization, debug info,
// warnings-as-errors, include dirs, defines, target extra flags, the
// configuration define, -fPIC for shared targets, then global extra flags.
func assembleArgs(m *manifest.Manifest, t task, opts Options) []string {
	var args []string

	args = append(args, "-c", t.source, "-o", t.object)

	if isCxxSource(t.source) {
		if m.Build.CppStandard != "" {
			args = append(args, "-std="+m.Build.CppStandard)
		}
	} else if m.Build.CStandard != "" {
		args = append(args, "-std="+m.Build.CStandard)
	}

	if m.Build.OptimizationLevel != nil {
		args = append(args, fmt.Sprintf("-O%d", *m.Build.OptimizationLevel))
	}
	if m.Build.DebugInfo != nil && *m.Build.DebugInfo {
		args = append(args, "-g")
	}
	if m.Build.WarningsAsErrors != nil && *m.Build.WarningsAsErrors {
		args = append(args, "-Werror")
	}

	for _, dir := range sourceset.ResolveIncludeDirs(t.target, opts.ProjectDir) {
		args = append(args, "-I", dir)
	}

	defineKeys := make([]string, 0, len(t.target.Defines))
	for k := range t.target.Defines {
		defineKeys = append(defineKeys, k)
	}
	sort.Strings(defineKeys)
	for _, k := range defineKeys {
		v := t.target.Defines[k]
		if v == "" {
			args = append(args, "-D"+k)
		} else {
			args = append(args, "-D"+k+"="+v)
		}
	}

	args = append(args, t.target.ExtraFlags...)

	if opts.Configuration == "release" {
		args = append(args, "-DNDEBUG")
	} else {
		args = append(args, "-D_DEBUG")
	}

	if t.target.Kind == manifest.KindShared {
		args = append(args, "-fPIC")
	}

	args = append(args, m.Build.ExtraFlags...)

	return args
}

func isCxxSource(path string) bool {
	return cxxExtensions[strings.ToLower(filepath.Ext(path))]
}
