// Package runner launches a built artifact with the shared-library search
// path populated so freshly linked intra-project shared libraries resolve
// without installation. Out of scope for the core build engine; invoked
// only by the CLI's run/test subcommands.
package runner

import (
	"context"
	"os"
	"os/exec"
	"runtime"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
)

// Run execs artifactPath with args, streaming its stdio through to the
// current process, after prepending libDir to the platform's shared-library
// search path environment variable.
func Run(ctx context.Context, artifactPath string, args []string, libDir string) (int, error) {
	cmd := exec.CommandContext(ctx, artifactPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), libraryPathEnv(libDir)...)

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return 1, &cbuilderr.IOError{Op: "exec " + artifactPath, Cause: err}
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// libraryPathEnv returns the environment variable assignment(s) that make
// libDir visible to the dynamic loader for this platform, prepended to
// whatever the variable already held.
func libraryPathEnv(libDir string) []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{prepend("DYLD_LIBRARY_PATH", libDir)}
	case "windows":
		return []string{prepend("PATH", libDir)}
	default:
		return []string{prepend("LD_LIBRARY_PATH", libDir)}
	}
}

func prepend(key, dir string) string {
	existing := os.Getenv(key)
	sep := string(os.PathListSeparator)
	if existing == "" {
		return key + "=" + dir
	}
	return key + "=" + dir + sep + existing
}
