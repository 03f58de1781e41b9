// Package msg provides the colorized terminal messages the orchestrator,
// compiler and linker phases emit (compiling/linking progress, link
// warnings, fatal config errors) plus the writers the dependency manager
// prints through: an indenting writer for git clone progress and a
// throbber-style progress bar for dependency archive downloads.
package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Error reports a recoverable phase failure (a compile or link error already
// aggregated by its caller); it does not exit the process.
func Error(format string, a ...any) {
	fmt.Fprintf(os.Stdout, "%s: %s\n", color.HiRedString("error"), fmt.Sprintf(format, a...))
}

// Warn reports a non-fatal condition, such as a target with no surviving
// object files or a hash store that could not be persisted.
func Warn(format string, a ...any) {
	fmt.Fprintf(os.Stdout, "%s: %s\n", color.YellowString("warn"), fmt.Sprintf(format, a...))
}

// Fatal reports an unrecoverable error and terminates the process.
func Fatal(format string, a ...any) {
	fmt.Fprintf(os.Stdout, "%s: %s\n", color.RedString("fatal"), fmt.Sprintf(format, a...))
	os.Exit(1)
}

// Info reports normal build progress: compiler detection, task counts,
// link results, timing summaries.
func Info(format string, a ...any) {
	fmt.Fprintf(os.Stdout, "%s: %s\n", color.HiGreenString("info"), fmt.Sprintf(format, a...))
}

// IndentWriter prefixes every line written to it with Indent, used to nest
// a git clone's progress output under the "fetching <source>" line that
// triggered it.
type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	for _, c := range p {
		if !w.didIndent {
			w.W.Write([]byte(w.Indent))
			w.didIndent = true
		}
		w.W.Write([]byte{c}) // TODO: buffer instead of writing byte-by-byte
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	return len(p), nil
}
