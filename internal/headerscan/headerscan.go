// Package headerscan extracts quoted #include directives from a single
// source file for informational display. It is explicitly not on the
// critical path: nothing in the core build engine consults it, and it
// never recurses into the headers it finds. It exists only to back the
// CLI's informational `graph` subcommand.
package headerscan

import (
	"bufio"
	"os"
	"regexp"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
)

var includeRegexp = regexp.MustCompile(`^\s*#\s*include\s*"([^"]+)"`)

// QuotedIncludes returns the quoted-include targets of path, in file order,
// deduplicated while preserving first occurrence. Angle-bracket includes
// (system headers) are intentionally excluded.
func QuotedIncludes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &cbuilderr.IOError{Op: "open source for header scan", Cause: err}
	}
	defer f.Close()

	seen := make(map[string]bool)
	var includes []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := includeRegexp.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			includes = append(includes, m[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &cbuilderr.IOError{Op: "scan source for header scan", Cause: err}
	}

	return includes, nil
}

// Graph maps every resolved source path to its directly quoted includes.
// Non-recursive: headers found are not themselves scanned.
func Graph(sources []string) (map[string][]string, error) {
	graph := make(map[string][]string, len(sources))
	for _, src := range sources {
		includes, err := QuotedIncludes(src)
		if err != nil {
			return nil, err
		}
		graph[src] = includes
	}
	return graph, nil
}
