// Package sourceset expands each target's glob patterns into concrete,
// absolute source-file paths, grounded on the teacher build tool's
// Builder.collectFiles.
package sourceset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
	"github.com/cbuild-dev/cbuild/internal/manifest"
)

// ResolvedSources maps a target key to its ordered, non-deduplicated list of
// absolute source-file paths.
type ResolvedSources map[string][]string

// Resolve expands every target's source globs relative to projectDir.
// A target whose patterns match nothing across the whole target fails the
// build with NoSourceFilesError.
func Resolve(m *manifest.Manifest, projectDir string) (ResolvedSources, error) {
	out := make(ResolvedSources, len(m.Targets))
	fsys := os.DirFS(projectDir)

	for _, t := range m.Targets {
		key := t.Key()
		var files []string

		for _, pattern := range t.Sources {
			if filepath.IsAbs(pattern) {
				matches, err := globAbsolute(pattern)
				if err != nil {
					return nil, &cbuilderr.PathError{Message: "pattern " + pattern, Cause: err}
				}
				files = append(files, matches...)
				continue
			}

			matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, &cbuilderr.PathError{Message: "pattern " + pattern, Cause: err}
			}
			for _, match := range matches {
				files = append(files, filepath.Join(projectDir, match))
			}
		}

		if len(files) == 0 {
			return nil, &cbuilderr.NoSourceFilesError{TargetKey: key}
		}

		out[key] = files
	}

	return out, nil
}

// globAbsolute expands a wildcard pattern that is already absolute, without
// joining it against projectDir. doublestar only walks an fs.FS rooted at a
// directory, so the pattern's volume/root is used as that root and the
// pattern is made relative to it before matching; results are rejoined onto
// the same root.
func globAbsolute(pattern string) ([]string, error) {
	root := filepath.VolumeName(pattern) + string(filepath.Separator)
	rel := strings.TrimPrefix(filepath.ToSlash(pattern), filepath.ToSlash(root))

	matches, err := doublestar.Glob(os.DirFS(root), rel, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(root, m)
	}
	return out, nil
}

// ResolveIncludeDirs resolves a target's include directories to absolute
// paths, joining relative ones against projectDir.
func ResolveIncludeDirs(t manifest.ResolvedTarget, projectDir string) []string {
	dirs := make([]string, len(t.IncludeDirs))
	for i, d := range t.IncludeDirs {
		if filepath.IsAbs(d) {
			dirs[i] = d
		} else {
			dirs[i] = filepath.Join(projectDir, d)
		}
	}
	return dirs
}

// ResolveLinkDirs resolves a target's link-search directories to absolute
// paths the same way ResolveIncludeDirs does.
func ResolveLinkDirs(t manifest.ResolvedTarget, projectDir string) []string {
	dirs := make([]string, len(t.LinkDirs))
	for i, d := range t.LinkDirs {
		if filepath.IsAbs(d) {
			dirs[i] = d
		} else {
			dirs[i] = filepath.Join(projectDir, d)
		}
	}
	return dirs
}
