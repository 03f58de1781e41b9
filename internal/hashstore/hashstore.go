// Package hashstore persists and compares per-file content hashes across
// runs, driving incremental-rebuild change detection. Grounded on the
// teacher build tool's QobsBuilder.fileHash/BuildState, generalized from
// per-target build state to a single flat hash map as spec.md §3/§4.3
// requires.
package hashstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
	"github.com/cbuild-dev/cbuild/internal/sourceset"
)

const fileName = "file_hashes.json"

// Path returns the hash-store file path for a build directory.
func Path(buildDir string) string {
	return filepath.Join(buildDir, fileName)
}

// Load reads the previous hash map from disk; a missing file yields an
// empty map, not an error.
func Load(buildDir string) (map[string]string, error) {
	f, err := os.Open(Path(buildDir))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, &cbuilderr.IOError{Op: "open hash store", Cause: err}
	}
	defer f.Close()

	var hashes map[string]string
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&hashes); err != nil {
		return nil, &cbuilderr.IOError{Op: "decode hash store", Cause: err}
	}
	return hashes, nil
}

// Persist atomically rewrites the hash-store file with hashes, replacing any
// previous content wholesale (no merge).
func Persist(buildDir string, hashes map[string]string) error {
	data, err := json.Marshal(hashes)
	if err != nil {
		return &cbuilderr.IOError{Op: "encode hash store", Cause: err}
	}

	tmp, err := os.CreateTemp(buildDir, ".file_hashes-*.tmp")
	if err != nil {
		return &cbuilderr.IOError{Op: "create temp hash store", Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &cbuilderr.IOError{Op: "write temp hash store", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &cbuilderr.IOError{Op: "close temp hash store", Cause: err}
	}

	if err := os.Rename(tmpPath, Path(buildDir)); err != nil {
		os.Remove(tmpPath)
		return &cbuilderr.IOError{Op: "rename hash store", Cause: err}
	}
	return nil
}

// HashFile computes the lowercase hex SHA-256 of a file's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &cbuilderr.IOError{Op: "open source for hashing", Cause: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &cbuilderr.IOError{Op: "hash source", Cause: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Result is the outcome of a single change-detection pass: the changed
// subset per target, the freshly computed hash of every resolved source, and
// the hash map that was on disk before this run (needed to re-freeze the
// hash of a source whose recompile subsequently fails).
type Result struct {
	Changed  sourceset.ResolvedSources
	New      map[string]string
	Previous map[string]string
}

// Detect computes content hashes for every resolved source and determines
// the per-target subset that changed since the last recorded run. It does
// NOT persist anything — per spec.md §3, the store is only rewritten after
// the compile phase completes, via Finalize. If incremental is false, every
// resolved source is reported as changed.
//
// Targets with no changed files are omitted from Result.Changed.
func Detect(buildDir string, sources sourceset.ResolvedSources, incremental bool) (*Result, error) {
	previous, err := Load(buildDir)
	if err != nil {
		return nil, err
	}

	newHashes := make(map[string]string)
	changed := make(sourceset.ResolvedSources)

	for target, files := range sources {
		var changedFiles []string
		for _, file := range files {
			hash, err := HashFile(file)
			if err != nil {
				return nil, err
			}
			newHashes[file] = hash

			prev, existed := previous[file]
			if !incremental || !existed || prev != hash {
				changedFiles = append(changedFiles, file)
			}
		}
		if len(changedFiles) > 0 {
			changed[target] = changedFiles
		}
	}

	return &Result{Changed: changed, New: newHashes, Previous: previous}, nil
}

// Finalize persists the complete post-compile hash map. For every source
// whose compile task failed, the freshly computed hash is replaced by
// whatever was previously on record (or dropped entirely if there was none)
// so the next incremental run still considers it changed and retries it —
// resolving the open question in spec.md §9 in favor of (a): a failed
// compile must not be memoized as up to date.
func (r *Result) Finalize(buildDir string, failed map[string]bool) error {
	final := make(map[string]string, len(r.New))
	for path, hash := range r.New {
		final[path] = hash
	}
	for path := range failed {
		if prev, ok := r.Previous[path]; ok {
			final[path] = prev
		} else {
			delete(final, path)
		}
	}
	return Persist(buildDir, final)
}
