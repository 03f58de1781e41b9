// Package depmgr fetches third-party dependencies declared under
// [dependencies] in the manifest: git clones, archive downloads and
// post-fetch source patches. It is a collaborator deliberately kept out of
// the core build engine's critical path — resolution only happens when the
// CLI's `deps fetch` subcommand runs, never as part of Build. Grounded on
// the teacher build tool's internal/builder/dep.go (fetchDependency,
// cloneGitRepo, downloadAndExtractArchive, unzip/untar) and config.go's
// ConfigEnv.Patch for diff-based post-fetch patching.
package depmgr

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
)

var shortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

var errNoSource = errors.New("dependency has no source or git shortcut")

// VendorDir returns the directory a dependency named name is fetched into,
// rooted under the project's build directory so vendored sources never
// collide with user source trees.
func VendorDir(projectDir, name string) string {
	return filepath.Join(projectDir, "build", "_deps", name)
}

// FetchAll resolves every [dependencies] entry in m into
// <project_dir>/build/_deps/<name>, applying each entry's Patch, if any,
// after the fetch completes.
func FetchAll(m *manifest.Manifest, projectDir string) error {
	for name, dep := range m.Dependencies {
		dest := VendorDir(projectDir, name)
		if err := Fetch(name, dep, dest); err != nil {
			return err
		}
	}
	return nil
}

// Fetch resolves a single dependency into dest, which is created fresh
// (any prior contents are wiped) so repeated fetches are idempotent.
func Fetch(name string, dep manifest.Dependency, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return &cbuilderr.IOError{Op: "clear vendor dir for " + name, Cause: err}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &cbuilderr.IOError{Op: "create vendor dir for " + name, Cause: err}
	}

	source := dep.Source
	if source == "" {
		return &cbuilderr.DependencyError{Message: fmt.Sprintf("%s: %v", name, errNoSource)}
	}

	for prefix, base := range shortcuts {
		if strings.HasPrefix(source, prefix) {
			source = base + strings.TrimPrefix(source, prefix)
			break
		}
	}

	var err error
	if isGitSource(source) {
		err = cloneGit(source, dep, dest)
	} else if isURL(source) {
		err = downloadArchive(source, dest)
	} else {
		err = copyLocalPath(source, dest)
	}
	if err != nil {
		return &cbuilderr.DependencyError{Message: fmt.Sprintf("fetch %s", name), Cause: err}
	}

	if dep.Patch != "" {
		if err := applyPatch(dest, dep.Patch); err != nil {
			return &cbuilderr.DependencyError{Message: fmt.Sprintf("patch %s", name), Cause: err}
		}
	}

	return nil
}

func isGitSource(source string) bool {
	return strings.HasSuffix(source, ".git") || strings.HasPrefix(source, "git:")
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// cloneGit clones dep.Source into dest. A Tag is resolved to an exact
// revision via ResolveRevision and checked out detached; a Branch is
// fetched as a single branch head. The two are never conflated: a manifest
// naming both fetches the branch, then checks out the tag's revision within
// it, matching "tag pins a commit, branch pins a moving head" semantics.
func cloneGit(source string, dep manifest.Dependency, dest string) error {
	source = strings.TrimPrefix(source, "git:")

	opts := &git.CloneOptions{
		URL:      source,
		Progress: &msg.IndentWriter{Indent: "    ", W: os.Stdout},
	}
	if dep.Tag == "" && dep.Branch == "" {
		opts.Depth = 1
	}
	if dep.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(dep.Branch)
		opts.SingleBranch = true
	}

	fmt.Printf("  fetching %s\n", source)
	repo, err := git.PlainClone(dest, opts)
	if err != nil {
		return fmt.Errorf("clone %s: %w", source, err)
	}

	if dep.Tag == "" {
		return nil
	}

	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(dep.Tag))
	if err != nil {
		return fmt.Errorf("resolve tag %q: %w", dep.Tag, err)
	}
	if err := w.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout tag %q: %w", dep.Tag, err)
	}
	return nil
}

func copyLocalPath(source, dest string) error {
	return filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func downloadArchive(downloadURL, dest string) error {
	fmt.Printf("  fetching %s\n", downloadURL)

	resp, err := http.Get(downloadURL)
	if err != nil {
		return fmt.Errorf("download %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", downloadURL, resp.StatusCode)
	}

	tmpName := filepath.Join(os.TempDir(), "cbuild-dep-"+uuid.NewString())
	tmp, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmpName)

	pb := &msg.ProgressBar{Total: resp.ContentLength, Indent: 4, W: os.Stdout, Start: time.Now()}
	if _, err := io.Copy(io.MultiWriter(tmp, pb), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}
	pb.Finish()

	format, err := detectArchiveFormat(tmpName, resp, downloadURL)
	if err != nil {
		return err
	}

	switch format {
	case "zip":
		return unzip(tmpName, dest)
	case "tar.gz":
		return untar(tmpName, dest)
	default:
		return fmt.Errorf("unsupported archive format for %s", downloadURL)
	}
}

func detectArchiveFormat(path string, resp *http.Response, originalURL string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := f.Read(header); err != nil && err != io.EOF {
		return "", err
	}
	if bytes.Equal(header, []byte{0x50, 0x4b, 0x03, 0x04}) {
		return "zip", nil
	}
	if bytes.Equal(header[:2], []byte{0x1f, 0x8b}) {
		return "tar.gz", nil
	}

	switch resp.Header.Get("Content-Type") {
	case "application/zip", "application/x-zip-compressed":
		return "zip", nil
	case "application/gzip", "application/x-gzip", "application/x-tar":
		return "tar.gz", nil
	}

	u, err := url.Parse(originalURL)
	if err == nil {
		switch {
		case strings.HasSuffix(u.Path, ".zip"):
			return "zip", nil
		case strings.HasSuffix(u.Path, ".tgz"), strings.HasSuffix(u.Path, ".tar.gz"):
			return "tar.gz", nil
		}
	}

	return "", errors.New("unknown or unsupported archive format")
}

func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(fpath, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path: %s", fpath)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}

		out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untar(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path: %s", target)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return err
			}
		}
	}
}

// applyPatch interprets dep.Patch as "<relative-file-path>\n<patch text>",
// splitting on the first newline, where the patch text is in diffmatchpatch's
// own format (as produced by PatchToText), and applies it in place with
// diffmatchpatch. A patch that fails to apply cleanly against the fetched
// source is reported, not silently ignored.
func applyPatch(dest, patchSpec string) error {
	parts := strings.SplitN(patchSpec, "\n", 2)
	if len(parts) != 2 {
		return fmt.Errorf("patch spec must be \"<path>\\n<diff>\"")
	}
	relPath, diffText := parts[0], parts[1]

	fullPath := filepath.Join(dest, relPath)
	if !strings.HasPrefix(fullPath, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("patch target %q escapes vendor directory", relPath)
	}

	original, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("read patch target: %w", err)
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(diffText)
	if err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}

	patched, results := dmp.PatchApply(patches, string(original))
	for _, ok := range results {
		if !ok {
			return fmt.Errorf("patch did not apply cleanly to %s", relPath)
		}
	}

	return os.WriteFile(fullPath, []byte(patched), 0o644)
}
